package gpio

import "errors"

// Event is one recorded line change.
type Event struct {
	Line   Line
	Active bool
}

// FakeOutputs is a test double that records line changes.
type FakeOutputs struct {
	// Events lists every Set call in order.
	Events []Event

	// OnSet, if set, is called after each change is recorded. Simulations
	// use it to react to the driver.
	OnSet func(line Line, active bool)

	// Closed tracks if Close was called
	Closed bool

	state map[Line]bool
}

// NewFakeOutputs creates a FakeOutputs with every line inactive.
func NewFakeOutputs() *FakeOutputs {
	return &FakeOutputs{state: make(map[Line]bool)}
}

// Set records the change.
func (f *FakeOutputs) Set(line Line, active bool) {
	if f.state == nil {
		f.state = make(map[Line]bool)
	}
	f.state[line] = active
	f.Events = append(f.Events, Event{Line: line, Active: active})
	if f.OnSet != nil {
		f.OnSet(line, active)
	}
}

// Active returns the current level of a line.
func (f *FakeOutputs) Active(line Line) bool {
	return f.state[line]
}

// Close marks the outputs as closed and releases every line.
func (f *FakeOutputs) Close() error {
	f.Closed = true
	for line := range f.state {
		f.state[line] = false
	}
	return nil
}

// Reset clears recorded events.
func (f *FakeOutputs) Reset() {
	f.Events = nil
}

// FakeButton is a test double that returns scripted button states.
type FakeButton struct {
	// Samples contains scripted states to return.
	// Each call to Pressed() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Pressed()
	ReadError error
}

// NewFakeButton creates a FakeButton with the given samples.
func NewFakeButton(samples ...bool) *FakeButton {
	return &FakeButton{Samples: samples}
}

// Pressed returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeButton) Pressed() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Close marks the button as closed.
func (f *FakeButton) Close() error {
	f.Closed = true
	return nil
}
