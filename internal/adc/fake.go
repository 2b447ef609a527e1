package adc

import "errors"

// FakeSampler is a test double that returns scripted readings.
type FakeSampler struct {
	// Samples contains scripted millivolt values.
	// Each call to Millivolts() consumes the next sample.
	Samples []int

	index int

	// Reads counts calls to Millivolts.
	Reads int

	// ReadError, if set, will be returned by Millivolts()
	ReadError error
}

// NewFakeSampler creates a FakeSampler with the given samples.
func NewFakeSampler(samples ...int) *FakeSampler {
	return &FakeSampler{Samples: samples}
}

// Millivolts returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeSampler) Millivolts() (int, error) {
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Samples) == 0 {
		return 0, errors.New("no samples configured")
	}

	v := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return v, nil
}
