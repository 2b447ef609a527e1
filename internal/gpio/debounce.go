package gpio

import "time"

// Debouncer turns raw button samples into debounced presses. A level must
// hold for the debounce duration before it becomes stable. The first stable
// level is the baseline and never counts as a press, so a button held at
// startup is not reported.
type Debouncer struct {
	debounce time.Duration

	stable       bool
	baselined    bool
	pending      bool
	hasPending   bool
	pendingSince time.Time
}

// NewDebouncer creates a Debouncer with the given debounce duration.
func NewDebouncer(debounce time.Duration) *Debouncer {
	return &Debouncer{debounce: debounce}
}

// Process takes a sample and reports whether it completes a press.
func (d *Debouncer) Process(pressed bool, now time.Time) bool {
	if d.baselined && pressed == d.stable {
		d.hasPending = false
		return false
	}

	if !d.hasPending || d.pending != pressed {
		d.pending = pressed
		d.hasPending = true
		d.pendingSince = now
		if d.debounce > 0 {
			return false
		}
	}

	if now.Sub(d.pendingSince) < d.debounce {
		return false
	}

	d.hasPending = false
	if !d.baselined {
		d.stable = pressed
		d.baselined = true
		return false
	}
	d.stable = pressed
	return pressed
}
