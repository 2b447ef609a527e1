// Package gpio drives the valve driver output lines and reads the wake
// button. The real implementation uses the Linux GPIO character device.
// The fake implementation records line changes for tests.
package gpio

import "fmt"

// Line names a driver output.
type Line int

const (
	// LineClose switches the capacitor to discharge through the valve
	// (closing direction). On the H-bridge driver it selects the direction.
	LineClose Line = iota
	// LineOpen charges the capacitor through the valve (opening direction).
	// On the H-bridge driver it enables the bridge.
	LineOpen
	// LineCapacitor charges the capacitor bypassing the valve.
	LineCapacitor
	// LineGenerator powers the step-up converter.
	LineGenerator
)

func (l Line) String() string {
	switch l {
	case LineClose:
		return "close"
	case LineOpen:
		return "open"
	case LineCapacitor:
		return "capacitor"
	case LineGenerator:
		return "generator"
	default:
		return fmt.Sprintf("line(%d)", int(l))
	}
}

// Outputs asserts driver lines. Set takes logical levels (true = active);
// failures are logged by the implementation, not returned, because a pulse
// sequence cannot be meaningfully resumed halfway.
type Outputs interface {
	Set(line Line, active bool)

	// Close releases GPIO resources, leaving every line inactive.
	Close() error
}

// Button reads the user wake button.
type Button interface {
	// Pressed returns the logical button state (true = pressed).
	Pressed() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Pins holds line offsets (BCM numbering).
type Pins struct {
	Close     int
	Open      int
	Capacitor int
	Generator int
	Button    int
}

// DefaultPins returns the default wiring.
func DefaultPins() Pins {
	return Pins{
		Close:     17,
		Open:      27,
		Capacitor: 22,
		Generator: 23,
		Button:    24,
	}
}
