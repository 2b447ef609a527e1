//go:build linux

package gpio

import (
	"fmt"
	"log"

	"github.com/warthog618/go-gpiocdev"
)

// RealOutputs drives the valve driver from actual hardware.
type RealOutputs struct {
	chip  *gpiocdev.Chip
	lines map[Line]*gpiocdev.Line
}

// NewRealOutputs requests the driver lines, all inactive. With openDrain the
// open and capacitor lines are active-low open-drain, as the capacitor driver
// needs; otherwise every line is push-pull active high (H-bridge).
func NewRealOutputs(chipName string, pins Pins, openDrain bool) (*RealOutputs, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	o := &RealOutputs{chip: chip, lines: make(map[Line]*gpiocdev.Line)}
	sink := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if openDrain {
		sink = append(sink, gpiocdev.AsActiveLow, gpiocdev.AsOpenDrain)
	}
	request := []struct {
		line   Line
		offset int
		opts   []gpiocdev.LineReqOption
	}{
		{LineClose, pins.Close, []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}},
		{LineOpen, pins.Open, sink},
		{LineCapacitor, pins.Capacitor, sink},
		{LineGenerator, pins.Generator, []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}},
	}
	for _, r := range request {
		l, err := chip.RequestLine(r.offset, r.opts...)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", r.line, r.offset, err)
		}
		o.lines[r.line] = l
	}
	return o, nil
}

// Set asserts or releases a line.
func (o *RealOutputs) Set(line Line, active bool) {
	l, ok := o.lines[line]
	if !ok {
		log.Printf("gpio: %s not requested", line)
		return
	}
	v := 0
	if active {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		log.Printf("gpio: set %s=%d: %v", line, v, err)
	}
}

// Close releases all lines. Each line is driven inactive and then
// reconfigured as input with pull-down to match Pi boot defaults, so the
// driver stays off while the process is not running.
func (o *RealOutputs) Close() error {
	var errs []error

	for line, l := range o.lines {
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", line, err))
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", line, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", line, err))
		}
	}
	o.lines = nil
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealButton reads the wake button from actual hardware.
type RealButton struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealButton requests the button line. The button shorts the line to
// ground, so it is read with pull-up as active low.
func NewRealButton(chipName string, pin int) (*RealButton, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.AsActiveLow)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pin %d: %w", pin, err)
	}

	return &RealButton{chip: chip, line: line}, nil
}

// Pressed returns the logical button state.
func (b *RealButton) Pressed() (bool, error) {
	v, err := b.line.Value()
	if err != nil {
		return false, fmt.Errorf("read button pin: %w", err)
	}
	return v == 1, nil
}

// Close releases GPIO resources.
func (b *RealButton) Close() error {
	var errs []error

	if b.line != nil {
		if err := b.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pin: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
