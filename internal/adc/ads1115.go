package adc

import (
	"errors"
	"fmt"
	"math"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// fullScale is the converter input range; inputs above it go through a
// resistive divider whose ratio is given per channel.
const fullScale = 4096 * physic.MilliVolt

// Converter is an ADS1115 on an I²C bus.
type Converter struct {
	bus i2c.BusCloser
	dev *ads1x15.Dev
}

// Open initializes the host drivers and the converter. An empty bus name
// selects the default bus; a zero address the default address.
func Open(busName string, addr uint16) (*Converter, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	opts := ads1x15.DefaultOpts
	if addr != 0 {
		opts.I2cAddress = addr
	}
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("open ads1115: %w", err)
	}
	return &Converter{bus: bus, dev: dev}, nil
}

// Channel returns a sampler for a single-ended input (0-3). Each reading is
// the mean of oversample conversions, scaled by the divider ratio.
func (c *Converter) Channel(input int, ratio float64, oversample int) (*Pin, error) {
	var ch ads1x15.Channel
	switch input {
	case 0:
		ch = ads1x15.Channel0
	case 1:
		ch = ads1x15.Channel1
	case 2:
		ch = ads1x15.Channel2
	case 3:
		ch = ads1x15.Channel3
	default:
		return nil, fmt.Errorf("adc: invalid input %d", input)
	}
	if ratio <= 0 {
		return nil, fmt.Errorf("adc: invalid divider ratio %v", ratio)
	}
	if oversample < 1 {
		oversample = 1
	}

	pin, err := c.dev.PinForChannel(ch, fullScale, 860*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		return nil, fmt.Errorf("adc: input %d: %w", input, err)
	}
	return &Pin{pin: pin, ratio: ratio, oversample: oversample}, nil
}

// Close halts the converter and releases the bus.
func (c *Converter) Close() error {
	var errs []error
	if err := c.dev.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt ads1115: %w", err))
	}
	if err := c.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close i2c bus: %w", err))
	}
	return errors.Join(errs...)
}

// Pin samples one converter input.
type Pin struct {
	pin        ads1x15.PinADC
	ratio      float64
	oversample int
}

// Millivolts returns the averaged input voltage in mV.
func (p *Pin) Millivolts() (int, error) {
	var sum float64
	for i := 0; i < p.oversample; i++ {
		s, err := p.pin.Read()
		if err != nil {
			return 0, fmt.Errorf("adc: read: %w", err)
		}
		sum += float64(s.V) / float64(physic.MilliVolt)
	}
	return int(math.Round(sum * p.ratio / float64(p.oversample))), nil
}

// Close stops the pin.
func (p *Pin) Close() error {
	return p.pin.Halt()
}
