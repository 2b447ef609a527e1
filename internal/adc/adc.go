// Package adc samples analog voltages: the valve driver's storage capacitor
// and the battery. The real implementation reads an ADS1115 over I²C.
package adc

// Sampler returns one oversampled voltage reading.
type Sampler interface {
	Millivolts() (int, error)
}
