// Package valve actuates the latching solenoid valve and classifies the
// outcome of every pulse.
//
// Drivers update the valve fields of the persistent state: ValveOpen,
// ValveOpenTime, TotalOpenCount, TotalOpenDuration, ValveResistance,
// ValveSupplyVoltage and LastValveStatus. A pulse cannot be interrupted;
// Open and Close block until the sequence is complete.
package valve

import (
	"time"

	"github.com/sweeney/valve-sleeper/internal/state"
)

// Driver operates the valve. now is the estimated epoch time in ms.
type Driver interface {
	Open(st *state.PersistentState, now uint64)
	Close(st *state.PersistentState, now uint64)

	// Shutdown returns the outputs to their passive state. It is called last
	// before sleeping.
	Shutdown()
}

// Timer provides the microsecond clock and blocking delays of a pulse
// sequence.
type Timer interface {
	Micros() uint64
	Delay(d time.Duration)
}

// SystemTimer is a Timer on the monotonic system clock.
type SystemTimer struct {
	start time.Time
}

// NewSystemTimer returns a Timer counting from now.
func NewSystemTimer() *SystemTimer {
	return &SystemTimer{start: time.Now()}
}

// Micros returns the microseconds since the timer was created.
func (t *SystemTimer) Micros() uint64 {
	return uint64(time.Since(t.start).Microseconds())
}

// Delay blocks for d. Delays below a millisecond spin, since the scheduler
// cannot wake a sleeping goroutine that precisely.
func (t *SystemTimer) Delay(d time.Duration) {
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	end := time.Now().Add(d)
	for time.Now().Before(end) {
	}
}

// Params are the electrical constants of the valve and its driver.
type Params struct {
	Capacitance float64 // F
	RCConstant  float64 // s, capacitor discharging through valve and series resistor

	NominalSupply   int // mV, lowest acceptable step-up converter output
	TypicalSupply   int // mV, assumed while the supply voltage is unknown
	MaxValidSupply  int // mV
	ChargeTolerance int // mV below supply still counted as fully charged

	MaxOpenStartVoltage int // mV, capacitor must be discharged below this before opening
	MaxCloseVoltage     int // mV, capacitor must be discharged below this after closing

	MaxDischargeTimeout time.Duration
	RechargeTimeout     time.Duration
	OpenPulse           time.Duration
	ClosePulse          time.Duration
	SampleInterval      time.Duration

	MinResistance int // ohm
	MaxResistance int // ohm, used when no maximum is configured remotely
}

// DefaultParams returns the constants for a Gardena 1251 valve on a 9 V
// step-up converter with a 470 µF capacitor.
func DefaultParams() Params {
	return Params{
		Capacitance:         470e-6,
		RCConstant:          0.032,
		NominalSupply:       8500,
		TypicalSupply:       9000,
		MaxValidSupply:      9800,
		ChargeTolerance:     300,
		MaxOpenStartVoltage: 1000,
		MaxCloseVoltage:     2000,
		MaxDischargeTimeout: 500 * time.Millisecond,
		RechargeTimeout:     150 * time.Millisecond,
		OpenPulse:           250 * time.Millisecond,
		ClosePulse:          62500 * time.Microsecond,
		SampleInterval:      250 * time.Microsecond,
		MinResistance:       25,
		MaxResistance:       75,
	}
}

// markOpened records a successful or attempted open.
func markOpened(st *state.PersistentState, now uint64) {
	if !st.ValveOpen {
		st.ValveOpen = true
		st.TotalOpenCount++
	}
	st.ValveOpenTime = now
}

// markClosed records a close and accumulates the open duration in seconds.
// A valve that was never opened (fresh record) adds nothing.
func markClosed(st *state.PersistentState, now uint64) {
	wasOpen := st.ValveOpen
	st.ValveOpen = false
	if wasOpen && st.ValveOpenTime > 0 && now > st.ValveOpenTime {
		st.TotalOpenDuration += uint32((now - st.ValveOpenTime) / 1000)
	}
}
