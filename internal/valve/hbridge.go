package valve

import (
	"log"
	"time"

	"github.com/sweeney/valve-sleeper/internal/gpio"
	"github.com/sweeney/valve-sleeper/internal/state"
)

// HBridgeDriver pulses the valve through an H-bridge. LineClose selects the
// direction and LineOpen enables the bridge. There is no sensing, so every
// completed pulse counts as OK.
type HBridgeDriver struct {
	out    gpio.Outputs
	timer  Timer
	params Params
}

// NewHBridgeDriver creates an HBridgeDriver.
func NewHBridgeDriver(out gpio.Outputs, timer Timer, params Params) *HBridgeDriver {
	return &HBridgeDriver{out: out, timer: timer, params: params}
}

// Open drives the open pulse.
func (d *HBridgeDriver) Open(st *state.PersistentState, now uint64) {
	d.pulse(false, d.params.OpenPulse)
	markOpened(st, now)
	st.LastValveStatus = state.StatusOK
	log.Printf("valve: opened")
}

// Close drives the close pulse.
func (d *HBridgeDriver) Close(st *state.PersistentState, now uint64) {
	d.pulse(true, d.params.ClosePulse)
	markClosed(st, now)
	st.LastValveStatus = state.StatusOK
	log.Printf("valve: closed")
}

// Shutdown releases all lines.
func (d *HBridgeDriver) Shutdown() {
	d.out.Set(gpio.LineOpen, false)
	d.out.Set(gpio.LineGenerator, false)
	d.out.Set(gpio.LineClose, false)
}

func (d *HBridgeDriver) pulse(closing bool, width time.Duration) {
	// let the converter settle with the direction preset
	d.out.Set(gpio.LineGenerator, true)
	d.out.Set(gpio.LineClose, closing)
	d.timer.Delay(5 * time.Millisecond)

	d.out.Set(gpio.LineOpen, true)
	d.timer.Delay(width)

	// short the coil before going passive
	d.out.Set(gpio.LineOpen, false)
	d.timer.Delay(time.Millisecond)

	d.Shutdown()
}
