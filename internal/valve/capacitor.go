package valve

import (
	"log"
	"math"
	"time"

	"github.com/sweeney/valve-sleeper/internal/adc"
	"github.com/sweeney/valve-sleeper/internal/gpio"
	"github.com/sweeney/valve-sleeper/internal/state"
)

// CapacitorDriver pulses the valve from a storage capacitor fed by a step-up
// converter and senses the capacitor voltage to classify the result.
//
// Opening charges the capacitor through the valve coil; closing discharges
// it through the coil in the opposite direction. The charging curve gives
// the coil resistance, the voltages after each pulse reveal wiring and
// supply faults.
type CapacitorDriver struct {
	out    gpio.Outputs
	adc    adc.Sampler
	timer  Timer
	params Params

	last int // last good sample, mV
}

// NewCapacitorDriver creates a CapacitorDriver.
func NewCapacitorDriver(out gpio.Outputs, sampler adc.Sampler, timer Timer, params Params) *CapacitorDriver {
	return &CapacitorDriver{out: out, adc: sampler, timer: timer, params: params}
}

// Open discharges the capacitor, then charges it through the valve for the
// open pulse. A wiring or voltage fault is followed by a close attempt.
func (d *CapacitorDriver) Open(st *state.PersistentState, now uint64) {
	p := d.params

	// discharging through the valve also closes it if it is still open
	initial := d.sample()
	t0 := d.timer.Micros()
	d.out.Set(gpio.LineClose, true)
	d.out.Set(gpio.LineGenerator, true)

	timedOut := d.discharge(initial, t0)
	d.out.Set(gpio.LineClose, false)

	if timedOut {
		d.out.Set(gpio.LineGenerator, false)
		log.Printf("valve: not opened (bad wiring)")
		st.LastValveStatus = state.StatusBadWiring
		return
	}

	start := d.sample()
	t0 = d.timer.Micros()
	d.out.Set(gpio.LineOpen, true)

	supply := d.supplyEstimate(st)
	v := start
	resistance := 0
	var elapsed time.Duration
	for elapsed < p.OpenPulse {
		d.timer.Delay(p.SampleInterval)
		v = d.sample()
		elapsed = d.since(t0)
		if v > supply && v < p.MaxValidSupply {
			supply = v
			st.ValveSupplyVoltage = uint16(v)
		}
		if resistance == 0 && v >= p.NominalSupply && v < supply {
			resistance = d.resistance(elapsed, v, supply)
			log.Printf("valve: resistance %d ohm after %d us", resistance, elapsed.Microseconds())
		}
	}
	log.Printf("valve: charged %d -> %d mV @ %d mV in %d us", start, v, supply, elapsed.Microseconds())

	d.out.Set(gpio.LineOpen, false)
	d.out.Set(gpio.LineGenerator, false)

	markOpened(st, now)
	st.ValveResistance = uint16(resistance)

	switch {
	case resistance > 0 && !d.resistanceValid(st, resistance):
		log.Printf("valve: may be open (bad wiring, %d ohm), trying to close", resistance)
		d.closeAfterFault(st, now, state.StatusBadWiring)
	case v >= supply-p.ChargeTolerance:
		log.Printf("valve: opened")
		st.LastValveStatus = state.StatusOK
	default:
		log.Printf("valve: may be open (low voltage %d mV), trying to close", v)
		d.closeAfterFault(st, now, state.StatusLowOpenVoltage)
	}
}

// Close recharges the capacitor bypassing the valve, then discharges it
// through the valve for the close pulse. The close line stays asserted until
// Shutdown so the capacitor keeps discharging.
func (d *CapacitorDriver) Close(st *state.PersistentState, now uint64) {
	p := d.params

	d.out.Set(gpio.LineGenerator, true)
	d.timer.Delay(time.Millisecond)

	d.out.Set(gpio.LineCapacitor, true)
	initial := d.sample()
	t0 := d.timer.Micros()

	detect := int(st.ValveSupplyVoltage) < p.NominalSupply || int(st.ValveSupplyVoltage) > p.MaxValidSupply
	required, timeout := p.NominalSupply, p.RechargeTimeout
	if detect {
		// charge as far as possible and take the plateau as supply voltage
		required, timeout = p.MaxValidSupply, 2*p.RechargeTimeout
	}

	v := initial
	timedOut := false
	if initial < required {
		var elapsed time.Duration
		for {
			d.timer.Delay(p.SampleInterval)
			v = d.sample()
			elapsed = d.since(t0)
			if !detect && v > required {
				break
			}
			if elapsed >= timeout {
				timedOut = true
				break
			}
		}
		log.Printf("valve: charged %d -> %d mV in %d us", initial, v, elapsed.Microseconds())
	} else {
		log.Printf("valve: no charging needed at %d mV", initial)
	}

	if detect {
		if v > p.NominalSupply && v < p.MaxValidSupply {
			st.ValveSupplyVoltage = uint16(v)
			log.Printf("valve: supply voltage %d mV", v)
			timedOut = false
		} else {
			log.Printf("valve: supply voltage out of valid range (%d mV)", v)
		}
	}

	d.out.Set(gpio.LineCapacitor, false)
	d.timer.Delay(20 * time.Microsecond)
	d.out.Set(gpio.LineGenerator, false)

	d.out.Set(gpio.LineClose, true)
	d.timer.Delay(p.ClosePulse)

	markClosed(st, now)

	closeVoltage := d.sample()
	switch {
	case timedOut:
		log.Printf("valve: probably not closed (low voltage, close at %d mV)", closeVoltage)
		st.LastValveStatus = state.StatusLowCloseVoltage
	case closeVoltage >= p.MaxCloseVoltage:
		log.Printf("valve: probably not closed (bad wiring, close at %d mV)", closeVoltage)
		st.LastValveStatus = state.StatusBadWiring
	default:
		log.Printf("valve: closed at %d mV", closeVoltage)
		st.LastValveStatus = state.StatusOK
	}
}

// Shutdown stops discharging the capacitor.
func (d *CapacitorDriver) Shutdown() {
	d.out.Set(gpio.LineClose, false)
}

// discharge waits until the capacitor is below the open start voltage. It
// reports true if that did not happen within the time the RC model allows.
func (d *CapacitorDriver) discharge(initial int, t0 uint64) bool {
	p := d.params
	target := p.MaxOpenStartVoltage
	if initial <= target {
		log.Printf("valve: no discharge needed at %d mV", initial)
		return false
	}

	timeout := time.Duration(-p.RCConstant * 1.2 * math.Log(float64(target)/float64(initial)) * float64(time.Second))
	if timeout > p.MaxDischargeTimeout {
		timeout = p.MaxDischargeTimeout
	}

	v := initial
	var elapsed time.Duration
	for {
		d.timer.Delay(p.SampleInterval)
		v = d.sample()
		elapsed = d.since(t0)
		if v <= target {
			log.Printf("valve: discharged %d -> %d mV in %d us", initial, v, elapsed.Microseconds())
			return false
		}
		if elapsed >= timeout {
			log.Printf("valve: discharge timeout at %d mV after %d us (limit %d us)", v, elapsed.Microseconds(), timeout.Microseconds())
			return true
		}
	}
}

// closeAfterFault closes the valve after a failed open. The open fault is kept
// unless the close reports a fault of its own.
func (d *CapacitorDriver) closeAfterFault(st *state.PersistentState, now uint64, fault state.ValveStatus) {
	st.LastValveStatus = fault
	d.Close(st, now)
	if st.LastValveStatus == state.StatusOK {
		st.LastValveStatus = fault
	}
}

// resistance estimates the coil resistance from the charging curve
// V(t) = Vs·(1 − e^(−t/RC)).
func (d *CapacitorDriver) resistance(elapsed time.Duration, v, supply int) int {
	r := -elapsed.Seconds() / d.params.Capacitance / math.Log(1-float64(v)/float64(supply))
	if r > math.MaxUint16 {
		return math.MaxUint16
	}
	return int(math.Round(r))
}

func (d *CapacitorDriver) resistanceValid(st *state.PersistentState, r int) bool {
	if r < d.params.MinResistance {
		return false
	}
	if st.MaxValveResistance > 0 {
		return r <= int(st.MaxValveResistance)
	}
	return r <= d.params.MaxResistance
}

func (d *CapacitorDriver) supplyEstimate(st *state.PersistentState) int {
	v := int(st.ValveSupplyVoltage)
	if v > d.params.NominalSupply && v < d.params.MaxValidSupply {
		return v
	}
	return d.params.TypicalSupply
}

func (d *CapacitorDriver) sample() int {
	v, err := d.adc.Millivolts()
	if err != nil {
		log.Printf("valve: sample: %v", err)
		return d.last
	}
	d.last = v
	return v
}

func (d *CapacitorDriver) since(t0 uint64) time.Duration {
	return time.Duration(d.timer.Micros()-t0) * time.Microsecond
}
