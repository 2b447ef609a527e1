package control

import (
	"log"

	"github.com/sweeney/valve-sleeper/internal/clock"
	"github.com/sweeney/valve-sleeper/internal/state"
)

// batteryRecoveryMargin is the hysteresis above the minimum voltage before a
// low battery is considered replaced.
const batteryRecoveryMargin = 300 // mV

// CheckBattery records the calibrated battery voltage of this cycle and
// updates the low battery state. It reports whether the battery is low.
func (c *Controller) CheckBattery(millivolts int) bool {
	st := c.st
	c.BatteryMillivolts = millivolts

	switch {
	case !st.LowBattery && millivolts < c.MinBattery:
		c.enterLowBattery()
	case st.LowBattery && millivolts >= c.MinBattery+batteryRecoveryMargin:
		log.Printf("control: battery recovered at %d mV", millivolts)
		c.clearLowBattery()
	}
	return st.LowBattery
}

func (c *Controller) clearLowBattery() {
	c.st.LowBattery = false
	c.st.LowBatteryTime = 0
	c.st.LowBatteryTimeEstimated = false
}

func (c *Controller) enterLowBattery() {
	st := c.st
	st.LowBattery = true
	st.LowBatteryTime = c.now() + uint64(c.LowBatteryReporting.Milliseconds())
	st.LowBatteryTimeEstimated = !c.Synchronized
	log.Printf("control: low battery at %d mV, reporting until %s", c.BatteryMillivolts, clock.FormatMillis(st.LowBatteryTime))
}

// LowBatteryShutdownDue reports whether the controller should stop waking up.
// LowBatteryTime is the permanent shutdown deadline; a user wakeup always
// gets one more cycle.
func (c *Controller) LowBatteryShutdownDue(userWakeup bool) bool {
	st := c.st
	if !st.LowBattery || userWakeup {
		return false
	}
	return c.now() >= st.LowBatteryTime
}

// UserWakeup handles a button press: the valve is toggled and the downtime of
// the interrupted sleep is shortened by the command time, since the press
// woke the controller early.
func (c *Controller) UserWakeup() Result {
	res := c.Control(Request{Mode: state.ModeOff, Start: c.now(), ToggleOverride: true})
	if c.st.LastDowntime > CommandTime {
		c.st.LastDowntime -= CommandTime
	} else {
		c.st.LastDowntime = 0
	}
	return res
}
