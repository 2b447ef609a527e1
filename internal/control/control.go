// Package control decides, once per wake cycle, whether the valve must be
// opened or closed and when the controller has to wake up next.
//
// Priorities, highest first: low battery, a user override toggle, an
// override in progress, and the requested mode (AUTO, MANUAL or OFF).
package control

import (
	"log"
	"time"

	"github.com/sweeney/valve-sleeper/internal/clock"
	"github.com/sweeney/valve-sleeper/internal/schedule"
	"github.com/sweeney/valve-sleeper/internal/state"
	"github.com/sweeney/valve-sleeper/internal/valve"
)

const (
	MinDowntime          = 1000   // ms
	CommandTime          = 600    // ms from wakeup until a valve command executes
	MaxValveOpenDowntime = 300000 // ms
	MinBatteryMillivolts = 3270

	// DefaultLowBatteryReporting is how long a low battery keeps being
	// reported before the controller shuts down for good.
	DefaultLowBatteryReporting = 24 * time.Hour

	// maxPasses bounds the re-evaluations of a single Control call. An
	// expiring override needs two.
	maxPasses = 3
)

// Request is one invocation of the state machine.
type Request struct {
	Mode state.Mode

	// Start is the MANUAL start time (epoch ms). For an override toggle it
	// is the time of the button press.
	Start uint64

	// ToggleOverride flips the valve immediately.
	ToggleOverride bool
}

// Result is the outcome of Control.
type Result struct {
	// Next is the epoch ms of the next required action, 0 if none.
	Next   uint64
	Passes int
}

// Controller runs the valve state machine on a persistent state record.
type Controller struct {
	st     *state.PersistentState
	driver valve.Driver
	now    func() uint64

	// Synchronized is set once the clock was corrected by the server during
	// this wake cycle. Times computed before are flagged as estimated.
	Synchronized bool

	// BatteryMillivolts is the calibrated battery voltage of this cycle.
	BatteryMillivolts int

	MinBattery          int
	LowBatteryReporting time.Duration
}

// New creates a Controller. now returns the estimated epoch time in ms.
func New(st *state.PersistentState, driver valve.Driver, now func() uint64) *Controller {
	return &Controller{
		st:                  st,
		driver:              driver,
		now:                 now,
		MinBattery:          MinBatteryMillivolts,
		LowBatteryReporting: DefaultLowBatteryReporting,
	}
}

// State returns the controlled record.
func (c *Controller) State() *state.PersistentState {
	return c.st
}

// Now returns the estimated current epoch time in ms.
func (c *Controller) Now() uint64 {
	return c.now()
}

// Control evaluates the state machine and operates the valve.
func (c *Controller) Control(req Request) Result {
	var res Result
	for {
		res.Passes++
		next, follow := c.pass(req)
		res.Next = next
		if follow == nil {
			break
		}
		if res.Passes == maxPasses {
			log.Printf("control: giving up after %d passes", res.Passes)
			break
		}
		req = *follow
	}

	st := c.st
	if res.Next == 0 && !st.LowBattery && !st.Override && st.Mode != state.ModeOff {
		res.Next = schedule.NextActivityStart(st, clock.FromEpochMillis(c.now()))
	}

	if res.Next > 0 {
		log.Printf("control: mode %s, valve open %v, next %s", st.Mode, st.ValveOpen, clock.FormatMillis(res.Next))
	} else {
		log.Printf("control: mode %s, valve open %v, no pending event", st.Mode, st.ValveOpen)
	}
	return res
}

// pass is one evaluation. A non-nil follow-up request means the machine
// changed its governing state and must be evaluated again.
func (c *Controller) pass(req Request) (uint64, *Request) {
	st := c.st
	now := c.now()
	cal := clock.FromEpochMillis(now)

	switch {
	case st.LowBattery:
		if st.ValveOpen {
			log.Printf("control: low battery, closing valve")
			c.closeValve(now)
		}
		return 0, nil
	case req.ToggleOverride:
		return c.toggleOverride(req, now, cal), nil
	case st.Override:
		return c.continueOverride(req, now, cal)
	default:
		return c.runMode(req.Mode, req.Start, now, cal), nil
	}
}

// toggleOverride flips the valve. Closing holds the valve closed until the
// activity that would have run is over; opening runs a MANUAL session of the
// default duration.
func (c *Controller) toggleOverride(req Request, now uint64, cal clock.Calendar) uint64 {
	st := c.st
	if !st.Override {
		st.OverriddenMode = st.Mode
	}

	if st.ValveOpen {
		log.Printf("control: override close")
		c.closeValve(now)
		st.OverrideEndTime = c.overrideEndTime(st.OverriddenMode, req.Start, now, cal)
		st.OverrideEndTimeEstimated = !c.Synchronized
		if now <= st.OverrideEndTime {
			st.Override = true
			return st.OverrideEndTime
		}
		st.Override = false
		st.Mode = st.OverriddenMode
		return 0
	}

	log.Printf("control: override open")
	st.Override = true
	next := c.runMode(state.ModeManual, req.Start, now, cal)
	// set when the valve closes
	st.OverrideEndTime = 0
	return next
}

// continueOverride keeps an open valve in MANUAL operation until it closes,
// then holds it closed until the override ends or OFF is requested.
func (c *Controller) continueOverride(req Request, now uint64, cal clock.Calendar) (uint64, *Request) {
	st := c.st
	var next uint64
	if st.ValveOpen {
		next = c.runMode(state.ModeManual, 0, now, cal)
		if st.ValveOpen {
			return next, nil
		}
	}

	if st.OverrideEndTime == 0 {
		st.OverrideEndTime = c.overrideEndTime(st.OverriddenMode, req.Start, now, cal)
		st.OverrideEndTimeEstimated = !c.Synchronized
	}
	if now <= st.OverrideEndTime && req.Mode != state.ModeOff {
		return st.OverrideEndTime, nil
	}

	log.Printf("control: override ended, mode %s", req.Mode)
	st.Override = false
	st.Mode = req.Mode
	return 0, &Request{Mode: req.Mode, Start: req.Start}
}

// runMode evaluates a mode without regard to override.
func (c *Controller) runMode(mode state.Mode, start, now uint64, cal clock.Calendar) uint64 {
	st := c.st
	switch mode {
	case state.ModeAuto:
		var next uint64
		if t, ok := schedule.ComputeTiming(st, state.ModeAuto, cal, 0, 0); ok {
			next, _ = c.operateValve(t, now)
		} else if st.ValveOpen {
			// the activity may have been removed while running
			if now >= st.ValveCloseTime {
				log.Printf("control: close time reached")
				c.closeValve(now)
			} else {
				next = st.ValveCloseTime
			}
		}
		st.Mode = state.ModeAuto
		return next

	case state.ModeManual:
		t, _ := schedule.ComputeTiming(st, state.ModeManual, cal, start, st.DefaultDuration)
		next, fallback := c.operateValve(t, now)
		if !st.Override {
			if !fallback {
				if st.Mode == state.ModeOff || st.Mode == state.ModeAuto {
					st.OffMode = st.Mode
				}
				st.Mode = state.ModeManual
			} else {
				st.Mode = st.OffMode
			}
		}
		return next

	default:
		if st.ValveOpen {
			log.Printf("control: off, closing valve")
			c.closeValve(now)
		}
		st.Mode = state.ModeOff
		return 0
	}
}

// operateValve opens or closes the valve for the planned window. fallback
// reports that the window is over (or cannot be served) and the session
// should end.
func (c *Controller) operateValve(t schedule.Timing, now uint64) (next uint64, fallback bool) {
	st := c.st

	if !st.ValveOpen {
		if st.LastValveStatus != state.StatusOK && !st.Override {
			log.Printf("control: valve status %s, not opening", st.LastValveStatus)
			return 0, false
		}
		switch {
		case now < t.Start:
			return t.Start, false
		case now < t.End+schedule.Tolerance:
			log.Printf("control: opening valve for %d s", t.Duration/clock.MillisPerSecond)
			c.driver.Open(st, now)
			if !st.ValveOpen {
				st.ValveCloseTime = 0
				return 0, true
			}
			st.ValveCloseTime = now + t.Duration
			st.ValveCloseTimeEstimated = !c.Synchronized
			return st.ValveCloseTime, false
		default:
			log.Printf("control: window ended at %s, keeping valve closed", clock.FormatMillis(t.End))
			return 0, true
		}
	}

	switch {
	case now < t.Start && st.Mode == state.ModeManual:
		log.Printf("control: manual start moved to %s, closing valve", clock.FormatMillis(t.Start))
		c.closeValve(now)
		return t.Start, false
	case now >= st.ValveCloseTime:
		log.Printf("control: close time reached")
		c.closeValve(now)
		return 0, true
	default:
		return st.ValveCloseTime, false
	}
}

func (c *Controller) closeValve(now uint64) {
	c.driver.Close(c.st, now)
	c.st.ValveCloseTime = 0
}

// overrideEndTime returns when an override that closed the valve ends: after
// the window mode would be running now, or 0 if none is running.
func (c *Controller) overrideEndTime(mode state.Mode, start, now uint64, cal clock.Calendar) uint64 {
	if mode == state.ModeOff {
		return 0
	}
	t, ok := schedule.ComputeTiming(c.st, mode, cal, start, c.st.DefaultDuration)
	if ok && t.Start <= now && now <= t.End {
		return t.End + schedule.Tolerance
	}
	return 0
}
