package control

import (
	"log"
	"math"
	"strconv"
	"time"

	"github.com/sweeney/valve-sleeper/internal/clock"
	"github.com/sweeney/valve-sleeper/internal/state"
)

// validTimeThreshold is 2000-01-01 in epoch ms. An older shutdown time means
// the clock was never set.
const validTimeThreshold = 946684800000

// RemoteUpdate is a reply of the control server. Empty strings, nil pointers
// and a nil activity list mean the key was absent.
type RemoteUpdate struct {
	Time  string // server time, YYYY-MM-DDTHH:MI:SS[.FFF]Z
	Mode  string
	Start string // MANUAL start, full timestamp or HH:MI

	TimeOffset    *int // ms, boot time
	SetTime       *int // 1 forces a clock synchronization
	Wakeup        *int // s, downtime
	Duration      *int // s, default duration
	TimeScale     *int // downtime scale - 10000
	VoltageOffset *int // mV, battery calibration
	MaxResistance *int // ohm
	ProgramID     *int64

	Activities []RemoteActivity
}

// RemoteActivity is one entry of a remote activity program.
type RemoteActivity struct {
	Day      string // "all", "2nd", "3rd" or weekday "0".."6"
	Start    string // HH:MI
	Duration *int   // s
}

// ApplyRemoteUpdate validates the reply, stores accepted configuration and
// synchronizes the clock when required. Invalid values are logged and
// ignored. rxUptime is the cycle uptime when the reply arrived. It returns
// the request for this cycle's Control call.
func (c *Controller) ApplyRemoteUpdate(u RemoteUpdate, rxUptime time.Duration) Request {
	st := c.st
	req := Request{Mode: st.Mode}
	setTime := st.LastShutdownTime < validTimeThreshold

	var serverTime uint64
	var serverDate clock.Calendar
	if u.Time != "" {
		cal, _, err := clock.ParseTimestamp(u.Time)
		switch {
		case err != nil:
			log.Printf("control: server time %q: %v", u.Time, err)
		case !cal.HasDate():
			log.Printf("control: server time %q has no date", u.Time)
		default:
			serverTime = clock.ToEpochMillis(cal)
			serverDate = cal
		}
	}

	if v, ok := inRange(u.TimeOffset, -500, 500); ok {
		if int16(v) != st.Boottime {
			st.Boottime = int16(v)
			setTime = true
		}
	} else if u.TimeOffset != nil {
		log.Printf("control: timeOffset %d out of range", *u.TimeOffset)
	}

	if v, ok := inRange(u.SetTime, 0, 1); ok {
		setTime = setTime || v == 1
	}

	if v, ok := inRange(u.Wakeup, 1, 3600); ok {
		st.Downtime = uint32(v) * 1000
	} else if u.Wakeup != nil {
		log.Printf("control: wakeup %d out of range", *u.Wakeup)
	}

	if u.Mode != "" {
		if m, ok := state.ParseMode(u.Mode); ok {
			req.Mode = m
			st.RequestedMode = m
		} else {
			log.Printf("control: unknown mode %q", u.Mode)
		}
	}

	if u.Start != "" {
		cal, _, err := clock.ParseTimestamp(u.Start)
		if err != nil {
			log.Printf("control: start %q: %v", u.Start, err)
		} else {
			if !cal.HasDate() {
				date := serverDate
				if serverTime == 0 {
					date = clock.FromEpochMillis(c.now())
				}
				cal.Day, cal.Month, cal.Year = date.Day, date.Month, date.Year
			}
			req.Start = clock.ToEpochMillis(cal)
		}
	}

	if v, ok := inRange(u.Duration, 1, 7200); ok {
		st.DefaultDuration = uint16(v)
	} else if u.Duration != nil {
		log.Printf("control: duration %d out of range", *u.Duration)
	}

	if v, ok := inRange(u.TimeScale, -1000, 1000); ok {
		scale := uint16(10000 + v)
		if scale != st.DowntimeScale {
			st.DowntimeScale = scale
			setTime = true
		}
	} else if u.TimeScale != nil {
		log.Printf("control: timeScale %d out of range", *u.TimeScale)
	}

	if v, ok := inRange(u.VoltageOffset, -state.MaxBatteryOffset, state.MaxBatteryOffset); ok && int16(v) != st.BatteryOffset {
		c.BatteryMillivolts += v - int(st.BatteryOffset)
		st.BatteryOffset = int16(v)
		log.Printf("control: battery offset %d mV, battery %d mV", v, c.BatteryMillivolts)
		if c.BatteryMillivolts < c.MinBattery {
			if !st.LowBattery {
				c.enterLowBattery()
			}
		} else if st.LowBattery {
			c.clearLowBattery()
		}
	}

	if v, ok := inRange(u.MaxResistance, 1, math.MaxUint16); ok && uint16(v) != st.MaxValveResistance {
		st.MaxValveResistance = uint16(v)
	}

	if u.ProgramID != nil && *u.ProgramID >= 0 && *u.ProgramID <= math.MaxUint32 && uint32(*u.ProgramID) != st.ActivityProgramID {
		st.ActivityProgramID = uint32(*u.ProgramID)
		st.Activities.Clear()
		if st.ActivityProgramID > 0 {
			for _, ra := range u.Activities {
				a, ok := parseActivity(ra)
				if !ok {
					log.Printf("control: ignoring activity %+v", ra)
					continue
				}
				if !st.Activities.Append(a) {
					log.Printf("control: program full, dropping remaining activities")
					break
				}
			}
		}
		log.Printf("control: program %d with %d activities", st.ActivityProgramID, st.Activities.Len())
	}

	if serverTime > 0 && setTime {
		prev := st.LastShutdownTime
		st.Synchronize(st.ShutdownTimeFor(serverTime, rxUptime))
		c.Synchronized = true
		log.Printf("control: clock synchronized, shutdown time %s -> %s", clock.FormatMillis(prev), clock.FormatMillis(st.LastShutdownTime))
	}
	return req
}

func inRange(p *int, min, max int) (int, bool) {
	if p == nil || *p < min || *p > max {
		return 0, false
	}
	return *p, true
}

func parseActivity(ra RemoteActivity) (state.Activity, bool) {
	var a state.Activity
	switch ra.Day {
	case "all":
		a.Day = state.DayEvery
	case "2nd":
		a.Day = state.DaySecond
	case "3rd":
		a.Day = state.DayThird
	default:
		n, err := strconv.Atoi(ra.Day)
		if err != nil {
			return a, false
		}
		d, ok := state.WeekdayPattern(n)
		if !ok {
			return a, false
		}
		a.Day = d
	}

	if ra.Start != "" {
		cal, _, err := clock.ParseTimestamp(ra.Start)
		if err != nil {
			return a, false
		}
		a.StartTime = uint16(cal.MinuteOfDay())
	}

	d, ok := inRange(ra.Duration, 1, 3600)
	if !ok {
		return a, false
	}
	a.Duration = uint16(d)
	return a, true
}
