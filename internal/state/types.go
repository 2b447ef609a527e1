// Package state holds the record that survives deep sleep: configuration
// received from the control server plus the operational state of the valve.
package state

import (
	"fmt"
	"net/netip"
	"time"
)

// Mode is the operating mode of the controller.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeManual
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeManual:
		return "MANUAL"
	case ModeAuto:
		return "AUTO"
	default:
		return "UNDEFINED MODE"
	}
}

// ParseMode converts the wire name of a mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "OFF":
		return ModeOff, true
	case "MANUAL":
		return ModeManual, true
	case "AUTO":
		return ModeAuto, true
	}
	return ModeOff, false
}

// ValveStatus is the fault classification of the last valve operation.
type ValveStatus uint8

const (
	StatusUnknown ValveStatus = iota
	StatusOK
	StatusBadWiring
	StatusLowOpenVoltage
	StatusLowCloseVoltage
)

func (s ValveStatus) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusOK:
		return "OK"
	case StatusBadWiring:
		return "BAD_WIRING"
	case StatusLowOpenVoltage:
		return "LOW_OPEN_VOLTAGE"
	case StatusLowCloseVoltage:
		return "LOW_CLOSE_VOLTAGE"
	default:
		return fmt.Sprintf("ValveStatus(%d)", uint8(s))
	}
}

// DayPattern selects the days an activity runs on.
type DayPattern uint8

const (
	DayInvalid DayPattern = iota
	DayEvery
	DaySecond
	DayThird
	DaySunday // DaySunday+n is weekday n, Sunday = 0
)

// WeekdayPattern returns the pattern for a single weekday (0-6).
func WeekdayPattern(weekday int) (DayPattern, bool) {
	if weekday < 0 || weekday > 6 {
		return DayInvalid, false
	}
	return DaySunday + DayPattern(weekday), true
}

// Valid reports whether the pattern is one of the defined values.
func (d DayPattern) Valid() bool {
	return d >= DayEvery && d <= DaySunday+6
}

// Matches reports whether the pattern selects the given day.
func (d DayPattern) Matches(weekday, yearDay int) bool {
	switch {
	case d == DayEvery:
		return true
	case d == DaySecond:
		return yearDay%2 == 0
	case d == DayThird:
		return yearDay%3 == 0
	case d >= DaySunday && d <= DaySunday+6:
		return int(d-DaySunday) == weekday
	default:
		return false
	}
}

func (d DayPattern) String() string {
	switch {
	case d == DayEvery:
		return "all"
	case d == DaySecond:
		return "2nd"
	case d == DayThird:
		return "3rd"
	case d >= DaySunday && d <= DaySunday+6:
		return time.Weekday(d - DaySunday).String()
	default:
		return "invalid"
	}
}

// MaxActivities is the capacity of an activity program.
const MaxActivities = 32

// Activity is one recurring watering window.
type Activity struct {
	Day       DayPattern
	StartTime uint16 // minutes since midnight
	Duration  uint16 // seconds, 0 = default duration
}

// Activities is a fixed-capacity list of activities.
type Activities struct {
	items [MaxActivities]Activity
	n     int
}

// Len returns the number of stored activities.
func (a *Activities) Len() int { return a.n }

// At returns the activity at index i.
func (a *Activities) At(i int) Activity { return a.items[i] }

// Append adds an activity. It reports false when the list is full or the
// day pattern is invalid.
func (a *Activities) Append(act Activity) bool {
	if a.n == MaxActivities || !act.Day.Valid() {
		return false
	}
	a.items[a.n] = act
	a.n++
	return true
}

// Clear removes all activities.
func (a *Activities) Clear() {
	a.items = [MaxActivities]Activity{}
	a.n = 0
}

// All returns a copy of the stored activities.
func (a *Activities) All() []Activity {
	out := make([]Activity, a.n)
	copy(out, a.items[:a.n])
	return out
}

// Lease is the last network address lease, reused to skip DHCP.
type Lease struct {
	IP      netip.Addr
	Gateway netip.Addr
	Prefix  int
}

const (
	Magic                = 0xB5B0
	DefaultBoottime      = 87    // ms
	DefaultDowntime      = 10000 // ms
	DefaultDowntimeScale = 10000 // 10000 = 1.0, the host timer needs no correction
	DefaultDuration      = 600   // s
	MaxBatteryOffset     = 500   // mV
)

// PersistentState is mirrored to non-volatile memory before every sleep.
type PersistentState struct {
	Magic uint16

	// configuration
	RequestedMode      Mode
	DefaultDuration    uint16 // s
	MaxValveResistance uint16 // ohm, 0 = fixed band
	Boottime           int16  // ms
	Downtime           uint32 // ms
	DowntimeScale      uint16 // 10000 = 1.0
	BatteryOffset      int16  // mV
	ActivityProgramID  uint32
	Activities         Activities

	// operational state
	Mode                     Mode
	OffMode                  Mode
	OverriddenMode           Mode
	Override                 bool
	OverrideEndTime          uint64
	OverrideEndTimeEstimated bool
	ValveOpen                bool
	ValveOpenTime            uint64
	ValveCloseTime           uint64
	ValveCloseTimeEstimated  bool
	LastValveStatus          ValveStatus
	ValveSupplyVoltage       uint16 // mV
	ValveResistance          uint16 // ohm
	TotalOpenCount           uint16
	TotalOpenDuration        uint32 // s
	LastShutdownTime         uint64 // epoch ms
	LastDowntime             uint32 // ms
	LowBattery               bool
	LowBatteryTime           uint64
	LowBatteryTimeEstimated  bool
	Lease                    Lease
}

// Defaults returns a freshly initialized record. The valve is assumed open
// so the first control cycle closes it.
func Defaults() PersistentState {
	return PersistentState{
		Magic:           Magic,
		RequestedMode:   ModeOff,
		DefaultDuration: DefaultDuration,
		Boottime:        DefaultBoottime,
		Downtime:        DefaultDowntime,
		DowntimeScale:   DefaultDowntimeScale,
		Mode:            ModeOff,
		OffMode:         ModeOff,
		OverriddenMode:  ModeOff,
		LastValveStatus: StatusUnknown,
		ValveOpen:       true,
	}
}
