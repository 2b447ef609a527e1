// Package clock converts between epoch milliseconds and calendar fields and
// parses the fixed timestamp forms exchanged with the control server.
// Everything is UTC; leap seconds and daylight saving are ignored.
package clock

import (
	"errors"
	"fmt"
)

const (
	MillisPerSecond = 1000
	SecondsPerDay   = 86400
	MillisPerDay    = SecondsPerDay * MillisPerSecond
	MinutesPerDay   = 1440
)

// ErrMalformedTimestamp is returned when a timestamp matches neither
// accepted form.
var ErrMalformedTimestamp = errors.New("clock: malformed timestamp")

// Calendar holds broken-down UTC time.
type Calendar struct {
	Millisecond int // 0-999
	Second      int // 0-59
	Minute      int // 0-59
	Hour        int // 0-23
	Day         int // 1-31, 0 when only a time of day is known
	Month       int // 0-11
	Year        int // years since 1900
	Weekday     int // 0-6, Sunday = 0 (derived)
	YearDay     int // 1-366, 1 January = 1 (derived)
}

// HasDate reports whether the calendar carries a date part.
func (c Calendar) HasDate() bool {
	return c.Day > 0
}

// MinuteOfDay returns the minutes elapsed since midnight.
func (c Calendar) MinuteOfDay() int {
	return 60*c.Hour + c.Minute
}

// SecondOfDay returns the seconds elapsed since midnight.
func (c Calendar) SecondOfDay() int {
	return 60*c.MinuteOfDay() + c.Second
}

// Format renders the calendar as YYYY-MM-DDTHH:MI:SS.FFFZ.
func (c Calendar) Format() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%03dZ",
		1900+c.Year, c.Month+1, c.Day, c.Hour, c.Minute, c.Second, c.Millisecond)
}

// Midnight truncates an epoch millisecond timestamp to the start of its day.
func Midnight(ms uint64) uint64 {
	return ms - ms%MillisPerDay
}

// FormatMillis is shorthand for FromEpochMillis(ms).Format().
func FormatMillis(ms uint64) string {
	return FromEpochMillis(ms).Format()
}

func isLeapYear(year int) bool {
	return year%400 == 0 || (year%4 == 0 && year%100 != 0)
}

func daysInYear(year int) int {
	if isLeapYear(year) {
		return 366
	}
	return 365
}

var (
	commonYearMonths = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	leapYearMonths   = [12]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
)

func daysPerMonth(year int) [12]int {
	if isLeapYear(year) {
		return leapYearMonths
	}
	return commonYearMonths
}

// ToEpochMillis converts the date and time fields to milliseconds since the
// epoch. Weekday and YearDay are ignored. Dates before 1970 yield 0.
func ToEpochMillis(c Calendar) uint64 {
	year := 1900 + c.Year
	if year < 1970 || c.Month < 0 || c.Month > 11 {
		return 0
	}
	days := 0
	for y := 1970; y < year; y++ {
		days += daysInYear(y)
	}
	dpm := daysPerMonth(year)
	for m := 0; m < c.Month; m++ {
		days += dpm[m]
	}
	days += c.Day - 1
	if days < 0 {
		return 0
	}
	secs := uint64(days)*SecondsPerDay + uint64(3600*c.Hour+60*c.Minute+c.Second)
	return secs*MillisPerSecond + uint64(c.Millisecond)
}

// FromEpochMillis converts milliseconds since the epoch to calendar fields
// by subtracting whole years, then whole months.
func FromEpochMillis(ms uint64) Calendar {
	secs := ms / MillisPerSecond

	year := 1970
	for {
		spy := uint64(SecondsPerDay * daysInYear(year))
		if secs < spy {
			break
		}
		secs -= spy
		year++
	}

	dpm := daysPerMonth(year)
	month, yday := 0, 0
	for {
		spm := uint64(SecondsPerDay * dpm[month])
		if secs < spm {
			break
		}
		secs -= spm
		yday += dpm[month]
		month++
	}

	day := 1 + int(secs/SecondsPerDay)
	secs %= SecondsPerDay
	return Calendar{
		Millisecond: int(ms % MillisPerSecond),
		Second:      int(secs % 60),
		Minute:      int(secs/60) % 60,
		Hour:        int(secs / 3600),
		Day:         day,
		Month:       month,
		Year:        year - 1900,
		Weekday:     weekday(year, month+1, day),
		YearDay:     yday + day,
	}
}

// weekday applies Zeller's congruence; month is 1-12.
func weekday(year, month, day int) int {
	adj := (14 - month) / 12
	m := month + 12*adj - 2 // March = 1, January = 11
	y := year - adj
	d := y % 100
	c := y / 100
	h := day + (13*m-1)/5 + d + d/4 + c/4 - 2*c
	return ((h % 7) + 7) % 7
}

// ParseTimestamp accepts exactly HH:MI or YYYY-MM-DDTHH:MI:SS followed by
// nothing, Z or .FFFZ. It returns the parsed fields and the number of bytes
// consumed. Weekday and YearDay are left unset.
func ParseTimestamp(s string) (Calendar, int, error) {
	var c Calendar
	switch len(s) {
	case 5:
		if s[2] != ':' {
			return Calendar{}, 0, ErrMalformedTimestamp
		}
		var ok bool
		if c.Hour, ok = digits(s, 0, 2); !ok {
			return Calendar{}, 0, ErrMalformedTimestamp
		}
		if c.Minute, ok = digits(s, 3, 2); !ok {
			return Calendar{}, 0, ErrMalformedTimestamp
		}
	case 19, 20, 24:
		if s[4] != '-' || s[7] != '-' || s[10] != 'T' || s[13] != ':' || s[16] != ':' {
			return Calendar{}, 0, ErrMalformedTimestamp
		}
		switch len(s) {
		case 20:
			if s[19] != 'Z' {
				return Calendar{}, 0, ErrMalformedTimestamp
			}
		case 24:
			if s[19] != '.' || s[23] != 'Z' {
				return Calendar{}, 0, ErrMalformedTimestamp
			}
		}
		fields := []struct {
			dst      *int
			from, n  int
			min, max int
		}{
			{&c.Year, 0, 4, 1900, 9999},
			{&c.Month, 5, 2, 1, 12},
			{&c.Day, 8, 2, 1, 31},
			{&c.Hour, 11, 2, 0, 23},
			{&c.Minute, 14, 2, 0, 59},
			{&c.Second, 17, 2, 0, 59},
		}
		for _, f := range fields {
			v, ok := digits(s, f.from, f.n)
			if !ok || v < f.min || v > f.max {
				return Calendar{}, 0, ErrMalformedTimestamp
			}
			*f.dst = v
		}
		if c.Day > daysPerMonth(c.Year)[c.Month-1] {
			return Calendar{}, 0, ErrMalformedTimestamp
		}
		c.Year -= 1900
		c.Month--
		if len(s) == 24 {
			ms, ok := digits(s, 20, 3)
			if !ok {
				return Calendar{}, 0, ErrMalformedTimestamp
			}
			c.Millisecond = ms
		}
	default:
		return Calendar{}, 0, ErrMalformedTimestamp
	}
	if c.Hour > 23 || c.Minute > 59 {
		return Calendar{}, 0, ErrMalformedTimestamp
	}
	return c, len(s), nil
}

func digits(s string, from, n int) (int, bool) {
	v := 0
	for i := from; i < from+n; i++ {
		ch := s[i]
		if ch < '0' || ch > '9' {
			return 0, false
		}
		v = 10*v + int(ch-'0')
	}
	return v, true
}
