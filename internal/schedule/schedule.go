// Package schedule matches the calendar against the stored activity program.
//
// All times are epoch milliseconds in UTC. An activity window is
// [start, start+duration] on a day selected by its day pattern; windows that
// run past midnight are not recognized once the date has changed.
package schedule

import (
	"github.com/sweeney/valve-sleeper/internal/clock"
	"github.com/sweeney/valve-sleeper/internal/state"
)

// Tolerance is how late (ms) a valve may still be opened after the end of its
// window, and the margin added to an override end.
const Tolerance uint64 = 1600

// lookAheadDays bounds the search for the next activity start. Every pattern
// matches at least once in any 7 consecutive days.
const lookAheadDays = 7

// Timing is a planned valve window in epoch ms.
type Timing struct {
	Start    uint64
	End      uint64
	Duration uint64
}

// EffectiveDuration returns the activity duration in seconds, falling back to
// the configured default when the activity has none.
func EffectiveDuration(st *state.PersistentState, a state.Activity) uint32 {
	if a.Duration == 0 {
		return uint32(st.DefaultDuration)
	}
	return uint32(a.Duration)
}

// MatchCurrentActivity returns the index of the first activity scheduled for
// today whose window contains the current time of day.
func MatchCurrentActivity(st *state.PersistentState, now clock.Calendar) (int, bool) {
	minute := now.MinuteOfDay()
	second := uint32(now.SecondOfDay())
	for i := 0; i < st.Activities.Len(); i++ {
		a := st.Activities.At(i)
		if !a.Day.Matches(now.Weekday, now.YearDay) {
			continue
		}
		if minute >= int(a.StartTime) && second <= 60*uint32(a.StartTime)+EffectiveDuration(st, a) {
			return i, true
		}
	}
	return -1, false
}

// ComputeTiming plans the valve window for mode. AUTO uses the activity in
// progress, anchored on the date of now; MANUAL uses start and duration (s)
// as given. It reports false when there is nothing to run.
func ComputeTiming(st *state.PersistentState, mode state.Mode, now clock.Calendar, start uint64, duration uint16) (Timing, bool) {
	var t Timing
	switch mode {
	case state.ModeAuto:
		i, ok := MatchCurrentActivity(st, now)
		if !ok {
			return Timing{}, false
		}
		a := st.Activities.At(i)
		day := now
		day.Hour = int(a.StartTime) / 60
		day.Minute = int(a.StartTime) % 60
		day.Second = 0
		day.Millisecond = 0
		t.Duration = clock.MillisPerSecond * uint64(EffectiveDuration(st, a))
		t.Start = clock.ToEpochMillis(day)
	case state.ModeManual:
		t.Duration = clock.MillisPerSecond * uint64(duration)
		t.Start = start
	default:
		return Timing{}, false
	}
	t.End = t.Start + t.Duration
	return t, t.Duration > 0
}

// NextActivityStart returns the earliest activity start after now: today if
// one is still to come, otherwise on the first following day with a match.
// Day patterns are evaluated against each candidate day's own calendar.
// It returns 0 only when no activity is configured.
func NextActivityStart(st *state.PersistentState, now clock.Calendar) uint64 {
	if st.Activities.Len() == 0 {
		return 0
	}
	midnight := clock.Midnight(clock.ToEpochMillis(now))

	if m, ok := earliestStart(st, now, now.MinuteOfDay()); ok {
		return midnight + 60*clock.MillisPerSecond*uint64(m)
	}
	for d := uint64(1); d <= lookAheadDays; d++ {
		dayStart := midnight + d*clock.MillisPerDay
		if m, ok := earliestStart(st, clock.FromEpochMillis(dayStart), -1); ok {
			return dayStart + 60*clock.MillisPerSecond*uint64(m)
		}
	}
	return 0
}

// earliestStart returns the earliest start minute on day strictly after
// the given minute.
func earliestStart(st *state.PersistentState, day clock.Calendar, after int) (int, bool) {
	best := clock.MinutesPerDay
	for i := 0; i < st.Activities.Len(); i++ {
		a := st.Activities.At(i)
		if !a.Day.Matches(day.Weekday, day.YearDay) {
			continue
		}
		if int(a.StartTime) > after && int(a.StartTime) < best {
			best = int(a.StartTime)
		}
	}
	return best, best < clock.MinutesPerDay
}
