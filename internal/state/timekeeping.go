package state

import "time"

// EstimateNow returns the estimated epoch time in ms given the uptime of the
// current wake cycle.
func (s *PersistentState) EstimateNow(uptime time.Duration) uint64 {
	base := int64(s.LastShutdownTime) + int64(s.LastDowntime) + int64(s.Boottime) + uptime.Milliseconds()
	if base < 0 {
		return 0
	}
	return uint64(base)
}

// ShutdownTimeFor returns the last shutdown time that makes EstimateNow at
// uptime equal to serverTime.
func (s *PersistentState) ShutdownTimeFor(serverTime uint64, uptime time.Duration) uint64 {
	elapsed := int64(s.LastDowntime) + int64(s.Boottime) + uptime.Milliseconds()
	t := int64(serverTime) - elapsed
	if t < 0 {
		return 0
	}
	return uint64(t)
}

// Synchronize replaces the last shutdown time with a server-corrected value
// and shifts every estimated timestamp by the same delta.
func (s *PersistentState) Synchronize(shutdownTime uint64) {
	prev := s.LastShutdownTime
	s.LastShutdownTime = shutdownTime
	shift := func(t *uint64, estimated *bool) {
		if !*estimated || *t == 0 {
			return
		}
		if shutdownTime >= prev {
			*t += shutdownTime - prev
		} else if d := prev - shutdownTime; d < *t {
			*t -= d
		} else {
			*t = 0
		}
		*estimated = false
	}
	shift(&s.ValveCloseTime, &s.ValveCloseTimeEstimated)
	shift(&s.OverrideEndTime, &s.OverrideEndTimeEstimated)
	shift(&s.LowBatteryTime, &s.LowBatteryTimeEstimated)
}
