package valve

import (
	"testing"
	"time"

	"github.com/sweeney/valve-sleeper/internal/gpio"
	"github.com/sweeney/valve-sleeper/internal/state"
)

type stepTimer struct {
	now time.Duration
}

func (s *stepTimer) Micros() uint64        { return uint64(s.now.Microseconds()) }
func (s *stepTimer) Delay(d time.Duration) { s.now += d }

type timedEvent struct {
	gpio.Event
	at time.Duration
}

func recordPulses(out *gpio.FakeOutputs, timer *stepTimer) *[]timedEvent {
	var events []timedEvent
	out.OnSet = func(line gpio.Line, active bool) {
		events = append(events, timedEvent{gpio.Event{Line: line, Active: active}, timer.now})
	}
	return &events
}

func pulseWidth(events []timedEvent) time.Duration {
	var start time.Duration
	for _, e := range events {
		if e.Line != gpio.LineOpen {
			continue
		}
		if e.Active {
			start = e.at
		} else {
			return e.at - start
		}
	}
	return 0
}

func TestHBridgeOpen(t *testing.T) {
	out := gpio.NewFakeOutputs()
	timer := &stepTimer{}
	events := recordPulses(out, timer)
	st := closedState()

	NewHBridgeDriver(out, timer, DefaultParams()).Open(st, 7000)

	if got := pulseWidth(*events); got != 250*time.Millisecond {
		t.Errorf("pulse width: got %v, want 250ms", got)
	}
	first := (*events)[:2]
	if first[0].Event != (gpio.Event{Line: gpio.LineGenerator, Active: true}) ||
		first[1].Event != (gpio.Event{Line: gpio.LineClose, Active: false}) {
		t.Errorf("direction preset: got %+v", first)
	}
	for _, line := range []gpio.Line{gpio.LineOpen, gpio.LineClose, gpio.LineGenerator} {
		if out.Active(line) {
			t.Errorf("%v should be released", line)
		}
	}
	if !st.ValveOpen || st.TotalOpenCount != 1 || st.ValveOpenTime != 7000 {
		t.Errorf("open bookkeeping: open=%v count=%d time=%d", st.ValveOpen, st.TotalOpenCount, st.ValveOpenTime)
	}
	if st.LastValveStatus != state.StatusOK {
		t.Errorf("status: got %v, want OK", st.LastValveStatus)
	}
}

func TestHBridgeClose(t *testing.T) {
	out := gpio.NewFakeOutputs()
	timer := &stepTimer{}
	events := recordPulses(out, timer)
	st := closedState()
	st.ValveOpen = true
	st.ValveOpenTime = 10000

	NewHBridgeDriver(out, timer, DefaultParams()).Close(st, 40000)

	if got := pulseWidth(*events); got != 62500*time.Microsecond {
		t.Errorf("pulse width: got %v, want 62.5ms", got)
	}
	if (*events)[1].Event != (gpio.Event{Line: gpio.LineClose, Active: true}) {
		t.Errorf("direction preset: got %+v", (*events)[1])
	}
	if out.Active(gpio.LineClose) {
		t.Error("direction line should be released")
	}
	if st.ValveOpen || st.TotalOpenDuration != 30 {
		t.Errorf("close bookkeeping: open=%v duration=%d", st.ValveOpen, st.TotalOpenDuration)
	}
}

func TestFakeDriver(t *testing.T) {
	st := closedState()
	f := &FakeDriver{}

	f.Open(st, 1000)
	if !st.ValveOpen || st.LastValveStatus != state.StatusOK {
		t.Errorf("after open: open=%v status=%v", st.ValveOpen, st.LastValveStatus)
	}
	f.Open(st, 2000)
	if st.TotalOpenCount != 1 {
		t.Errorf("reopening counted: got %d", st.TotalOpenCount)
	}

	f.CloseStatus = state.StatusLowCloseVoltage
	f.Close(st, 12000)
	if st.ValveOpen || st.LastValveStatus != state.StatusLowCloseVoltage || st.TotalOpenDuration != 10 {
		t.Errorf("after close: open=%v status=%v duration=%d", st.ValveOpen, st.LastValveStatus, st.TotalOpenDuration)
	}

	f.FailOpen = true
	f.Open(st, 13000)
	if st.ValveOpen || st.LastValveStatus != state.StatusBadWiring {
		t.Errorf("failed open: open=%v status=%v", st.ValveOpen, st.LastValveStatus)
	}
	if f.Opens != 3 || f.Closes != 1 {
		t.Errorf("counts: opens=%d closes=%d", f.Opens, f.Closes)
	}
}

func TestFakeDriverCloseFreshRecord(t *testing.T) {
	st := state.Defaults()
	(&FakeDriver{}).Close(&st, 1583301600000)

	if st.ValveOpen {
		t.Error("valve should be closed")
	}
	if st.TotalOpenDuration != 0 {
		t.Errorf("TotalOpenDuration: got %d, want 0", st.TotalOpenDuration)
	}
}
