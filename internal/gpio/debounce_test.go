package gpio

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

type sample struct {
	ms      int
	pressed bool
	want    bool
}

func run(t *testing.T, d *Debouncer, samples []sample) {
	t.Helper()
	for _, s := range samples {
		if got := d.Process(s.pressed, at(s.ms)); got != s.want {
			t.Errorf("%d ms (pressed %v): got %v, want %v", s.ms, s.pressed, got, s.want)
		}
	}
}

func TestDebouncerBaselineThenPress(t *testing.T) {
	run(t, NewDebouncer(100*time.Millisecond), []sample{
		{ms: 0, pressed: false},
		{ms: 100, pressed: false}, // baseline released
		{ms: 200, pressed: true},
		{ms: 300, pressed: true, want: true},
	})
}

func TestDebouncerPressBeforeBaselineIsBaseline(t *testing.T) {
	// the level changes before it settled, so the press becomes the baseline
	run(t, NewDebouncer(100*time.Millisecond), []sample{
		{ms: 0, pressed: false},
		{ms: 50, pressed: true},
		{ms: 150, pressed: true},
		{ms: 400, pressed: true},
	})
}

func TestDebouncerHeldAtStartupIsNotAPress(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	for ms := 0; ms <= 500; ms += 50 {
		if d.Process(true, at(ms)) {
			t.Fatalf("unexpected press at %d ms", ms)
		}
	}

	// release, then press again
	run(t, d, []sample{
		{ms: 600, pressed: false},
		{ms: 700, pressed: false},
		{ms: 800, pressed: true},
		{ms: 900, pressed: true, want: true},
	})
}

func TestDebouncerBaselineRestartsOnChange(t *testing.T) {
	run(t, NewDebouncer(100*time.Millisecond), []sample{
		{ms: 0, pressed: true},
		{ms: 80, pressed: false},
		{ms: 150, pressed: false},
		{ms: 180, pressed: false}, // baseline released
		{ms: 200, pressed: true},
		{ms: 300, pressed: true, want: true},
	})
}

func TestDebouncerRepeatedPresses(t *testing.T) {
	run(t, NewDebouncer(100*time.Millisecond), []sample{
		{ms: 0, pressed: false},
		{ms: 100, pressed: false},
		{ms: 200, pressed: true},
		{ms: 250, pressed: true},
		{ms: 300, pressed: true, want: true},
		{ms: 350, pressed: true},
		{ms: 400, pressed: false},
		{ms: 500, pressed: false},
		{ms: 600, pressed: true},
		{ms: 700, pressed: true, want: true},
	})
}

func TestDebouncerBounceRejected(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	d.Process(false, at(0))
	d.Process(false, at(100))

	samples := []bool{true, false, true, false, true, false}
	for i, s := range samples {
		if d.Process(s, at(200+i*30)) {
			t.Fatalf("sample %d: bounce reported as press", i)
		}
	}
}

func TestDebouncerExactTiming(t *testing.T) {
	run(t, NewDebouncer(100*time.Millisecond), []sample{
		{ms: 0, pressed: false},
		{ms: 100, pressed: false},
		{ms: 1000, pressed: true},
		{ms: 1099, pressed: true},
		{ms: 1100, pressed: true, want: true},
	})
}

func TestDebouncerZeroDuration(t *testing.T) {
	run(t, NewDebouncer(0), []sample{
		{ms: 0, pressed: false},
		{ms: 1, pressed: true, want: true},
		{ms: 2, pressed: true},
	})
}
