package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/valve-sleeper/internal/clock"
	"github.com/sweeney/valve-sleeper/internal/config"
	"github.com/sweeney/valve-sleeper/internal/control"
	"github.com/sweeney/valve-sleeper/internal/gpio"
	"github.com/sweeney/valve-sleeper/internal/sleeper"
	"github.com/sweeney/valve-sleeper/internal/state"
	"github.com/sweeney/valve-sleeper/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "Garden")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "Garden",
	}
	if *info != want {
		t.Errorf("NetworkInfo: got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.IP != "" || info.SSID != "" {
		t.Errorf("IP/SSID: got %q/%q, want empty", info.IP, info.SSID)
	}
}

func TestParseRSSI(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{
			name: "one interface",
			input: "Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE\n" +
				" face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22\n" +
				"wlan0: 0000   52.  -58.  -256        0      0      0      0     12        0\n",
			want: -58,
		},
		{
			name: "no interface",
			input: "Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE\n" +
				" face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22\n",
			want: 0,
		},
		{name: "empty", input: "", want: 0},
		{
			name:  "garbage level",
			input: "a\nb\nwlan0: 0000 52. x -256\n",
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRSSI(strings.NewReader(tt.input)); got != tt.want {
				t.Errorf("parseRSSI: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadRSSIMissingFile(t *testing.T) {
	if got := readRSSI(filepath.Join(t.TempDir(), "wireless")); got != 0 {
		t.Errorf("readRSSI: got %d, want 0", got)
	}
}

func TestVersion(t *testing.T) {
	if got := version(config.DriverCapacitor); got != appVersion+"C" {
		t.Errorf("capacitor: got %q", got)
	}
	if got := version(config.DriverHBridge); got != appVersion+"H" {
		t.Errorf("hbridge: got %q", got)
	}
}

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.toml")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.StateFile != config.Default().Storage.StateFile {
		t.Errorf("StateFile: got %q, want default", cfg.Storage.StateFile)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults not written: %v", err)
	}

	// the written file loads cleanly
	if _, err := loadConfig(path); err != nil {
		t.Errorf("reload: unexpected error: %v", err)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[mqtt]\nbogus = 1\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	printOutcome(&buf, sleeper.Outcome{Halt: true})
	if got := buf.String(); got != "halt\n" {
		t.Errorf("halt: got %q", got)
	}

	buf.Reset()
	next := clock.ToEpochMillis(clock.Calendar{Year: 120, Month: 2, Day: 4, Hour: 6})
	printOutcome(&buf, sleeper.Outcome{
		Cycle:    status.Cycle{Next: next},
		Downtime: control.Downtime{Sleep: 1500 * time.Millisecond, CutBack: true},
	})
	got := buf.String()
	for _, want := range []string{"sleep_ms=1500", "next=" + clock.FormatMillis(next), "cut_back=true"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestPrintStoredState(t *testing.T) {
	store := state.NewStore(state.NewFakeMemory(), 0)
	st := state.Defaults()
	st.Mode = state.ModeAuto
	st.RequestedMode = state.ModeAuto
	st.ValveOpen = false
	st.ActivityProgramID = 9
	st.Activities.Append(state.Activity{Day: state.DayEvery, StartTime: 6*60 + 30, Duration: 300})
	if err := store.Save(&st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := printStoredState(&buf, store); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"Mode: AUTO", "Valve: CLOSED", "Program: 9", "all 06:30 300 s"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPrintStoredStateEmpty(t *testing.T) {
	store := state.NewStore(state.NewFakeMemory(), 0)
	if err := printStoredState(&bytes.Buffer{}, store); err == nil {
		t.Error("expected error for empty memory")
	}
}

// --- runLoop tests ---

// scriptedWaker returns scripted outcomes and triggers one event per cycle:
// "timer", "button", "wake" or a signal.
type scriptedWaker struct {
	outcomes []sleeper.Outcome
	events   []string
	calls    []bool

	button chan struct{}
	wake   chan struct{}
	sig    chan os.Signal
	timer  bool
}

func newScriptedWaker(events ...string) *scriptedWaker {
	return &scriptedWaker{
		events: events,
		button: make(chan struct{}, 1),
		wake:   make(chan struct{}, 1),
		sig:    make(chan os.Signal, 1),
	}
}

func (w *scriptedWaker) Wake(ctx context.Context, userWakeup bool) sleeper.Outcome {
	i := len(w.calls)
	w.calls = append(w.calls, userWakeup)

	w.timer = false
	switch w.events[i] {
	case "timer":
		w.timer = true
	case "button":
		w.button <- struct{}{}
	case "wake":
		w.wake <- struct{}{}
	case "SIGINT":
		w.sig <- syscall.SIGINT
	case "SIGTERM":
		w.sig <- syscall.SIGTERM
	}

	if i < len(w.outcomes) {
		return w.outcomes[i]
	}
	return sleeper.Outcome{Downtime: control.Downtime{Sleep: time.Second}}
}

// after fires immediately when the current event is "timer" and never
// otherwise.
func (w *scriptedWaker) after(sleeps *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*sleeps = append(*sleeps, d)
		ch := make(chan time.Time, 1)
		if w.timer {
			ch <- time.Time{}
		}
		return ch
	}
}

func runScript(t *testing.T, w *scriptedWaker, userWakeup bool) (sleeps []time.Duration, connects int) {
	t.Helper()
	connect := func() { connects++ }
	err := runLoop(context.Background(), w, connect, userWakeup, w.button, w.wake, w.sig, w.after(&sleeps))
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	return sleeps, connects
}

func TestRunLoopSleepsBetweenCycles(t *testing.T) {
	w := newScriptedWaker("timer", "timer", "SIGTERM")
	w.outcomes = []sleeper.Outcome{
		{Downtime: control.Downtime{Sleep: 10 * time.Second}},
		{Downtime: control.Downtime{Sleep: 2 * time.Second}},
	}

	sleeps, connects := runScript(t, w, false)

	if len(w.calls) != 3 {
		t.Fatalf("cycles: got %d, want 3", len(w.calls))
	}
	if connects != 3 {
		t.Errorf("connects: got %d, want 3", connects)
	}
	if len(sleeps) < 2 || sleeps[0] != 10*time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("sleeps: got %v, want [10s 2s ...]", sleeps)
	}
	for i, uw := range w.calls {
		if uw {
			t.Errorf("cycle %d: unexpected user wakeup", i)
		}
	}
}

func TestRunLoopButtonIsUserWakeup(t *testing.T) {
	w := newScriptedWaker("button", "timer", "SIGINT")

	runScript(t, w, true)

	want := []bool{true, true, false}
	if len(w.calls) != len(want) {
		t.Fatalf("cycles: got %d, want %d", len(w.calls), len(want))
	}
	for i := range want {
		if w.calls[i] != want[i] {
			t.Errorf("cycle %d: userWakeup got %v, want %v", i, w.calls[i], want[i])
		}
	}
}

func TestRunLoopWakeRequestIsNotUserWakeup(t *testing.T) {
	w := newScriptedWaker("wake", "SIGTERM")

	runScript(t, w, false)

	if len(w.calls) != 2 {
		t.Fatalf("cycles: got %d, want 2", len(w.calls))
	}
	if w.calls[1] {
		t.Error("wake request: unexpected user wakeup")
	}
}

func TestRunLoopHaltWaitsForButton(t *testing.T) {
	w := newScriptedWaker("button", "SIGTERM")
	w.outcomes = []sleeper.Outcome{{Halt: true}}

	sleeps, _ := runScript(t, w, false)

	if len(w.calls) != 2 {
		t.Fatalf("cycles: got %d, want 2", len(w.calls))
	}
	if !w.calls[1] {
		t.Error("expected user wakeup after halt")
	}
	// the halted cycle sets no timer
	if len(sleeps) != 1 {
		t.Errorf("timers: got %d, want 1", len(sleeps))
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	for _, sig := range []string{"SIGINT", "SIGTERM"} {
		t.Run(sig, func(t *testing.T) {
			w := newScriptedWaker(sig)
			runScript(t, w, false)
			if len(w.calls) != 1 {
				t.Errorf("cycles: got %d, want 1", len(w.calls))
			}
		})
	}
}

func TestWatchButtonSignalsPress(t *testing.T) {
	samples := make([]bool, 20)
	samples = append(samples, true)
	b := gpio.NewFakeButton(samples...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := watchButton(ctx, b, time.Millisecond, 2*time.Millisecond)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a press")
	}

	// a held button is one press
	select {
	case <-ch:
		t.Error("unexpected second press while held")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchButtonHeldAtStartup(t *testing.T) {
	b := gpio.NewFakeButton(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := watchButton(ctx, b, time.Millisecond, 2*time.Millisecond)

	select {
	case <-ch:
		t.Error("button held at startup reported as press")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestWatchButtonReadError(t *testing.T) {
	b := gpio.NewFakeButton()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := watchButton(ctx, b, time.Millisecond, 0)

	select {
	case <-ch:
		t.Error("unexpected press on read error")
	case <-time.After(20 * time.Millisecond):
	}
}
