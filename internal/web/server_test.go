package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/valve-sleeper/internal/state"
	"github.com/sweeney/valve-sleeper/internal/status"
)

func newTestServer(t *testing.T, wake func() bool) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Version:   "1.0C",
		Driver:    "capacitor",
		Broker:    "tcp://192.168.1.200:1883",
		HTTPAddr:  ":80",
		StateFile: "/var/lib/valve-sleeper/state.bin",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr, wake)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tr
}

func openState() state.PersistentState {
	st := state.Defaults()
	st.ValveOpen = true
	st.ValveCloseTime = 1577858400000
	st.LastValveStatus = state.StatusOK
	st.Mode = state.ModeAuto
	st.Activities.Append(state.Activity{Day: state.DayEvery, StartTime: 360, Duration: 1800})
	return st
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.Update(status.Cycle{Number: 2, Battery: 3600}, openState(), "AUTO")
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if sj.Status.Text != "AUTO" {
		t.Errorf("Text: got %q, want AUTO", sj.Status.Text)
	}
	if !sj.Status.Valve.Open {
		t.Error("expected Valve.Open=true")
	}
	if sj.Status.Cycle.Number != 2 {
		t.Errorf("Cycle.Number: got %d, want 2", sj.Status.Cycle.Number)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	}
	if len(sj.Status.Activities) != 1 {
		t.Errorf("Activities: got %d, want 1", len(sj.Status.Activities))
	}
	if sj.Status.Config.Version != "1.0C" {
		t.Errorf("Config.Version: got %q, want 1.0C", sj.Status.Config.Version)
	}
}

func TestJSONUnknownBeforeFirstCycle(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Text != "UNKNOWN" {
		t.Errorf("Text before first cycle: got %q, want UNKNOWN", sj.Status.Text)
	}
	if sj.Status.Cycle.Number != 0 {
		t.Errorf("Cycle.Number: got %d, want 0", sj.Status.Cycle.Number)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	st := openState()
	st.LastValveStatus = state.StatusBadWiring
	tr.Update(status.Cycle{Number: 1}, st, "BAD VALVE WIRING")

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"BAD VALVE WIRING", "OPEN", "06:00", `class="fault"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestWake(t *testing.T) {
	tests := []struct {
		name   string
		wake   func() bool
		method string
		want   int
	}{
		{"accepted", func() bool { return true }, http.MethodPost, http.StatusAccepted},
		{"pending", func() bool { return false }, http.MethodPost, http.StatusConflict},
		{"disabled", nil, http.MethodPost, http.StatusServiceUnavailable},
		{"get not allowed", func() bool { return true }, http.MethodGet, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, tt.wake)
			req, _ := http.NewRequest(tt.method, ts.URL+"/wake", nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestWakeCallsFunction(t *testing.T) {
	calls := 0
	ts, _ := newTestServer(t, func() bool { calls++; return true })

	resp, err := http.Post(ts.URL+"/wake", "text/plain", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls != 1 {
		t.Errorf("wake calls: got %d, want 1", calls)
	}
}

func TestWebsocketStreamsCycles(t *testing.T) {
	ts, tr := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first status.StatusJSON
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.Status.Text != "UNKNOWN" {
		t.Errorf("initial Text: got %q, want UNKNOWN", first.Status.Text)
	}

	// the subscription is registered before the initial message is sent
	tr.Update(status.Cycle{Number: 5}, openState(), "AUTO")

	var next status.StatusJSON
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Status.Cycle.Number != 5 {
		t.Errorf("Cycle.Number: got %d, want 5", next.Status.Cycle.Number)
	}
	if next.Status.Text != "AUTO" {
		t.Errorf("Text: got %q, want AUTO", next.Status.Text)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t, nil)

	sj1 := getJSON(t, ts.URL+"/index.json")
	if sj1.Status.Valve.Open {
		t.Error("expected closed valve initially")
	}

	tr.Update(status.Cycle{Number: 1}, openState(), "AUTO")
	tr.SetMQTTConnected(true)

	sj2 := getJSON(t, ts.URL+"/index.json")
	if !sj2.Status.Valve.Open {
		t.Error("expected open valve after update")
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
