// Package status provides a thread-safe view of the last wake cycle for the
// HTTP status page.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/valve-sleeper/internal/state"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Version   string
	Driver    string
	Broker    string
	HTTPAddr  string
	StateFile string
}

// Cycle describes one completed wake cycle.
type Cycle struct {
	Number        int
	Time          uint64 // epoch ms, estimated
	UserWakeup    bool
	ReplyReceived bool
	Synchronized  bool
	Battery       int    // mV
	Next          uint64 // epoch ms, 0 = none
	Downtime      time.Duration
	Sleep         time.Duration
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Cycle         Cycle
	State         state.PersistentState
	StatusText    string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu          sync.RWMutex
	snap        Snapshot
	subscribers map[chan Snapshot]struct{}
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:  startTime,
			Config:     cfg,
			StatusText: "UNKNOWN",
		},
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Update records a completed cycle and notifies subscribers.
func (t *Tracker) Update(c Cycle, st state.PersistentState, statusText string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Cycle = c
	t.snap.State = st
	t.snap.StatusText = statusText

	s := t.snap
	s.Now = time.Now()
	for ch := range t.subscribers {
		// slow subscribers miss updates
		select {
		case ch <- s:
		default:
		}
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Subscribe returns a channel receiving a snapshot after every Update. The
// returned function unsubscribes and closes the channel.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
}
