package status

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/valve-sleeper/internal/clock"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Text          string         `json:"text"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	Cycle         CycleJSON      `json:"cycle"`
	Valve         ValveJSON      `json:"valve"`
	Control       ControlJSON    `json:"control"`
	Activities    []ActivityJSON `json:"activities"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// CycleJSON describes the last wake cycle.
type CycleJSON struct {
	Number        int    `json:"number"`
	Time          string `json:"time"`
	UserWakeup    bool   `json:"user_wakeup"`
	ReplyReceived bool   `json:"reply_received"`
	Synchronized  bool   `json:"synchronized"`
	BatteryMV     int    `json:"battery_mv"`
	Next          string `json:"next,omitempty"`
	DowntimeMs    int64  `json:"downtime_ms"`
	SleepMs       int64  `json:"sleep_ms"`
}

// ValveJSON reports the valve and its last operation.
type ValveJSON struct {
	Open              bool   `json:"open"`
	Status            string `json:"status"`
	CloseTime         string `json:"close_time,omitempty"`
	ResistanceOhm     uint16 `json:"resistance_ohm"`
	SupplyMV          uint16 `json:"supply_mv"`
	TotalOpenCount    uint16 `json:"total_open_count"`
	TotalOpenDuration uint32 `json:"total_open_seconds"`
}

// ControlJSON reports the state machine.
type ControlJSON struct {
	Mode          string `json:"mode"`
	RequestedMode string `json:"requested_mode"`
	Override      bool   `json:"override"`
	OverrideEnd   string `json:"override_end,omitempty"`
	LowBattery    bool   `json:"low_battery"`
	ProgramID     uint32 `json:"program_id"`
}

// ActivityJSON is one scheduled activity.
type ActivityJSON struct {
	Day      string `json:"day"`
	Start    string `json:"start"`
	Duration uint16 `json:"duration_s"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Version   string `json:"version"`
	Driver    string `json:"driver"`
	Broker    string `json:"broker"`
	HTTPAddr  string `json:"http_addr"`
	StateFile string `json:"state_file"`
}

// optionalTime formats epoch ms, empty for 0.
func optionalTime(ms uint64) string {
	if ms == 0 {
		return ""
	}
	return clock.FormatMillis(ms)
}

// Build converts a snapshot into its JSON representation.
func Build(snap Snapshot) StatusJSON {
	st := snap.State
	inner := StatusInner{
		Text:          snap.StatusText,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Cycle: CycleJSON{
			Number:        snap.Cycle.Number,
			Time:          optionalTime(snap.Cycle.Time),
			UserWakeup:    snap.Cycle.UserWakeup,
			ReplyReceived: snap.Cycle.ReplyReceived,
			Synchronized:  snap.Cycle.Synchronized,
			BatteryMV:     snap.Cycle.Battery,
			Next:          optionalTime(snap.Cycle.Next),
			DowntimeMs:    snap.Cycle.Downtime.Milliseconds(),
			SleepMs:       snap.Cycle.Sleep.Milliseconds(),
		},
		Valve: ValveJSON{
			Open:              st.ValveOpen,
			Status:            st.LastValveStatus.String(),
			ResistanceOhm:     st.ValveResistance,
			SupplyMV:          st.ValveSupplyVoltage,
			TotalOpenCount:    st.TotalOpenCount,
			TotalOpenDuration: st.TotalOpenDuration,
		},
		Control: ControlJSON{
			Mode:          st.Mode.String(),
			RequestedMode: st.RequestedMode.String(),
			Override:      st.Override,
			OverrideEnd:   optionalTime(st.OverrideEndTime),
			LowBattery:    st.LowBattery,
			ProgramID:     st.ActivityProgramID,
		},
		Activities: []ActivityJSON{},
		MQTT:       MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Version:   snap.Config.Version,
			Driver:    snap.Config.Driver,
			Broker:    snap.Config.Broker,
			HTTPAddr:  snap.Config.HTTPAddr,
			StateFile: snap.Config.StateFile,
		},
	}
	if st.ValveOpen {
		inner.Valve.CloseTime = optionalTime(st.ValveCloseTime)
	}
	for _, a := range st.Activities.All() {
		inner.Activities = append(inner.Activities, ActivityJSON{
			Day:      a.Day.String(),
			Start:    fmt.Sprintf("%02d:%02d", a.StartTime/60, a.StartTime%60),
			Duration: a.Duration,
		})
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return StatusJSON{Status: inner}
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}
