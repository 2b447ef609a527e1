// Package protocol encodes the telegrams sent to the control server and
// decodes its replies.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/sweeney/valve-sleeper/internal/clock"
	"github.com/sweeney/valve-sleeper/internal/control"
	"github.com/sweeney/valve-sleeper/internal/state"
)

// Telegram names.
const (
	NameRequest = "SleeperRequest"
	NameStatus  = "SleeperStatus"
)

// ErrMalformedReply is returned when a reply is not a JSON object.
var ErrMalformedReply = errors.New("protocol: malformed reply")

// Request is sent at the start of a cycle. The server answers with a reply.
type Request struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Time        string `json:"time"`
	OverrideEnd string `json:"overrideEnd"`
	Mode        string `json:"mode"`
	State       string `json:"state"`
	ProgramID   uint32 `json:"programId"`
	Opened      uint16 `json:"opened"`
	TotalOpen   uint32 `json:"totalOpen"`
	Resistance  uint16 `json:"resistance"`
	Voltage     int    `json:"voltage"`
	RSSI        int    `json:"RSSI"`
}

// Status is sent after the valve was operated, only if a reply was received.
type Status struct {
	Name      string `json:"name"`
	Time      string `json:"time"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
	ProgramID uint32 `json:"programId"`
	Opened    uint16 `json:"opened"`
	TotalOpen uint32 `json:"totalOpen"`
	Voltage   int    `json:"voltage"`
}

// NewRequest builds the request for the current state. now is epoch ms,
// battery the calibrated battery voltage in mV.
func NewRequest(st *state.PersistentState, now uint64, battery int, version string, rssi int) Request {
	return Request{
		Name:        NameRequest,
		Version:     version,
		Time:        clock.FormatMillis(now),
		OverrideEnd: clock.FormatMillis(st.OverrideEndTime),
		Mode:        control.StatusText(st),
		State:       onOff(st.ValveOpen),
		ProgramID:   st.ActivityProgramID,
		Opened:      st.TotalOpenCount,
		TotalOpen:   st.TotalOpenDuration,
		Resistance:  st.ValveResistance,
		Voltage:     battery,
		RSSI:        rssi,
	}
}

// NewStatus builds the status telegram for the current state.
func NewStatus(st *state.PersistentState, now uint64, battery int) Status {
	return Status{
		Name:      NameStatus,
		Time:      clock.FormatMillis(now),
		Mode:      control.StatusText(st),
		State:     onOff(st.ValveOpen),
		ProgramID: st.ActivityProgramID,
		Opened:    st.TotalOpenCount,
		TotalOpen: st.TotalOpenDuration,
		Voltage:   battery,
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// number is a JSON integer, optionally quoted. Fractions are truncated.
type number int64

func (n *number) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("number %s: %w", data, err)
		}
		v = int64(f)
	}
	*n = number(v)
	return nil
}

// text is a JSON string or a bare number kept as its literal.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(s)
		return nil
	}
	*t = text(data)
	return nil
}

// object is a decoded JSON object whose values are parsed key by key. A
// value of the wrong type is logged and treated as absent.
type object map[string]json.RawMessage

func (o object) raw(key string) (json.RawMessage, bool) {
	v, ok := o[key]
	if !ok || string(v) == "null" {
		return nil, false
	}
	return v, true
}

func (o object) str(key string) string {
	v, ok := o.raw(key)
	if !ok {
		return ""
	}
	var t text
	if err := json.Unmarshal(v, &t); err != nil {
		log.Printf("protocol: ignoring %s: %v", key, err)
		return ""
	}
	return string(t)
}

func (o object) num(key string) *int {
	v, ok := o.raw(key)
	if !ok {
		return nil
	}
	var n number
	if err := json.Unmarshal(v, &n); err != nil {
		log.Printf("protocol: ignoring %s: %v", key, err)
		return nil
	}
	i := int(n)
	return &i
}

// ParseReply decodes a server reply. Absent keys stay absent in the update.
// Every key is parsed on its own, so a bad value drops only that key. A
// reply that is not a JSON object returns ErrMalformedReply.
func ParseReply(data []byte) (control.RemoteUpdate, error) {
	var r object
	if err := json.Unmarshal(data, &r); err != nil {
		return control.RemoteUpdate{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	u := control.RemoteUpdate{
		Time:          r.str("time"),
		Mode:          r.str("mode"),
		Start:         r.str("start"),
		TimeOffset:    r.num("timeOffset"),
		SetTime:       r.num("setTime"),
		Wakeup:        r.num("wakeup"),
		Duration:      r.num("duration"),
		TimeScale:     r.num("timeScale"),
		VoltageOffset: r.num("voltageOffset"),
		MaxResistance: r.num("maxResistance"),
	}
	if id := r.num("programId"); id != nil {
		v := int64(*id)
		u.ProgramID = &v
	}
	u.Activities = parseActivities(r)
	return u, nil
}

// parseActivities decodes the activity list. An entry that is not an object
// is dropped and the rest of the program is kept.
func parseActivities(r object) []control.RemoteActivity {
	v, ok := r.raw("activities")
	if !ok {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(v, &entries); err != nil {
		log.Printf("protocol: ignoring activities: %v", err)
		return nil
	}
	var out []control.RemoteActivity
	for i, e := range entries {
		var a object
		if err := json.Unmarshal(e, &a); err != nil || a == nil {
			log.Printf("protocol: ignoring activity %d: not an object", i)
			continue
		}
		out = append(out, control.RemoteActivity{
			Day:      a.str("day"),
			Start:    a.str("start"),
			Duration: a.num("duration"),
		})
	}
	return out
}

// Marshal encodes a telegram.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal telegram: %w", err)
	}
	return data, nil
}
