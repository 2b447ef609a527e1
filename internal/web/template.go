package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/valve-sleeper/internal/clock"
	"github.com/sweeney/valve-sleeper/internal/state"
	"github.com/sweeney/valve-sleeper/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"millis": func(ms uint64) string {
		if ms == 0 {
			return "-"
		}
		return clock.FormatMillis(ms)
	},
	"hhmm": func(minutes uint16) string {
		return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Valve Sleeper</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.open { color: green; font-weight: bold; }
.closed { color: #888; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Valve Sleeper<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Valve</h2>
<table>
<tr><th>Status</th><td id="status-text">{{.StatusText}}</td></tr>
<tr><th>Valve</th><td id="valve" class="{{if .State.ValveOpen}}open{{else}}closed{{end}}">{{if .State.ValveOpen}}OPEN{{else}}CLOSED{{end}}</td></tr>
<tr><th>Last operation</th><td class="{{if .ValveFault}}fault{{end}}">{{.State.LastValveStatus}}</td></tr>
{{if .State.ValveOpen}}<tr><th>Closes at</th><td>{{millis .State.ValveCloseTime}}</td></tr>{{end}}
<tr><th>Resistance</th><td>{{.State.ValveResistance}} ohm</td></tr>
<tr><th>Supply</th><td>{{.State.ValveSupplyVoltage}} mV</td></tr>
<tr><th>Opened</th><td>{{.State.TotalOpenCount}} times, {{.State.TotalOpenDuration}} s total</td></tr>
</table>

<h2>Control</h2>
<table>
<tr><th>Mode</th><td>{{.State.Mode}}</td></tr>
<tr><th>Override</th><td>{{if .State.Override}}until {{millis .State.OverrideEndTime}}{{else}}no{{end}}</td></tr>
<tr><th>Low battery</th><td>{{if .State.LowBattery}}<span class="fault">yes</span>, shutdown {{millis .State.LowBatteryTime}}{{else}}no{{end}}</td></tr>
<tr><th>Program</th><td>{{.State.ActivityProgramID}}</td></tr>
</table>

{{if .Activities}}<h2>Activities</h2>
<table>
<tr><th>Day</th><td><b>Start / Duration</b></td></tr>
{{range .Activities}}<tr><th>{{.Day}}</th><td>{{hhmm .StartTime}} / {{if .Duration}}{{.Duration}} s{{else}}default{{end}}</td></tr>
{{end}}</table>
{{end}}

<h2>Last Cycle</h2>
<table>
<tr><th>Cycle</th><td id="cycle">{{.Cycle.Number}}</td></tr>
<tr><th>Time</th><td>{{millis .Cycle.Time}}{{if .Cycle.Synchronized}} (synchronized){{end}}</td></tr>
<tr><th>Wakeup</th><td>{{if .Cycle.UserWakeup}}user{{else}}timer{{end}}</td></tr>
<tr><th>Server reply</th><td>{{if .Cycle.ReplyReceived}}yes{{else}}no{{end}}</td></tr>
<tr><th>Battery</th><td>{{.Cycle.Battery}} mV</td></tr>
<tr><th>Next event</th><td>{{millis .Cycle.Next}}</td></tr>
<tr><th>Downtime</th><td>{{.Cycle.Downtime}} (sleep {{.Cycle.Sleep}})</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Version</th><td>{{.Config.Version}}</td></tr>
<tr><th>Driver</th><td>{{.Config.Driver}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>State file</th><td>{{.Config.StateFile}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<form method="post" action="/wake" id="wake-form"><button type="submit">Wake now</button></form>
<p><a href="/index.json">JSON</a></p>

<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  document.getElementById("wake-form").addEventListener("submit", function(e) {
    e.preventDefault();
    fetch("/wake", { method: "POST" });
  });

  var first = true;
  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/websocket");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      // the first message repeats what was rendered
      if (first) { first = false; return; }
      location.reload();
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	st := snap.State
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		ValveFault bool
		Activities []state.Activity
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		ValveFault: st.LastValveStatus != state.StatusOK && st.LastValveStatus != state.StatusUnknown,
		Activities: st.Activities.All(),
	}
	return indexTmpl.Execute(w, data)
}
