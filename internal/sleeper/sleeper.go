// Package sleeper runs the wake cycles of the valve controller.
//
// A wake cycle restores the state record, checks the battery, handles a
// button press, exchanges telegrams with the control server, operates the
// valve and plans the next sleep. Nothing but the state record survives from
// one cycle to the next.
package sleeper

import (
	"context"
	"log"
	"net/netip"
	"strings"
	"time"

	"github.com/sweeney/valve-sleeper/internal/adc"
	"github.com/sweeney/valve-sleeper/internal/control"
	"github.com/sweeney/valve-sleeper/internal/mqtt"
	"github.com/sweeney/valve-sleeper/internal/protocol"
	"github.com/sweeney/valve-sleeper/internal/state"
	"github.com/sweeney/valve-sleeper/internal/status"
	"github.com/sweeney/valve-sleeper/internal/valve"
)

// Config holds the settings of a Sleeper.
type Config struct {
	// Version is reported in every request.
	Version string

	// ReplyTimeout bounds the wait for the server reply.
	ReplyTimeout time.Duration

	MinBattery          int // mV
	LowBatteryReporting time.Duration
}

// DefaultConfig returns the factory settings.
func DefaultConfig(version string) Config {
	return Config{
		Version:             version,
		ReplyTimeout:        5 * time.Second,
		MinBattery:          control.MinBatteryMillivolts,
		LowBatteryReporting: control.DefaultLowBatteryReporting,
	}
}

// Outcome is the result of a wake cycle.
type Outcome struct {
	Cycle    status.Cycle
	Downtime control.Downtime

	// Halt reports the permanent low battery shutdown. The controller must
	// not wake up again by itself.
	Halt bool
}

// Sleeper performs wake cycles against a state store.
type Sleeper struct {
	store   *state.Store
	driver  valve.Driver
	battery adc.Sampler
	uplink  mqtt.Uplink
	tracker *status.Tracker
	cfg     Config

	// Clock returns the current time. Only differences are used, to measure
	// the uptime of a cycle.
	Clock func() time.Time

	// RSSI returns the signal strength in dB, reported with each request.
	RSSI func() int

	// Network returns the current network info, stored as lease. May be nil.
	Network func() *status.NetworkInfo

	cycles int
}

// New creates a Sleeper. battery and uplink may be nil: without a battery
// sampler the battery check is skipped, without an uplink every cycle runs
// offline. tracker may be nil.
func New(store *state.Store, driver valve.Driver, battery adc.Sampler, uplink mqtt.Uplink, tracker *status.Tracker, cfg Config) *Sleeper {
	return &Sleeper{
		store:   store,
		driver:  driver,
		battery: battery,
		uplink:  uplink,
		tracker: tracker,
		cfg:     cfg,
		Clock:   time.Now,
	}
}

// SetUplink replaces the uplink used by the following cycles.
func (s *Sleeper) SetUplink(u mqtt.Uplink) {
	s.uplink = u
}

// Uplink returns the current uplink, nil when offline.
func (s *Sleeper) Uplink() mqtt.Uplink {
	return s.uplink
}

// Wake runs one wake cycle. userWakeup reports a button press.
func (s *Sleeper) Wake(ctx context.Context, userWakeup bool) Outcome {
	start := s.Clock()
	uptime := func() time.Duration { return s.Clock().Sub(start) }

	st, fresh := s.store.Restore()
	if fresh {
		log.Printf("sleeper: state reinitialized, valve assumed open")
	}
	now := func() uint64 { return st.EstimateNow(uptime()) }

	ctrl := control.New(&st, s.driver, now)
	ctrl.MinBattery = s.cfg.MinBattery
	ctrl.LowBatteryReporting = s.cfg.LowBatteryReporting

	s.cycles++
	cyc := status.Cycle{Number: s.cycles, UserWakeup: userWakeup}

	if mv, ok := s.readBattery(&st); ok && ctrl.CheckBattery(mv) {
		if st.ValveOpen {
			ctrl.Control(control.Request{Mode: state.ModeOff})
		}
		s.save(&st)
		if ctrl.LowBatteryShutdownDue(userWakeup) {
			log.Printf("sleeper: low battery shutdown")
			s.driver.Shutdown()
			cyc.Time = now()
			cyc.Battery = ctrl.BatteryMillivolts
			s.publish(cyc, &st)
			return Outcome{Cycle: cyc, Halt: true}
		}
		log.Printf("sleeper: LOW BATTERY")
	}

	if userWakeup {
		log.Printf("sleeper: wakeup by user")
		ctrl.UserWakeup()
		// keep the manual toggle even if the server cannot be reached
		s.save(&st)
	}

	s.recordLease(&st)

	req := control.Request{Mode: st.Mode}
	replied := false
	if s.uplink != nil {
		req, replied = s.exchange(ctx, ctrl, uptime)
	} else {
		log.Printf("sleeper: offline")
	}

	res := ctrl.Control(req)

	if replied {
		s.sendStatus(ctrl)
	}

	s.driver.Shutdown()
	down := ctrl.Shutdown(res.Next)
	s.save(&st)

	cyc.Time = st.LastShutdownTime
	cyc.ReplyReceived = replied
	cyc.Synchronized = ctrl.Synchronized
	cyc.Battery = ctrl.BatteryMillivolts
	cyc.Next = res.Next
	cyc.Downtime = down.Downtime
	cyc.Sleep = down.Sleep
	s.publish(cyc, &st)

	return Outcome{Cycle: cyc, Downtime: down}
}

// exchange sends the request and applies the reply. Without a reply the
// machine runs on the stored mode.
func (s *Sleeper) exchange(ctx context.Context, ctrl *control.Controller, uptime func() time.Duration) (control.Request, bool) {
	st := ctrl.State()
	req := control.Request{Mode: st.Mode}

	rssi := 0
	if s.RSSI != nil {
		rssi = s.RSSI()
	}
	data, err := protocol.Marshal(protocol.NewRequest(st, ctrl.Now(), ctrl.BatteryMillivolts, s.cfg.Version, rssi))
	if err != nil {
		log.Printf("sleeper: encode request: %v", err)
		return req, false
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	reply, err := s.uplink.Exchange(rctx, data)
	cancel()
	if err != nil {
		log.Printf("sleeper: %v", err)
		return req, false
	}
	rx := uptime()

	u, err := protocol.ParseReply(reply)
	if err != nil {
		// a reply arrived, the status is still due
		log.Printf("sleeper: %v", err)
		return req, true
	}
	return ctrl.ApplyRemoteUpdate(u, rx), true
}

func (s *Sleeper) sendStatus(ctrl *control.Controller) {
	data, err := protocol.Marshal(protocol.NewStatus(ctrl.State(), ctrl.Now(), ctrl.BatteryMillivolts))
	if err != nil {
		log.Printf("sleeper: encode status: %v", err)
		return
	}
	if err := s.uplink.SendStatus(data); err != nil {
		log.Printf("sleeper: send status: %v", err)
	}
}

// readBattery returns the calibrated battery voltage.
func (s *Sleeper) readBattery(st *state.PersistentState) (int, bool) {
	if s.battery == nil {
		return 0, false
	}
	mv, err := s.battery.Millivolts()
	if err != nil {
		log.Printf("sleeper: battery: %v", err)
		return 0, false
	}
	return mv + int(st.BatteryOffset), true
}

// recordLease stores the current address so the next cycle can report it.
func (s *Sleeper) recordLease(st *state.PersistentState) {
	if s.Network == nil {
		return
	}
	info := s.Network()
	if info == nil || info.IP == "" {
		return
	}
	lease, ok := parseLease(info.IP, info.Gateway)
	if !ok {
		log.Printf("sleeper: cannot parse address %q", info.IP)
		return
	}
	st.Lease = lease
}

// parseLease accepts "a.b.c.d" or "a.b.c.d/nn". An unparsable gateway is
// left unset.
func parseLease(ip, gateway string) (state.Lease, bool) {
	var lease state.Lease
	if strings.Contains(ip, "/") {
		p, err := netip.ParsePrefix(ip)
		if err != nil {
			return lease, false
		}
		lease.IP = p.Addr()
		lease.Prefix = p.Bits()
	} else {
		a, err := netip.ParseAddr(ip)
		if err != nil {
			return lease, false
		}
		lease.IP = a
	}
	if gw, err := netip.ParseAddr(gateway); err == nil {
		lease.Gateway = gw
	}
	return lease, true
}

func (s *Sleeper) save(st *state.PersistentState) {
	if err := s.store.Save(st); err != nil {
		log.Printf("sleeper: %v", err)
	}
}

func (s *Sleeper) publish(c status.Cycle, st *state.PersistentState) {
	if s.tracker == nil {
		return
	}
	s.tracker.Update(c, *st, control.StatusText(st))
	if cs, ok := s.uplink.(mqtt.ConnectionStatus); ok {
		s.tracker.SetMQTTConnected(cs.IsConnected())
	} else {
		s.tracker.SetMQTTConnected(false)
	}
}
