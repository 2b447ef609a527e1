// Command valve-sleeper controls a latching irrigation valve in short wake
// cycles and sleeps in between.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/valve-sleeper/internal/adc"
	"github.com/sweeney/valve-sleeper/internal/clock"
	"github.com/sweeney/valve-sleeper/internal/config"
	"github.com/sweeney/valve-sleeper/internal/control"
	"github.com/sweeney/valve-sleeper/internal/gpio"
	"github.com/sweeney/valve-sleeper/internal/mqtt"
	"github.com/sweeney/valve-sleeper/internal/sleeper"
	"github.com/sweeney/valve-sleeper/internal/state"
	"github.com/sweeney/valve-sleeper/internal/status"
	"github.com/sweeney/valve-sleeper/internal/valve"
	"github.com/sweeney/valve-sleeper/internal/web"
)

// appVersion is reported to the server, followed by the driver letter.
const appVersion = "1.4"

// Wake button polling in loop mode.
const (
	buttonPoll     = 20 * time.Millisecond
	buttonDebounce = 100 * time.Millisecond
)

func main() {
	configPath := flag.String("config", "/etc/valve-sleeper/config.toml", "Configuration file")
	loop := flag.Bool("loop", false, "Keep running and sleep between cycles (default: one cycle, then exit)")
	printState := flag.Bool("print-state", false, "Print the stored state and exit")
	httpAddr := flag.String("http", "", "HTTP status address, overrides the config (loop mode only)")
	broker := flag.String("broker", "", `MQTT broker address, overrides the config ("off" runs offline)`)

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.HTTP.Listen = *httpAddr
		case "broker":
			cfg.MQTT.Broker = *broker
			if *broker == "off" {
				cfg.MQTT.Broker = ""
			}
		}
	})

	if *printState {
		err = printStoredState(os.Stdout, state.NewStore(state.NewFileMemory(cfg.Storage.StateFile), cfg.Storage.Offset))
	} else {
		err = run(cfg, *loop)
	}
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig reads the configuration. A missing file is created with the
// defaults.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("config %s not found, writing defaults", path)
		if err := config.Write(path, cfg); err != nil {
			log.Printf("cannot write default config: %v", err)
		}
		return cfg, nil
	}
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// version returns the version string reported to the server.
func version(driver string) string {
	if driver == config.DriverHBridge {
		return appVersion + "H"
	}
	return appVersion + "C"
}

func run(cfg config.Config, loop bool) error {
	// Initialize hardware
	openDrain := cfg.Valve.Driver == config.DriverCapacitor
	outputs, err := gpio.NewRealOutputs(cfg.GPIO.Chip, cfg.GPIO.Pins(), openDrain)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer outputs.Close()

	button, err := gpio.NewRealButton(cfg.GPIO.Chip, cfg.GPIO.Button)
	if err != nil {
		return fmt.Errorf("init button: %w", err)
	}
	defer button.Close()

	var battery, capacitor adc.Sampler
	converter, err := adc.Open(cfg.ADC.Bus, cfg.ADC.Address)
	switch {
	case err == nil:
		defer converter.Close()
		if capacitor, err = converter.Channel(cfg.ADC.CapacitorChannel, cfg.ADC.CapacitorRatio, cfg.ADC.Oversample); err != nil {
			return fmt.Errorf("init adc: %w", err)
		}
		if battery, err = converter.Channel(cfg.ADC.BatteryChannel, cfg.ADC.BatteryRatio, cfg.ADC.Oversample); err != nil {
			return fmt.Errorf("init adc: %w", err)
		}
	case cfg.Valve.Driver == config.DriverCapacitor:
		return fmt.Errorf("init adc: %w", err)
	default:
		// the H-bridge needs no sensing
		log.Printf("adc unavailable, battery check disabled: %v", err)
	}

	driver := newDriver(cfg, outputs, capacitor)
	store := state.NewStore(state.NewFileMemory(cfg.Storage.StateFile), cfg.Storage.Offset)

	httpAddr := cfg.HTTP.Listen
	if !loop {
		httpAddr = ""
	}
	tracker := status.NewTracker(time.Now(), status.Config{
		Version:   version(cfg.Valve.Driver),
		Driver:    cfg.Valve.Driver,
		Broker:    cfg.MQTT.Broker,
		HTTPAddr:  httpAddr,
		StateFile: cfg.Storage.StateFile,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	scfg := sleeper.DefaultConfig(version(cfg.Valve.Driver))
	scfg.ReplyTimeout = time.Duration(cfg.MQTT.ReplyTimeout)
	scfg.MinBattery = cfg.Power.MinBattery
	scfg.LowBatteryReporting = time.Duration(cfg.Power.LowBatteryReporting)

	s := sleeper.New(store, driver, battery, nil, tracker, scfg)
	s.Network = readNetworkInfo
	s.RSSI = func() int { return readRSSI(procWireless) }
	connect := func() {
		if cfg.MQTT.Broker == "" || s.Uplink() != nil {
			return
		}
		u, err := mqtt.NewRealUplink(cfg.MQTT.Options())
		if err != nil {
			log.Printf("mqtt: %v, running offline", err)
			return
		}
		s.SetUplink(u)
	}
	defer func() {
		if u := s.Uplink(); u != nil {
			u.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pressed, err := button.Pressed()
	if err != nil {
		log.Printf("button: %v", err)
	}

	if !loop {
		connect()
		out := s.Wake(ctx, pressed)
		printOutcome(os.Stdout, out)
		return nil
	}

	wakeCh := make(chan struct{}, 1)
	if httpAddr != "" {
		srv := web.New(httpAddr, tracker, func() bool {
			select {
			case wakeCh <- struct{}{}:
				return true
			default:
				return false
			}
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", httpAddr)
	}

	log.Printf("started: driver=%s broker=%s state=%s", cfg.Valve.Driver, cfg.MQTT.Broker, cfg.Storage.StateFile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	buttonCh := watchButton(ctx, button, buttonPoll, buttonDebounce)
	return runLoop(ctx, s, connect, pressed, buttonCh, wakeCh, sigCh, time.After)
}

func newDriver(cfg config.Config, outputs gpio.Outputs, capacitor adc.Sampler) valve.Driver {
	timer := valve.NewSystemTimer()
	if cfg.Valve.Driver == config.DriverHBridge {
		return valve.NewHBridgeDriver(outputs, timer, cfg.Valve.Params())
	}
	return valve.NewCapacitorDriver(outputs, capacitor, timer, cfg.Valve.Params())
}

// waker runs wake cycles.
type waker interface {
	Wake(ctx context.Context, userWakeup bool) sleeper.Outcome
}

// runLoop runs a wake cycle, then sleeps until the downtime has passed, the
// button is pressed or a wake is requested. After a low battery halt only
// the button or a wake request start the next cycle.
func runLoop(ctx context.Context, s waker, connect func(), userWakeup bool, button, wake <-chan struct{}, sig <-chan os.Signal, after func(time.Duration) <-chan time.Time) error {
	for {
		connect()
		out := s.Wake(ctx, userWakeup)

		var timer <-chan time.Time
		if out.Halt {
			log.Printf("low battery halt, waiting for button")
		} else {
			timer = after(out.Downtime.Sleep)
		}

		select {
		case sg := <-sig:
			log.Printf("received %v, shutting down", sg)
			return nil
		case <-timer:
			userWakeup = false
		case <-button:
			userWakeup = true
		case <-wake:
			userWakeup = false
		}
	}
}

// watchButton polls the button and signals each debounced press.
func watchButton(ctx context.Context, b gpio.Button, interval, debounce time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		d := gpio.NewDebouncer(debounce)
		for {
			var now time.Time
			select {
			case <-ctx.Done():
				return
			case now = <-ticker.C:
			}
			pressed, err := b.Pressed()
			if err != nil {
				log.Printf("button: %v", err)
				continue
			}
			if d.Process(pressed, now) {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}

func printOutcome(w io.Writer, out sleeper.Outcome) {
	if out.Halt {
		fmt.Fprintln(w, "halt")
		return
	}
	fmt.Fprintf(w, "sleep_ms=%d next=%s cut_back=%v\n",
		out.Downtime.Sleep.Milliseconds(), formatOptional(out.Cycle.Next), out.Downtime.CutBack)
}

func printStoredState(w io.Writer, store *state.Store) error {
	st, err := store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	fmt.Fprintf(w, "Status: %s\n", control.StatusText(&st))
	fmt.Fprintf(w, "Mode: %s (requested %s)\n", st.Mode, st.RequestedMode)
	fmt.Fprintf(w, "Valve: %s, last operation %s\n", stateString(st.ValveOpen), st.LastValveStatus)
	if st.ValveOpen {
		fmt.Fprintf(w, "Closes: %s\n", formatOptional(st.ValveCloseTime))
	}
	if st.Override {
		fmt.Fprintf(w, "Override until: %s\n", formatOptional(st.OverrideEndTime))
	}
	fmt.Fprintf(w, "Opened: %d times, %d s\n", st.TotalOpenCount, st.TotalOpenDuration)
	fmt.Fprintf(w, "Last shutdown: %s, downtime %d ms\n", clock.FormatMillis(st.LastShutdownTime), st.LastDowntime)
	fmt.Fprintf(w, "Program: %d\n", st.ActivityProgramID)
	for _, a := range st.Activities.All() {
		fmt.Fprintf(w, "  %s %02d:%02d %d s\n", a.Day, a.StartTime/60, a.StartTime%60, a.Duration)
	}
	return nil
}

func formatOptional(ms uint64) string {
	if ms == 0 {
		return "-"
	}
	return clock.FormatMillis(ms)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

const procWireless = "/proc/net/wireless"

// readRSSI returns the signal level of the first wireless interface listed
// in path, 0 if there is none.
func readRSSI(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return parseRSSI(f)
}

// parseRSSI reads the /proc/net/wireless format: two header lines, then
// "iface: status link level noise ...".
func parseRSSI(r io.Reader) int {
	sc := bufio.NewScanner(r)
	for i := 0; sc.Scan(); i++ {
		if i < 2 {
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			continue
		}
		return int(level)
	}
	return 0
}

func stateString(open bool) string {
	if open {
		return "OPEN"
	}
	return "CLOSED"
}
