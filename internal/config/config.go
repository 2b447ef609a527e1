// Package config loads the controller configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sweeney/valve-sleeper/internal/control"
	"github.com/sweeney/valve-sleeper/internal/gpio"
	"github.com/sweeney/valve-sleeper/internal/mqtt"
	"github.com/sweeney/valve-sleeper/internal/valve"
)

// ErrInvalid is returned by Validate for an unusable configuration.
var ErrInvalid = errors.New("config: invalid")

// Driver types.
const (
	DriverCapacitor = "capacitor"
	DriverHBridge   = "hbridge"
)

// Duration is a time.Duration written as "1m30s" in TOML.
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete controller configuration.
type Config struct {
	MQTT    MQTT    `toml:"mqtt"`
	Storage Storage `toml:"storage"`
	GPIO    GPIO    `toml:"gpio"`
	ADC     ADC     `toml:"adc"`
	Valve   Valve   `toml:"valve"`
	Power   Power   `toml:"power"`
	HTTP    HTTP    `toml:"http"`
}

// MQTT configures the uplink. An empty broker runs without server.
type MQTT struct {
	Broker         string   `toml:"broker"`
	ClientID       string   `toml:"client_id"`
	RequestTopic   string   `toml:"request_topic"`
	ReplyTopic     string   `toml:"reply_topic"`
	StatusTopic    string   `toml:"status_topic"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	ReplyTimeout   Duration `toml:"reply_timeout"`
	PublishTimeout Duration `toml:"publish_timeout"`
	Backlog        int      `toml:"backlog"`
}

// Storage locates the persistent state record.
type Storage struct {
	StateFile string `toml:"state_file"`
	Offset    int    `toml:"offset"`
}

// GPIO assigns the driver lines and the wake button.
type GPIO struct {
	Chip      string `toml:"chip"`
	Close     int    `toml:"close"`
	Open      int    `toml:"open"`
	Capacitor int    `toml:"capacitor"`
	Generator int    `toml:"generator"`
	Button    int    `toml:"button"`
}

// ADC configures the ADS1115 converter.
type ADC struct {
	Bus              string  `toml:"bus"`
	Address          uint16  `toml:"address"`
	CapacitorChannel int     `toml:"capacitor_channel"`
	CapacitorRatio   float64 `toml:"capacitor_ratio"`
	BatteryChannel   int     `toml:"battery_channel"`
	BatteryRatio     float64 `toml:"battery_ratio"`
	Oversample       int     `toml:"oversample"`
}

// Valve selects the driver and its electrical constants.
type Valve struct {
	Driver         string   `toml:"driver"`
	Capacitance    float64  `toml:"capacitance"`
	RCConstant     float64  `toml:"rc_constant"`
	NominalSupply  int      `toml:"nominal_supply"`
	TypicalSupply  int      `toml:"typical_supply"`
	MaxValidSupply int      `toml:"max_valid_supply"`
	OpenPulse      Duration `toml:"open_pulse"`
	ClosePulse     Duration `toml:"close_pulse"`
	MinResistance  int      `toml:"min_resistance"`
	MaxResistance  int      `toml:"max_resistance"`
}

// Power configures the battery supervision.
type Power struct {
	MinBattery          int      `toml:"min_battery"`
	LowBatteryReporting Duration `toml:"low_battery_reporting"`
}

// HTTP configures the status page. An empty address disables it.
type HTTP struct {
	Listen string `toml:"listen"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	p := valve.DefaultParams()
	pins := gpio.DefaultPins()
	topics := mqtt.DefaultTopics("valve-sleeper")
	return Config{
		MQTT: MQTT{
			Broker:         "tcp://192.168.1.200:1883",
			ClientID:       "valve-sleeper",
			RequestTopic:   topics.Request,
			ReplyTopic:     topics.Reply,
			StatusTopic:    topics.Status,
			ConnectTimeout: Duration(10 * time.Second),
			ReplyTimeout:   Duration(5 * time.Second),
			PublishTimeout: Duration(5 * time.Second),
			Backlog:        16,
		},
		Storage: Storage{
			StateFile: "/var/lib/valve-sleeper/state.bin",
		},
		GPIO: GPIO{
			Chip:      "gpiochip0",
			Close:     pins.Close,
			Open:      pins.Open,
			Capacitor: pins.Capacitor,
			Generator: pins.Generator,
			Button:    pins.Button,
		},
		ADC: ADC{
			Bus:              "",
			Address:          0x48,
			CapacitorChannel: 0,
			CapacitorRatio:   4.0,
			BatteryChannel:   1,
			BatteryRatio:     2.0,
			Oversample:       1,
		},
		Valve: Valve{
			Driver:         DriverCapacitor,
			Capacitance:    p.Capacitance,
			RCConstant:     p.RCConstant,
			NominalSupply:  p.NominalSupply,
			TypicalSupply:  p.TypicalSupply,
			MaxValidSupply: p.MaxValidSupply,
			OpenPulse:      Duration(p.OpenPulse),
			ClosePulse:     Duration(p.ClosePulse),
			MinResistance:  p.MinResistance,
			MaxResistance:  p.MaxResistance,
		},
		Power: Power{
			MinBattery:          control.MinBatteryMillivolts,
			LowBatteryReporting: Duration(control.DefaultLowBatteryReporting),
		},
		HTTP: HTTP{
			Listen: ":8080",
		},
	}
}

// Load reads the file at path over the defaults. A missing file yields the
// defaults and an error matching os.ErrNotExist.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), err
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown keys %v in %s", ErrInvalid, undecoded, path)
	}
	return cfg, cfg.Validate()
}

// Write stores cfg at path, creating the directory if needed.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}

// Validate checks ranges and consistency.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.MQTT.Broker == "" || c.MQTT.ClientID != "", "mqtt.client_id is required")
	check(c.MQTT.ReplyTimeout > 0, "mqtt.reply_timeout must be positive")
	check(c.Storage.StateFile != "", "storage.state_file is required")
	check(c.Storage.Offset >= 0, "storage.offset must not be negative")

	pins := map[int]string{}
	for name, pin := range map[string]int{
		"close": c.GPIO.Close, "open": c.GPIO.Open, "capacitor": c.GPIO.Capacitor,
		"generator": c.GPIO.Generator, "button": c.GPIO.Button,
	} {
		check(pin >= 0, "gpio.%s must not be negative", name)
		if other, dup := pins[pin]; dup {
			errs = append(errs, fmt.Errorf("gpio.%s and gpio.%s share line %d", name, other, pin))
		}
		pins[pin] = name
	}

	check(c.ADC.CapacitorChannel >= 0 && c.ADC.CapacitorChannel <= 3, "adc.capacitor_channel must be 0-3")
	check(c.ADC.BatteryChannel >= 0 && c.ADC.BatteryChannel <= 3, "adc.battery_channel must be 0-3")
	check(c.ADC.CapacitorChannel != c.ADC.BatteryChannel, "adc channels must differ")
	check(c.ADC.CapacitorRatio > 0 && c.ADC.BatteryRatio > 0, "adc ratios must be positive")
	check(c.ADC.Oversample >= 1, "adc.oversample must be at least 1")

	check(c.Valve.Driver == DriverCapacitor || c.Valve.Driver == DriverHBridge, "valve.driver must be %q or %q", DriverCapacitor, DriverHBridge)
	check(c.Valve.Capacitance > 0 && c.Valve.RCConstant > 0, "valve.capacitance and valve.rc_constant must be positive")
	check(c.Valve.NominalSupply < c.Valve.MaxValidSupply, "valve.nominal_supply must be below valve.max_valid_supply")
	check(c.Valve.MinResistance < c.Valve.MaxResistance, "valve.min_resistance must be below valve.max_resistance")
	check(c.Valve.OpenPulse > 0 && c.Valve.ClosePulse > 0, "valve pulses must be positive")

	check(c.Power.MinBattery > 0, "power.min_battery must be positive")
	check(c.Power.LowBatteryReporting > 0, "power.low_battery_reporting must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Params returns the electrical constants of the valve driver.
func (v Valve) Params() valve.Params {
	p := valve.DefaultParams()
	p.Capacitance = v.Capacitance
	p.RCConstant = v.RCConstant
	p.NominalSupply = v.NominalSupply
	p.TypicalSupply = v.TypicalSupply
	p.MaxValidSupply = v.MaxValidSupply
	p.OpenPulse = time.Duration(v.OpenPulse)
	p.ClosePulse = time.Duration(v.ClosePulse)
	p.MinResistance = v.MinResistance
	p.MaxResistance = v.MaxResistance
	return p
}

// Pins returns the GPIO line assignment.
func (g GPIO) Pins() gpio.Pins {
	return gpio.Pins{
		Close:     g.Close,
		Open:      g.Open,
		Capacitor: g.Capacitor,
		Generator: g.Generator,
		Button:    g.Button,
	}
}

// Options returns the uplink options.
func (m MQTT) Options() mqtt.Options {
	return mqtt.Options{
		Broker:   m.Broker,
		ClientID: m.ClientID,
		Topics: mqtt.Topics{
			Request: m.RequestTopic,
			Reply:   m.ReplyTopic,
			Status:  m.StatusTopic,
		},
		ConnectTimeout: time.Duration(m.ConnectTimeout),
		PublishTimeout: time.Duration(m.PublishTimeout),
		Backlog:        m.Backlog,
	}
}
