package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the serial bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Serial   SerialConfig   `yaml:"serial"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Channels ChannelsConfig `yaml:"channels"`
}

// DeviceConfig describes the bridged hardware for Home Assistant discovery.
// These fields populate the discovery "device" block so all channels group
// under one device in the HA UI.
type DeviceConfig struct {
	Name         string   `yaml:"name"`
	Manufacturer string   `yaml:"manufacturer"`
	Model        string   `yaml:"model"`
	Identifiers  []string `yaml:"identifiers"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// BaseTopic is the prefix for all channel topics
	// (e.g. "home/bridge" -> "home/bridge/S3/state").
	BaseTopic string `yaml:"base_topic"`

	// DiscoveryPrefix is the Home Assistant discovery prefix.
	// Default: "homeassistant"
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	// RetainDiscovery controls whether discovery configs are retained.
	// Default: true (entities survive HA restarts).
	RetainDiscovery bool `yaml:"retain_discovery"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// SerialConfig contains settings for the microcontroller serial link.
type SerialConfig struct {
	// Port is the serial device path (e.g. "/dev/ttyACM1").
	Port string `yaml:"port"`

	// Baud is the line speed. Must match the firmware.
	Baud int `yaml:"baud"`

	// SettleDelayMs is how long to wait after opening the port before
	// talking to the board. Many boards reset when the port opens and
	// need time for the bootloader to hand over to the sketch.
	// Default: 2000
	SettleDelayMs int `yaml:"settle_delay_ms"`

	// AckTimeoutMs is how long to wait for an output acknowledgment
	// before retrying the command.
	// Default: 500
	AckTimeoutMs int `yaml:"ack_timeout_ms"`

	// MaxCommandAttempts bounds retries for unacknowledged commands.
	// After this many attempts the channel is marked unconfirmed.
	// Default: 3
	MaxCommandAttempts int `yaml:"max_command_attempts"`

	// HandshakeAttempts is the number of handshake tries after open.
	// Default: 3
	HandshakeAttempts int `yaml:"handshake_attempts"`

	// WriteQueueSize is the capacity of the outbound line queue.
	// Default: 64
	WriteQueueSize int `yaml:"write_queue_size"`
}

// WatchdogConfig contains settings for the hardware watchdog pinger.
type WatchdogConfig struct {
	Enabled bool `yaml:"enabled"`

	// Port is the watchdog serial device path (e.g. "/dev/ttyACM0").
	Port string `yaml:"port"`

	// Baud is the watchdog line speed. Default: 9600
	Baud int `yaml:"baud"`

	// IntervalSeconds is the ping period. Must be shorter than the
	// hardware watchdog's reset timeout. Default: 3
	IntervalSeconds int `yaml:"interval_seconds"`

	// MaxFailures is the number of consecutive supervisor-reported
	// component failures after which pinging stops, letting the
	// hardware watchdog force a restart. Default: 5
	MaxFailures int `yaml:"max_failures"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains optional analog telemetry sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ChannelsConfig declares the configured I/O points and analog behaviour.
type ChannelsConfig struct {
	// AnalogThreshold is the hysteresis delta for analog publishes.
	// A sample is publish-worthy only if it differs from the last
	// published value by strictly more than this threshold.
	AnalogThreshold int `yaml:"analog_threshold"`

	// Inputs, Outputs and Analog list the configured channel indexes.
	// Labels are optional; unlabelled channels use the wire name
	// (e.g. "S3").
	Inputs  []ChannelDef `yaml:"inputs"`
	Outputs []ChannelDef `yaml:"outputs"`
	Analog  []ChannelDef `yaml:"analog"`

	// Failsafe binds inputs directly to outputs on the controller side
	// of the bridge. A bound output toggles whenever its input closes,
	// so wall switches keep working even when the broker is down.
	Failsafe []FailsafeBinding `yaml:"failsafe,omitempty"`
}

// ChannelDef declares one channel: its firmware index and optional label.
type ChannelDef struct {
	ID    int    `yaml:"id"`
	Label string `yaml:"label,omitempty"`
}

// FailsafeBinding ties one input pin to one output pin.
type FailsafeBinding struct {
	Input  int `yaml:"s"`
	Output int `yaml:"p"`
}

// Default input/output pins and analog channels, matching the stock
// firmware build. Overridable via the channels section.
var (
	defaultInputPins = []int{38, 40, 42, 44, 46, 48, 50, 52, 53, 39, 37, 35, 33, 31, 29, 27}

	defaultOutputPins = []int{
		36, 34, 32, 30, 28, 26, 24, 22, 13, 12, 11, 10, 9, 8, 7, 6,
		5, 4, 3, 2, 45, 47, 14, 15, 16, 17, 18, 19, 49, 51, 23, 25,
	}

	defaultAnalogCount = 16
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SERIALBRIDGE_SECTION_KEY
// For example: SERIALBRIDGE_MQTT_HOST, SERIALBRIDGE_SERIAL_PORT
//
// A missing or invalid configuration file is a fatal startup condition;
// the caller is expected to exit with a diagnostic.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults, including the stock
// firmware channel map.
func Default() *Config {
	inputs := make([]ChannelDef, len(defaultInputPins))
	for i, pin := range defaultInputPins {
		inputs[i] = ChannelDef{ID: pin}
	}
	outputs := make([]ChannelDef, len(defaultOutputPins))
	for i, pin := range defaultOutputPins {
		outputs[i] = ChannelDef{ID: pin}
	}
	analog := make([]ChannelDef, defaultAnalogCount)
	for i := range analog {
		analog[i] = ChannelDef{ID: i}
	}

	return &Config{
		Device: DeviceConfig{
			Name:         "serialbridge",
			Manufacturer: "Hudrolax",
			Model:        "SB01",
			Identifiers:  []string{"sb01-bridge"},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "serialbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			BaseTopic:       "home/serialbridge",
			DiscoveryPrefix: "homeassistant",
			RetainDiscovery: true,
		},
		Serial: SerialConfig{
			Port:               "/dev/ttyACM1",
			Baud:               57600,
			SettleDelayMs:      2000,
			AckTimeoutMs:       500,
			MaxCommandAttempts: 3,
			HandshakeAttempts:  3,
			WriteQueueSize:     64,
		},
		Watchdog: WatchdogConfig{
			Enabled:         true,
			Port:            "/dev/ttyACM0",
			Baud:            9600,
			IntervalSeconds: 3,
			MaxFailures:     5,
		},
		Database: DatabaseConfig{
			Path:        "./data/serialbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Channels: ChannelsConfig{
			AnalogThreshold: 5,
			Inputs:          inputs,
			Outputs:         outputs,
			Analog:          analog,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SERIALBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("SERIALBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SERIALBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SERIALBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SERIALBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Serial ports
	if v := os.Getenv("SERIALBRIDGE_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("SERIALBRIDGE_WATCHDOG_PORT"); v != "" {
		cfg.Watchdog.Port = v
	}

	// Database
	if v := os.Getenv("SERIALBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("SERIALBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}
	if strings.HasSuffix(c.MQTT.BaseTopic, "/") {
		errs = append(errs, "mqtt.base_topic must not end with /")
	}

	if c.Serial.Port == "" {
		errs = append(errs, "serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, "serial.baud must be positive")
	}
	if c.Serial.MaxCommandAttempts < 1 {
		errs = append(errs, "serial.max_command_attempts must be at least 1")
	}

	if c.Watchdog.Enabled {
		if c.Watchdog.Port == "" {
			errs = append(errs, "watchdog.port is required when watchdog is enabled")
		}
		if c.Watchdog.Port == c.Serial.Port {
			errs = append(errs, "watchdog.port must differ from serial.port")
		}
		if c.Watchdog.IntervalSeconds <= 0 {
			errs = append(errs, "watchdog.interval_seconds must be positive")
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Channels.AnalogThreshold < 0 {
		errs = append(errs, "channels.analog_threshold must not be negative")
	}
	if err := validateChannels(c.Channels); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateChannels rejects duplicate or negative channel indexes within a class.
func validateChannels(ch ChannelsConfig) error {
	for _, group := range []struct {
		name string
		defs []ChannelDef
	}{
		{"inputs", ch.Inputs},
		{"outputs", ch.Outputs},
		{"analog", ch.Analog},
	} {
		seen := make(map[int]bool, len(group.defs))
		for _, def := range group.defs {
			if def.ID < 0 {
				return fmt.Errorf("channels.%s: id %d must not be negative", group.name, def.ID)
			}
			if seen[def.ID] {
				return fmt.Errorf("channels.%s: duplicate id %d", group.name, def.ID)
			}
			seen[def.ID] = true
		}
	}

	inputs := make(map[int]bool, len(ch.Inputs))
	for _, def := range ch.Inputs {
		inputs[def.ID] = true
	}
	outputs := make(map[int]bool, len(ch.Outputs))
	for _, def := range ch.Outputs {
		outputs[def.ID] = true
	}
	bound := make(map[int]bool, len(ch.Failsafe))
	for _, fb := range ch.Failsafe {
		if !inputs[fb.Input] {
			return fmt.Errorf("channels.failsafe: input %d is not a configured input", fb.Input)
		}
		if !outputs[fb.Output] {
			return fmt.Errorf("channels.failsafe: output %d is not a configured output", fb.Output)
		}
		if bound[fb.Input] {
			return fmt.Errorf("channels.failsafe: input %d bound more than once", fb.Input)
		}
		bound[fb.Input] = true
	}

	return nil
}

// Save writes the configuration to a YAML file atomically.
//
// The admin web UI edits the same file, so writes go through a temp file
// and rename to avoid torn reads.
//
// Parameters:
//   - path: Destination path for the YAML file
//
// Returns:
//   - error: If marshalling or writing fails
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing config file: %w", err)
	}

	return nil
}

// SettleDelay returns the serial post-open settle delay as a Duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Serial.SettleDelayMs) * time.Millisecond
}

// AckTimeout returns the output acknowledgment deadline as a Duration.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Serial.AckTimeoutMs) * time.Millisecond
}

// WatchdogInterval returns the watchdog ping period as a Duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Watchdog.IntervalSeconds) * time.Second
}
