package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
device:
  name: "test-bridge"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
  base_topic: "home/test"
serial:
  port: "/dev/ttyUSB0"
  baud: 57600
watchdog:
  enabled: false
database:
  path: "/tmp/test.db"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name != "test-bridge" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "test-bridge")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.BaseTopic != "home/test" {
		t.Errorf("MQTT.BaseTopic = %q, want %q", cfg.MQTT.BaseTopic, "home/test")
	}
	if cfg.Serial.Port != "/dev/ttyUSB0" {
		t.Errorf("Serial.Port = %q, want %q", cfg.Serial.Port, "/dev/ttyUSB0")
	}

	// Defaults survive a partial file
	if cfg.Serial.AckTimeoutMs != 500 {
		t.Errorf("Serial.AckTimeoutMs = %d, want default 500", cfg.Serial.AckTimeoutMs)
	}
	if cfg.Channels.AnalogThreshold != 5 {
		t.Errorf("Channels.AnalogThreshold = %d, want default 5", cfg.Channels.AnalogThreshold)
	}
	if len(cfg.Channels.Inputs) == 0 {
		t.Error("expected default input channels")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
serial:
  port: ""
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
mqtt:
  broker:
    host: "file-host"
serial:
  port: "/dev/ttyUSB0"
`
	t.Setenv("SERIALBRIDGE_MQTT_HOST", "env-host")
	t.Setenv("SERIALBRIDGE_SERIAL_PORT", "/dev/ttyACM9")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "env-host" {
		t.Errorf("MQTT.Broker.Host = %q, want env override %q", cfg.MQTT.Broker.Host, "env-host")
	}
	if cfg.Serial.Port != "/dev/ttyACM9" {
		t.Errorf("Serial.Port = %q, want env override %q", cfg.Serial.Port, "/dev/ttyACM9")
	}
}

func TestValidate_QoSRange(t *testing.T) {
	cfg := Default()
	cfg.MQTT.QoS = 3
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for QoS 3, got nil")
	}
}

func TestValidate_WatchdogPortClash(t *testing.T) {
	cfg := Default()
	cfg.Watchdog.Enabled = true
	cfg.Watchdog.Port = cfg.Serial.Port
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for watchdog port equal to serial port, got nil")
	}
}

func TestValidate_DuplicateChannel(t *testing.T) {
	cfg := Default()
	cfg.Channels.Outputs = []ChannelDef{{ID: 7}, {ID: 7}}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for duplicate output channel, got nil")
	}
}

func TestValidate_FailsafeBindings(t *testing.T) {
	cfg := Default()
	cfg.Channels.Failsafe = []FailsafeBinding{{Input: 38, Output: 36}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v for valid failsafe binding", err)
	}

	cfg.Channels.Failsafe = []FailsafeBinding{{Input: 999, Output: 36}}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for failsafe input that is not configured, got nil")
	}

	cfg.Channels.Failsafe = []FailsafeBinding{{Input: 38, Output: 999}}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for failsafe output that is not configured, got nil")
	}

	cfg.Channels.Failsafe = []FailsafeBinding{{Input: 38, Output: 36}, {Input: 38, Output: 34}}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for doubly bound failsafe input, got nil")
	}
}

func TestValidate_NegativeThreshold(t *testing.T) {
	cfg := Default()
	cfg.Channels.AnalogThreshold = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for negative threshold, got nil")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := Default()
	cfg.MQTT.BaseTopic = "home/roundtrip"
	cfg.Channels.Outputs = []ChannelDef{{ID: 7, Label: "Hall light"}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after Save() error = %v", err)
	}

	if loaded.MQTT.BaseTopic != "home/roundtrip" {
		t.Errorf("BaseTopic = %q, want %q", loaded.MQTT.BaseTopic, "home/roundtrip")
	}
	if len(loaded.Channels.Outputs) != 1 || loaded.Channels.Outputs[0].Label != "Hall light" {
		t.Errorf("Outputs = %+v, want single labelled channel", loaded.Channels.Outputs)
	}
}

func TestDefault_IsValidExceptNothing(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() should validate cleanly, got %v", err)
	}
}
