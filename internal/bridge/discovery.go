package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/hudrolax/serialbridge/internal/infrastructure/mqtt"
	"github.com/hudrolax/serialbridge/internal/state"
)

// Home Assistant entity icons per channel kind.
const (
	iconSwitch = "mdi:toggle-switch"
	iconInput  = "mdi:electric-switch"
	iconAnalog = "mdi:waveform"
)

// discoveryDevice is the device block shared by every entity, so
// Home Assistant groups them under one device.
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// discoveryPayload is one Home Assistant MQTT discovery config.
type discoveryPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	CommandTopic      string          `json:"command_topic,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	Icon              string          `json:"icon,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	Device            discoveryDevice `json:"device"`
}

// PublishDiscovery announces every configured channel to Home
// Assistant: binary_sensor for inputs, switch for outputs, sensor
// for analog channels. Idempotent; retained per configuration.
//
// Returns:
//   - error: The first publish failure, if any
func (b *Bridge) PublishDiscovery() error {
	for _, ch := range b.cfg.Channels {
		topic, payload, err := b.discoveryConfig(ch)
		if err != nil {
			return err
		}
		if err := b.client.PublishString(topic, payload, b.cfg.QoS, b.cfg.RetainDiscovery); err != nil {
			return fmt.Errorf("publishing discovery for %s: %w", ch.WireName(), err)
		}
	}
	return nil
}

// discoveryConfig builds the discovery topic and JSON payload for
// one channel.
func (b *Bridge) discoveryConfig(ch state.Channel) (topic, payload string, err error) {
	wireName := ch.WireName()

	manufacturer := b.cfg.Manufacturer
	if manufacturer == "" {
		manufacturer = "hudrolax"
	}
	model := b.cfg.Model
	if model == "" {
		model = "serialbridge"
	}

	p := discoveryPayload{
		Name:              ch.DisplayName(),
		UniqueID:          fmt.Sprintf("%s_%s", b.cfg.DeviceName, wireName),
		StateTopic:        b.topics.ChannelState(wireName),
		AvailabilityTopic: b.topics.Availability(),
		Device: discoveryDevice{
			Identifiers:  []string{b.cfg.DeviceName},
			Name:         b.cfg.DeviceName,
			Manufacturer: manufacturer,
			Model:        model,
			SWVersion:    b.cfg.Version,
		},
	}

	var component string
	switch ch.Kind {
	case state.DigitalInput:
		component = "binary_sensor"
		p.Icon = iconInput
	case state.DigitalOutput:
		component = "switch"
		p.Icon = iconSwitch
		p.CommandTopic = b.topics.ChannelSet(wireName)
	case state.Analog:
		component = "sensor"
		p.Icon = iconAnalog
		p.StateClass = "measurement"
	default:
		return "", "", fmt.Errorf("channel %s: unsupported kind %s", wireName, ch.Kind)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("encoding discovery for %s: %w", wireName, err)
	}

	topic = mqtt.Discovery(b.cfg.DiscoveryPrefix, component, b.cfg.DeviceName, wireName)
	return topic, string(data), nil
}
