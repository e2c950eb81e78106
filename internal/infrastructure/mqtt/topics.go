package mqtt

import (
	"fmt"
	"strings"
)

// Topics provides builders for bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Channel topics use the flat scheme from the firmware's wire names:
//
//	topics := mqtt.Topics{Base: "home/serialbridge"}
//	stateTopic := topics.ChannelState("P7")
//	// Returns: "home/serialbridge/P7/state"
type Topics struct {
	// Base is the configured base topic, without trailing slash.
	Base string
}

// ChannelState returns the retained state topic for a channel.
//
// Example: home/serialbridge/S3/state
func (t Topics) ChannelState(channel string) string {
	return fmt.Sprintf("%s/%s/state", t.Base, channel)
}

// ChannelSet returns the command topic for an output channel.
//
// Example: home/serialbridge/P7/set
func (t Topics) ChannelSet(channel string) string {
	return fmt.Sprintf("%s/%s/set", t.Base, channel)
}

// Availability returns the retained availability topic backed by the LWT.
//
// Example: home/serialbridge/availability
func (t Topics) Availability() string {
	return fmt.Sprintf("%s/availability", t.Base)
}

// CommandPattern returns the wildcard subscription matching every
// channel's command topic.
//
// Pattern: home/serialbridge/+/set
func (t Topics) CommandPattern() string {
	return fmt.Sprintf("%s/+/set", t.Base)
}

// Discovery returns a Home Assistant discovery config topic.
//
// component is the HA component type (binary_sensor, switch, sensor),
// deviceName groups entities under one device, channel is the wire name.
//
// Example: homeassistant/switch/serialbridge/P7/config
func Discovery(prefix, component, deviceName, channel string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, component, deviceName, channel)
}

// ParseCommandTopic extracts the channel wire name from a command topic.
//
// It accepts topics of the form <base>/<channel>/set and returns the
// channel segment (e.g. "P7").
//
// Returns:
//   - string: The channel wire name
//   - bool: false if the topic does not match the command scheme
func (t Topics) ParseCommandTopic(topic string) (string, bool) {
	prefix := t.Base + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(topic, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "set" || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}
