package bridge

import (
	"fmt"
	"strings"

	"github.com/hudrolax/serialbridge/internal/protocol"
	"github.com/hudrolax/serialbridge/internal/state"
)

// handleCommand processes one message on a <base>/<channel>/set topic.
// Unknown channels and unparsable payloads are logged, counted, and
// dropped; they are never an error back to the MQTT layer.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	wireName, ok := b.topics.ParseCommandTopic(topic)
	if !ok {
		b.countDropped()
		b.logger.Warn("command on unexpected topic dropped", "topic", topic)
		return nil
	}

	ch, ok := b.byWireName[wireName]
	if !ok {
		b.countDropped()
		b.logger.Warn("command for unknown channel dropped",
			"topic", topic, "channel", wireName)
		return nil
	}
	if ch.Kind != state.DigitalOutput {
		b.countDropped()
		b.logger.Warn("command for non-output channel dropped",
			"channel", wireName, "kind", ch.Kind.String())
		return nil
	}

	value, err := parseCommandPayload(string(payload))
	if err != nil {
		b.countDropped()
		b.logger.Warn("command payload dropped",
			"channel", wireName, "payload", string(payload), "error", err)
		return nil
	}

	b.logger.Info("command received", "channel", wireName, "value", value.String())

	if err := b.store.Command(ch.ID, value); err != nil {
		b.countDropped()
		b.logger.Warn("command rejected by store", "channel", wireName, "error", err)
	}
	return nil
}

// parseCommandPayload maps an MQTT command payload to an output value.
//
// Accepted forms (case-insensitive): ON/OFF/TOGGLE, 1/0/2,
// true/false, high/low.
//
// Returns:
//   - protocol.OutputValue: The requested state
//   - error: ErrBadPayload for anything else
func parseCommandPayload(payload string) (protocol.OutputValue, error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "on", "1", "true", "high":
		return protocol.OutputOn, nil
	case "off", "0", "false", "low":
		return protocol.OutputOff, nil
	case "toggle", "2":
		return protocol.OutputToggle, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadPayload, payload)
	}
}
