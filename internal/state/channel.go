package state

import (
	"fmt"
	"time"

	"github.com/hudrolax/serialbridge/internal/protocol"
)

// Kind classifies a channel by its role on the controller.
type Kind int

// Channel kinds.
const (
	// DigitalInput is a contact or sensor pin reported by the firmware.
	DigitalInput Kind = iota

	// DigitalOutput is a relay pin driven by commands.
	DigitalOutput

	// Analog is an ADC pin sampled by the firmware.
	Analog
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case DigitalInput:
		return "input"
	case DigitalOutput:
		return "output"
	case Analog:
		return "analog"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Channel describes one configured I/O point. Channels are immutable
// after the store is created; a config change means a new store.
type Channel struct {
	// ID is the firmware channel number (pin).
	ID int

	// Kind is the channel's role.
	Kind Kind

	// Label is the optional human-readable name from configuration.
	// Empty labels fall back to the wire name.
	Label string
}

// WireName returns the prefixed channel name used on the serial wire
// and in MQTT topics (e.g. "S3", "P7", "A5").
func (c Channel) WireName() string {
	switch c.Kind {
	case DigitalInput:
		return fmt.Sprintf("S%d", c.ID)
	case DigitalOutput:
		return fmt.Sprintf("P%d", c.ID)
	case Analog:
		return fmt.Sprintf("A%d", c.ID)
	default:
		return fmt.Sprintf("?%d", c.ID)
	}
}

// DisplayName returns the label, or the wire name for unlabelled channels.
func (c Channel) DisplayName() string {
	if c.Label != "" {
		return c.Label
	}
	return c.WireName()
}

// Confirmation tracks whether the device has acknowledged the last
// command issued to an output channel.
type Confirmation int

// Confirmation states.
const (
	// ConfirmationNone means no command has been issued yet.
	ConfirmationNone Confirmation = iota

	// Confirmed means the device acknowledged the last command.
	Confirmed

	// Unconfirmed means the last command exhausted its retries
	// without an acknowledgement.
	Unconfirmed
)

// String returns the confirmation name for logging.
func (c Confirmation) String() string {
	switch c {
	case ConfirmationNone:
		return "none"
	case Confirmed:
		return "confirmed"
	case Unconfirmed:
		return "unconfirmed"
	default:
		return fmt.Sprintf("confirmation(%d)", int(c))
	}
}

// channelState is the mutable per-channel record. Only the store's
// actor goroutine touches it.
type channelState struct {
	channel Channel

	// known is false until the first value arrives from the device
	// or from persisted state.
	known     bool
	lastValue int

	// published mirrors what the bridge was last told to publish,
	// for the analog hysteresis comparison.
	published          bool
	lastPublishedValue int

	lastUpdatedAt time.Time

	pending      *pendingCommand
	confirmation Confirmation
}

// pendingCommand is an issued but not yet acknowledged output command.
type pendingCommand struct {
	// id distinguishes superseding commands on the same channel.
	id       uint64
	value    protocol.OutputValue
	attempts int
	deadline time.Time
}

// Snapshot is a read-only copy of one channel's state, used for
// reconnect re-publishes and diagnostics.
type Snapshot struct {
	Channel      Channel
	Known        bool
	Value        int
	Confirmation Confirmation
	UpdatedAt    time.Time
}
