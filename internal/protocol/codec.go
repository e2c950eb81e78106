package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Channel class prefixes. The first byte of every wire line selects the
// channel class the rest of the line refers to.
const (
	// PrefixInput marks a digital input state line (S<n>:<0|1>).
	PrefixInput = 'S'

	// PrefixOutput marks an output command or acknowledgment line
	// (P<n>:<value>).
	PrefixOutput = 'P'

	// PrefixAnalog marks an analog sample line (A<n>:<0..1023>).
	PrefixAnalog = 'A'

	// PrefixHandshake marks a handshake line (I<n>:<666>).
	PrefixHandshake = 'I'
)

// Distinguished numeric codes fixed by the firmware. These are a
// configuration contract with the device, not negotiated.
const (
	// AckCodeOn confirms an output switched on.
	AckCodeOn = 3333

	// AckCodeOff confirms an output switched off.
	AckCodeOff = 4444

	// InputCodeHigh is the firmware's long-form code for a high input.
	InputCodeHigh = 1111

	// InputCodeLow is the firmware's long-form code for a low input.
	InputCodeLow = 2222

	// HandshakeCode identifies a handshake exchange.
	HandshakeCode = 666
)

// maxAnalogValue is the upper bound of the device ADC range.
const maxAnalogValue = 1023

// OutputValue is the desired state carried by an outbound output command.
type OutputValue int

const (
	// OutputOff requests the output low.
	OutputOff OutputValue = 0

	// OutputOn requests the output high.
	OutputOn OutputValue = 1

	// OutputToggle requests the output inverted. The resulting level is
	// only known once the acknowledgment arrives.
	OutputToggle OutputValue = 2
)

// String returns the command payload name for logging.
func (v OutputValue) String() string {
	switch v {
	case OutputOff:
		return "off"
	case OutputOn:
		return "on"
	case OutputToggle:
		return "toggle"
	default:
		return fmt.Sprintf("output(%d)", int(v))
	}
}

// EventKind discriminates decoded wire events.
type EventKind int

const (
	// EventInput is a digital input state change.
	EventInput EventKind = iota

	// EventAck is an output command acknowledgment.
	EventAck

	// EventAnalog is an analog channel sample.
	EventAnalog

	// EventHandshake is a handshake acknowledgment from the firmware.
	EventHandshake
)

// String returns the kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventInput:
		return "input"
	case EventAck:
		return "ack"
	case EventAnalog:
		return "analog"
	case EventHandshake:
		return "handshake"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one decoded unit from the wire.
//
// The populated fields depend on Kind:
//   - EventInput: Channel, On
//   - EventAck: Channel, On (true for AckCodeOn, false for AckCodeOff)
//   - EventAnalog: Channel, Value
//   - EventHandshake: Channel
type Event struct {
	Kind    EventKind
	Channel int
	On      bool
	Value   int
}

// Decode parses one raw line into exactly one Event.
//
// The wire grammar is <prefix><channel>:<value>, newline already
// stripped by the link layer. Unknown prefixes, malformed numbers and
// out-of-range values all return ErrUnparsableLine; callers count these
// as soft errors and never treat them as fatal.
//
// Parameters:
//   - line: One raw line without the trailing newline
//
// Returns:
//   - Event: The decoded event
//   - error: Wrapping ErrUnparsableLine if the line is rejected
func Decode(line string) (Event, error) {
	if len(line) < 4 { // shortest valid line is e.g. "S0:1"
		return Event{}, fmt.Errorf("%w: %q too short", ErrUnparsableLine, line)
	}

	prefix := line[0]
	rest := line[1:]

	sep := strings.IndexByte(rest, ':')
	if sep <= 0 {
		return Event{}, fmt.Errorf("%w: %q missing separator", ErrUnparsableLine, line)
	}

	channel, err := strconv.Atoi(rest[:sep])
	if err != nil || channel < 0 {
		return Event{}, fmt.Errorf("%w: %q bad channel", ErrUnparsableLine, line)
	}

	value, err := strconv.Atoi(rest[sep+1:])
	if err != nil {
		return Event{}, fmt.Errorf("%w: %q bad value", ErrUnparsableLine, line)
	}

	switch prefix {
	case PrefixInput:
		on, err := decodeInputValue(value)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %q", err, line)
		}
		return Event{Kind: EventInput, Channel: channel, On: on}, nil

	case PrefixOutput:
		switch value {
		case AckCodeOn:
			return Event{Kind: EventAck, Channel: channel, On: true}, nil
		case AckCodeOff:
			return Event{Kind: EventAck, Channel: channel, On: false}, nil
		default:
			return Event{}, fmt.Errorf("%w: %q unknown ack code %d", ErrUnparsableLine, line, value)
		}

	case PrefixAnalog:
		if value < 0 || value > maxAnalogValue {
			return Event{}, fmt.Errorf("%w: %q analog value out of range", ErrUnparsableLine, line)
		}
		return Event{Kind: EventAnalog, Channel: channel, Value: value}, nil

	case PrefixHandshake:
		if value != HandshakeCode {
			return Event{}, fmt.Errorf("%w: %q unexpected handshake code %d", ErrUnparsableLine, line, value)
		}
		return Event{Kind: EventHandshake, Channel: channel}, nil

	default:
		return Event{}, fmt.Errorf("%w: %q unknown prefix %q", ErrUnparsableLine, line, string(prefix))
	}
}

// decodeInputValue maps both short (0/1) and long-form firmware input
// codes (2222/1111) to a boolean level.
func decodeInputValue(value int) (bool, error) {
	switch value {
	case 0, InputCodeLow:
		return false, nil
	case 1, InputCodeHigh:
		return true, nil
	default:
		return false, fmt.Errorf("%w: bad input value %d", ErrUnparsableLine, value)
	}
}

// EncodeCommand produces the wire line commanding an output channel.
//
// The inverse of ack decoding is intentionally not required: commands
// carry the desired value (0/1/2), acks carry the confirmation codes.
//
// Example: EncodeCommand(7, OutputOn) == "P7:1"
func EncodeCommand(channel int, value OutputValue) string {
	return fmt.Sprintf("%c%d:%d", PrefixOutput, channel, int(value))
}

// EncodeAck produces the acknowledgment line the firmware would emit for
// a confirmed output state. Used in tests and diagnostics to re-derive
// the ack for a decoded event.
//
// Example: EncodeAck(7, true) == "P7:3333"
func EncodeAck(channel int, on bool) string {
	code := AckCodeOff
	if on {
		code = AckCodeOn
	}
	return fmt.Sprintf("%c%d:%d", PrefixOutput, channel, code)
}

// EncodeHandshake produces the handshake request line sent after the
// link opens. The firmware answers with the same code.
func EncodeHandshake() string {
	return fmt.Sprintf("%c0:%d", PrefixHandshake, HandshakeCode)
}
