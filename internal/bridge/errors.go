package bridge

import "errors"

// Sentinel errors for bridge operations, checkable with errors.Is.
var (
	// ErrHandshakeFailed indicates the firmware never answered the
	// startup probe.
	ErrHandshakeFailed = errors.New("bridge: handshake failed")

	// ErrBadPayload indicates an MQTT command payload that maps to
	// no output value.
	ErrBadPayload = errors.New("bridge: bad command payload")

	// ErrClosed indicates the bridge has been shut down.
	ErrClosed = errors.New("bridge: closed")
)
