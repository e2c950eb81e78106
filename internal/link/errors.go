package link

import "errors"

// Domain-specific errors for the serial link.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrOpenFailed is returned when the serial device cannot be opened.
	ErrOpenFailed = errors.New("link: open failed")

	// ErrNotConnected is returned when writing to a disconnected link.
	ErrNotConnected = errors.New("link: not connected")

	// ErrWriteQueueFull is returned when the outbound queue has no room.
	ErrWriteQueueFull = errors.New("link: write queue full")

	// ErrLinkFailed wraps the I/O error that took the link down.
	// Reported once to the supervisor via the OnError callback.
	ErrLinkFailed = errors.New("link: connection failed")
)
