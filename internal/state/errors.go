package state

import "errors"

// Sentinel errors for store operations, checkable with errors.Is.
var (
	// ErrUnknownChannel indicates a command named a channel that is
	// not in the configuration.
	ErrUnknownChannel = errors.New("state: unknown channel")

	// ErrNotOutput indicates a command targeted an input or analog
	// channel.
	ErrNotOutput = errors.New("state: channel is not an output")

	// ErrQueueFull indicates the actor queue is saturated and the
	// event or command was dropped.
	ErrQueueFull = errors.New("state: queue full")

	// ErrClosed indicates the store has been shut down.
	ErrClosed = errors.New("state: store closed")
)
