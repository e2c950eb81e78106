// Package state holds the authoritative picture of every configured
// channel on the controller.
//
// A single actor goroutine drains one queue carrying both decoded
// wire events and output command issuances, so mutations are applied
// in arrival order without locks. The store decides what is
// publish-worthy: digital changes always are, analog samples only
// when they move strictly beyond the hysteresis threshold since the
// last published value.
//
// Output commands are tracked until the controller acknowledges them.
// A new command on the same channel supersedes the pending one, and
// acks that match a superseded command are discarded. Commands that
// exhaust their retries leave the channel marked unconfirmed; the
// last known value is never reverted.
//
// Confirmed output states are handed to a Persister so a restart can
// drive the relays back to where they were.
package state
