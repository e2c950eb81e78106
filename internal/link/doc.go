// Package link manages the serial connection to the microcontroller.
//
// This package handles:
//   - Opening the serial device (tarm/serial) with a post-open settle
//     delay for boards that reset when the port opens
//   - Newline-delimited line framing with oversized-line protection
//   - A queued, single-goroutine write path
//   - Failure reporting to the supervisor
//
// The link deliberately does not reconnect itself. When a read or write
// fails it marks itself disconnected, closes the Lines channel and
// fires the OnError callback exactly once; the supervisor owns retry
// and backoff policy.
//
// Malformed content is not the link's concern: it delivers raw lines
// and the protocol codec rejects what it cannot parse. The link only
// drops lines that violate framing (oversized or blank), counting them
// in Stats.
package link
