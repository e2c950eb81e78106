// Package protocol implements the serial wire codec.
//
// The microcontroller speaks newline-delimited ASCII lines of the form
// <prefix><channel>:<value>:
//
//	S3:1      digital input 3 went high
//	A5:512    analog channel 5 sampled 512
//	P7:3333   output 7 confirmed on (4444 = confirmed off)
//	I0:666    handshake acknowledgment
//
// Outbound command lines carry the desired value instead of a
// confirmation code: P7:1 switches output 7 on (0 = off, 2 = toggle).
//
// Both directions are pure, side-effect-free transforms so the codec is
// independently testable. Unparsable lines produce ErrUnparsableLine,
// which callers treat as a counted soft error.
//
// The distinguished numeric codes (3333/4444 acks, 1111/2222 input
// levels, 666 handshake) are a fixed contract with the device firmware.
package protocol
