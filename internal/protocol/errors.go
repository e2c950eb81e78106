package protocol

import "errors"

// ErrUnparsableLine is returned when a wire line cannot be decoded.
// These are soft errors: the caller counts and drops the line, never
// propagating the failure as fatal.
var ErrUnparsableLine = errors.New("protocol: unparsable line")
