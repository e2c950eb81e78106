package watchdog

import "errors"

// ErrOpenFailed indicates the watchdog serial port could not be opened.
var ErrOpenFailed = errors.New("watchdog: opening port failed")
