// Package watchdog feeds an external hardware watchdog board over
// its own serial port.
//
// The board power-cycles the host when beats stop arriving. The
// pinger therefore writes a fixed frame on every interval while the
// system is healthy, and deliberately goes silent once enough
// consecutive component failures have been reported: a hung bridge
// is recovered by letting the hardware do its job.
package watchdog
