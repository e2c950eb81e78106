// Package supervisor owns component lifecycles for the bridge.
//
// Each component moves through Stopped -> Starting -> Running ->
// Degraded under its own Manager. A failed component is stopped and
// restarted after an exponential backoff; only the supervisor ever
// restarts anything. Failures and recoveries are surfaced through
// callbacks so the watchdog gate can track overall health.
//
// The Supervisor also owns config reloads: SIGHUP (wired in main)
// loads a fresh snapshot and rebuilds every component from it;
// config is never mutated in place.
package supervisor
