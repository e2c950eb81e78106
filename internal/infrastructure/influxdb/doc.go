// Package influxdb provides optional time-series telemetry for the
// bridge: analog samples, input transitions, and confirmed output
// changes are written as InfluxDB v2 points.
//
// The integration is disabled by default. When disabled, Connect
// returns ErrDisabled and the bridge runs without telemetry; nothing
// else depends on the client being present. Writes are batched and
// non-blocking, so a slow or absent InfluxDB never stalls the serial
// or MQTT paths.
package influxdb
