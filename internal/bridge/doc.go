// Package bridge connects the serial side of the system to the MQTT
// side.
//
// The bridge pumps newline-framed wire lines through the codec into
// the state store, and publishes whatever the store deems
// publish-worthy as retained MQTT messages: ON/OFF for digital
// channels, decimal samples for analog ones. Commands arriving on
// <base>/<channel>/set topics are parsed and handed to the store's
// issuance path.
//
// On every broker (re)connect the bridge re-announces all channels
// via Home Assistant MQTT discovery and re-publishes each channel's
// last known state, so Home Assistant recovers without waiting for
// fresh device data.
package bridge
