package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAnalogSample records an analog channel reading.
//
// Only publish-worthy samples should be written, so the series tracks
// what Home Assistant saw rather than the raw firmware chatter.
//
// Parameters:
//   - channel: Analog channel number
//   - label: Configured channel label ("" for unlabelled channels)
//   - value: The raw ADC reading (0..1023)
func (c *Client) WriteAnalogSample(channel int, label string, value int) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"channel": strconv.Itoa(channel),
	}
	if label != "" {
		tags["label"] = label
	}

	point := write.NewPoint(
		"analog",
		tags,
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteInputEvent records a digital input transition.
//
// Parameters:
//   - channel: Input channel number
//   - on: New input state
func (c *Client) WriteInputEvent(channel int, on bool) {
	if !c.IsConnected() {
		return
	}

	state := 0
	if on {
		state = 1
	}

	point := write.NewPoint(
		"input",
		map[string]string{
			"channel": strconv.Itoa(channel),
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteOutputEvent records a confirmed output state change.
//
// Parameters:
//   - channel: Output channel number
//   - on: Acknowledged output state
func (c *Client) WriteOutputEvent(channel int, on bool) {
	if !c.IsConnected() {
		return
	}

	state := 0
	if on {
		state = 1
	}

	point := write.NewPoint(
		"output",
		map[string]string{
			"channel": strconv.Itoa(channel),
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
