package tsdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePropState records a prop state transition.
//
// Called by the device bridge whenever a prop reports a new state.
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WritePropState(roomID, propID, state string, online bool) {
	if !c.IsConnected() {
		return
	}

	onlineVal := 0
	if online {
		onlineVal = 1
	}

	point := write.NewPoint(
		"prop_state",
		map[string]string{
			"room_id": roomID,
			"prop_id": propID,
			"state":   state,
		},
		map[string]interface{}{
			"online": onlineVal,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSensorEvent records a sensor firing within a prop.
func (c *Client) WriteSensorEvent(roomID, propID, sensorID string, triggered bool) {
	if !c.IsConnected() {
		return
	}

	triggeredVal := 0
	if triggered {
		triggeredVal = 1
	}

	point := write.NewPoint(
		"sensor_event",
		map[string]string{
			"room_id":   roomID,
			"prop_id":   propID,
			"sensor_id": sensorID,
		},
		map[string]interface{}{
			"triggered": triggeredVal,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionMetric records a session lifecycle milestone.
//
// Used for start, pause, resume, end, and abort transitions so the
// operator dashboard can chart session throughput over time.
func (c *Client) WriteSessionMetric(roomID, sessionID, phase string, elapsedMs int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session",
		map[string]string{
			"room_id":    roomID,
			"session_id": sessionID,
			"phase":      phase,
		},
		map[string]interface{}{
			"elapsed_ms": elapsedMs,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
