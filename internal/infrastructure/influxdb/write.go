package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteLifecycleTransition records a device lifecycle state change.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - duid: Device unique identifier
//   - model: Device model string
//   - from: Previous lifecycle state name
//   - to: New lifecycle state name
//
// Example:
//
//	client.WriteLifecycleTransition("abc123", "roborock.vacuum.a87", "mapped", "connected")
func (c *Client) WriteLifecycleTransition(duid, model, from, to string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_lifecycle",
		map[string]string{
			"duid":  duid,
			"model": model,
			"to":    to,
		},
		map[string]interface{}{
			"from": from,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandLatency records the round-trip time of a device command.
//
// Parameters:
//   - duid: Device unique identifier
//   - transport: Transport the command went over ("mqtt" or "local")
//   - latency: Round-trip duration
//   - success: Whether a correlated response arrived
func (c *Client) WriteCommandLatency(duid, transport string, latency time.Duration, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command_latency",
		map[string]string{
			"duid":      duid,
			"transport": transport,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Milliseconds()),
			"success":    success,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteReconciliation records the outcome of one inventory reconciliation cycle.
//
// Parameters:
//   - added: Devices that appeared in this cycle
//   - removed: Devices removed after the missing-device debounce
//   - changed: Devices whose descriptor changed
//   - duration: Wall time of the refresh and reconcile
func (c *Client) WriteReconciliation(added, removed, changed int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"reconciliation",
		map[string]string{},
		map[string]interface{}{
			"added":       added,
			"removed":     removed,
			"changed":     changed,
			"duration_ms": float64(duration.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
