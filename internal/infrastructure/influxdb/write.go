package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDispatch records one command dispatch: which action ran against
// which device, its final status and the end-to-end latency. The write
// is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteDispatch(deviceID, action, status string, durationMS int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"dispatch",
		map[string]string{
			"device_id": deviceID,
			"action":    action,
			"status":    status,
		},
		map[string]interface{}{
			"duration_ms": durationMS,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteResolve records one capability manifest fetch. The outcome tag is
// "ok" on success, otherwise the error class; actions is the number of
// actions in the fetched manifest (0 on failure).
func (c *Client) WriteResolve(deviceID, outcome string, durationMS int64, actions int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"resolve",
		map[string]string{
			"device_id": deviceID,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"duration_ms": durationMS,
			"actions":     actions,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHealth records a device health transition to one of "fresh",
// "stale" or "unreachable".
func (c *Client) WriteHealth(deviceID, state string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"health",
		map[string]string{
			"device_id": deviceID,
			"state":     state,
		},
		map[string]interface{}{
			"value": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
