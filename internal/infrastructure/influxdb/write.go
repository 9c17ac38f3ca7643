package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the mesh core.
const (
	MeasurementEvents   = "mesh_events"
	MeasurementRequests = "mesh_requests"
	MeasurementRegistry = "mesh_registry"
)

// WriteLifecycleEvent records one device lifecycle event.
//
// Tags are low-cardinality (event kind and status); the device identity is a
// field so that a large fleet does not explode series count.
//
// Example:
//
//	client.WriteLifecycleEvent("device_joined", "00:0d:6f:00:0a:90:69:e2", 0x1234, "new", time.Now())
func (c *Client) WriteLifecycleEvent(kind, ieee string, nwk uint16, status string, ts time.Time) {
	c.WritePointWithTime(MeasurementEvents,
		map[string]string{
			"event":  kind,
			"status": status,
		},
		map[string]interface{}{
			"ieee": ieee,
			"nwk":  int64(nwk),
		},
		ts,
	)
}

// WriteRequestOutcome records the result of one logical outbound request.
func (c *Client) WriteRequestOutcome(cluster uint16, attempts int, failed bool, elapsed time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}

	c.WritePoint(MeasurementRequests,
		map[string]string{
			"outcome": outcome,
		},
		map[string]interface{}{
			"cluster":    int64(cluster),
			"attempts":   int64(attempts),
			"elapsed_ms": elapsed.Milliseconds(),
		},
	)
}

// WriteRegistrySize records the number of registered devices.
func (c *Client) WriteRegistrySize(devices int) {
	c.WritePoint(MeasurementRegistry, nil, map[string]interface{}{"devices": int64(devices)})
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
