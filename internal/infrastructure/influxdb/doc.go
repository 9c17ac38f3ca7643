// Package influxdb provides InfluxDB connectivity for the mesh core.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// # Purpose
//
// Network history is kept as time series:
//   - mesh_events: one point per device lifecycle event
//   - mesh_requests: outcome and attempt count of outbound requests
//   - mesh_registry: registry size samples
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLifecycleEvent("device_joined", ieee, 0x1234, "new", time.Now())
//
// # Error Handling
//
// Writes are batched and asynchronous; failures are delivered through the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
