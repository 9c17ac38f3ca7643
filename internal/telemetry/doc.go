// Package telemetry exports coordinator activity as Prometheus metrics and
// optional InfluxDB points.
//
// Metrics are registered on a caller-supplied registry so tests and multiple
// coordinators do not collide on the global default.
package telemetry
