// Package api implements the HTTP REST API and WebSocket event stream for the
// mesh core.
//
// This package provides:
//   - Read endpoints over the coordinator's device registry
//   - Admin endpoints to remove devices and open the network for joining
//   - A WebSocket hub relaying lifecycle events to UIs
//   - Prometheus metrics at /metrics
//
// # Routes
//
//	GET    /api/v1/health               no auth
//	GET    /api/v1/ws?token=...         any role
//	GET    /api/v1/devices              any role
//	GET    /api/v1/devices/{ieee}       any role
//	GET    /api/v1/devices/nwk/{nwk}    any role
//	DELETE /api/v1/devices/{ieee}       admin
//	GET    /api/v1/network              any role
//	POST   /api/v1/network/permit       admin
//	GET    /metrics                     no auth
//
// # Event stream
//
// A client receives nothing until it sends
//
//	{"type":"subscribe","id":"1","payload":{"events":["device_joined"],"devices":["00:0d:6f:00:0a:90:69:e2"]}}
//
// Empty lists match everything; each subscribe replaces the previous filter.
// Events arrive as {"type":"event","event":{"kind":...,"device":{...},"time":...}}.
//
// # Security
//
// Bearer tokens are HS256 JWTs validated by the auth package. WebSocket
// clients pass the token as a query parameter since browsers cannot set
// headers on the upgrade request.
package api
