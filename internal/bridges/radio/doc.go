// Package radio connects the mesh coordinator to a radio daemon over MQTT.
//
// The daemon owns the physical coordinator radio. The core never talks to
// the serial link directly; it exchanges CBOR messages with the daemon:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│    Mesh Core    │   MQTT   │  Radio Daemon   │   serial
//	│ (this package)  │◄────────►│                 │◄────────► Radio
//	└─────────────────┘          └─────────────────┘
//
// # Topics
//
//	graylogic/mesh/{bridge}/request/{id}    core → daemon  RequestMessage
//	graylogic/mesh/{bridge}/response/{id}   daemon → core  ResponseMessage
//	graylogic/mesh/{bridge}/event/{kind}    daemon → core  EventMessage
//
// Bridge implements mesh.Transport for outbound commands and
// mesh.Initializer for device interviews. Events are applied to the
// coordinator as they arrive.
package radio
