package mesh

import (
	"context"
	"time"
)

// ZDO addressing used by the removal protocol.
const (
	// ProfileZDO is the device-object profile.
	ProfileZDO uint16 = 0x0000

	// ClusterMgmtLeaveReq asks a device to leave the network.
	ClusterMgmtLeaveReq uint16 = 0x0034

	// EndpointZDO is the device-object endpoint.
	EndpointZDO uint8 = 0x00

	// StatusSuccess is the response status that accepts a request.
	StatusSuccess uint8 = 0x00
)

// Request is an outbound application request handed to the transport.
// The core never interprets Data.
type Request struct {
	NWK         NWK
	Profile     uint16
	Cluster     uint16
	SrcEndpoint uint8
	DstEndpoint uint8
	Sequence    uint8
	Data        []byte
	ExpectReply bool
	Timeout     time.Duration
}

// Response is the transport's answer to a Request.
type Response struct {
	Status uint8
	Data   []byte
}

// NetworkParams configures network formation.
type NetworkParams struct {
	Channel       uint8
	PANID         uint16
	ExtendedPANID EUI64
}

// Transport is implemented by a radio driver backend. The coordinator is
// written against this interface only.
//
// Implementations wrap timeouts and send failures in ErrTransportFailure and
// return ErrNotImplemented for hooks they do not support.
type Transport interface {
	// Startup brings the radio up, forming a network first when autoForm is set.
	Startup(ctx context.Context, autoForm bool) error

	// FormNetwork forms a new network.
	FormNetwork(ctx context.Context, params NetworkParams) error

	// Request sends a single request and waits for its response.
	Request(ctx context.Context, req Request) (Response, error)

	// Permit opens the network for joining for the given duration.
	Permit(ctx context.Context, duration time.Duration) error

	// PermitWithKey permits a specific node to join using an install code.
	PermitWithKey(ctx context.Context, node EUI64, code []byte, duration time.Duration) error

	// ForceRemove purges a device at the radio layer without its cooperation.
	ForceRemove(ctx context.Context, ieee EUI64) error
}

// Initializer runs the initialization handshake for a device.
//
// ScheduleInitialize must not block. The implementation calls back
// Coordinator.DeviceInitialized or Coordinator.InitializationFailed when the
// handshake finishes.
type Initializer interface {
	ScheduleInitialize(ieee EUI64)
}

// UnimplementedTransport returns ErrNotImplemented from every hook.
// Embed it in a backend to satisfy Transport while only some hooks exist.
type UnimplementedTransport struct{}

// Startup implements Transport.
func (UnimplementedTransport) Startup(context.Context, bool) error { return ErrNotImplemented }

// FormNetwork implements Transport.
func (UnimplementedTransport) FormNetwork(context.Context, NetworkParams) error {
	return ErrNotImplemented
}

// Request implements Transport.
func (UnimplementedTransport) Request(context.Context, Request) (Response, error) {
	return Response{}, ErrNotImplemented
}

// Permit implements Transport.
func (UnimplementedTransport) Permit(context.Context, time.Duration) error { return ErrNotImplemented }

// PermitWithKey implements Transport.
func (UnimplementedTransport) PermitWithKey(context.Context, EUI64, []byte, time.Duration) error {
	return ErrNotImplemented
}

// ForceRemove implements Transport.
func (UnimplementedTransport) ForceRemove(context.Context, EUI64) error { return ErrNotImplemented }

// leavePayload builds the Mgmt_Leave_req body: the target identity in
// over-the-air (little-endian) order followed by a zero flags byte
// (no rejoin, keep children).
func leavePayload(ieee EUI64) []byte {
	out := make([]byte, 0, eui64Len+1)
	for i := eui64Len - 1; i >= 0; i-- {
		out = append(out, ieee[i])
	}
	return append(out, 0x00)
}
