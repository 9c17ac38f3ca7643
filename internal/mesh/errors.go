package mesh

import "errors"

// Domain errors for the mesh package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, mesh.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no device matches an identity or short address.
	ErrDeviceNotFound = errors.New("mesh: device not found")

	// ErrDeviceExists is returned when inserting an identity that is already registered.
	ErrDeviceExists = errors.New("mesh: device already exists")

	// ErrInvalidSelector is returned when a lookup does not populate exactly one selector.
	ErrInvalidSelector = errors.New("mesh: exactly one of ieee or nwk must be set")

	// ErrInvalidEUI64 is returned when an identity string cannot be parsed.
	ErrInvalidEUI64 = errors.New("mesh: invalid EUI64")

	// ErrTransportFailure is returned by transports for timeouts and send errors.
	ErrTransportFailure = errors.New("mesh: transport failure")

	// ErrLeaveRejected is returned when a device answers a leave request with a non-success status.
	ErrLeaveRejected = errors.New("mesh: leave request rejected")

	// ErrRetryExhausted is returned when the request retry policy gives up.
	ErrRetryExhausted = errors.New("mesh: request retries exhausted")

	// ErrNotImplemented is returned by transport hooks that are not bound to a backend.
	// It is never retried.
	ErrNotImplemented = errors.New("mesh: capability not implemented by transport")

	// ErrNoTransport is returned when the coordinator has no transport configured.
	ErrNoTransport = errors.New("mesh: no transport configured")
)
