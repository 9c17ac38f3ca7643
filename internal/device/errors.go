package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no stored row matches an identity.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrCorruptRow is returned when a stored row cannot be decoded.
	ErrCorruptRow = errors.New("device: corrupt row")
)
