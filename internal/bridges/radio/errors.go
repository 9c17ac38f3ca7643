package radio

import "errors"

// Domain errors for the radio bridge package.
var (
	// ErrNotConnected is returned when the MQTT connection to the daemon is down.
	ErrNotConnected = errors.New("radio: not connected to broker")

	// ErrBridgeStopped is returned for requests pending when Stop is called.
	ErrBridgeStopped = errors.New("radio: bridge stopped")

	// ErrTimeout is returned when the daemon does not answer in time.
	ErrTimeout = errors.New("radio: request timed out")

	// ErrCommandFailed is returned when the daemon answers with an error.
	ErrCommandFailed = errors.New("radio: command failed")

	// ErrInvalidMessage is returned when a payload cannot be decoded.
	ErrInvalidMessage = errors.New("radio: invalid message")

	// ErrInterviewFailed is passed to the coordinator when a device interview fails.
	ErrInterviewFailed = errors.New("radio: interview failed")
)
