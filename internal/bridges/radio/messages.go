package radio

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MQTT message types exchanged with the radio daemon. All payloads are CBOR
// with integer keys.

// Command names a request the daemon executes.
type Command string

// Commands understood by the radio daemon.
const (
	CommandStartup       Command = "startup"
	CommandFormNetwork   Command = "form_network"
	CommandPermit        Command = "permit"
	CommandPermitWithKey Command = "permit_with_key"
	CommandForceRemove   Command = "force_remove"
	CommandInterview     Command = "interview"
	CommandRequest       Command = "request"
)

// Event kinds published by the daemon on graylogic/mesh/{bridge}/event/{kind}.
const (
	EventJoin             = "join"
	EventLeave            = "leave"
	EventDeviceSeen       = "device_seen"
	EventInterviewStarted = "interview_started"
	EventInterviewed      = "interviewed"
	EventInterviewFailed  = "interview_failed"
	EventNetworkUp        = "network_up"
)

// Error codes a daemon may put in ResponseMessage.Code.
const (
	CodeNotImplemented = "not_implemented"
	CodeBusy           = "busy"
	CodeFailed         = "failed"
)

// RequestMessage is sent from the core to the daemon.
// Topic: graylogic/mesh/{bridge}/request/{id}
type RequestMessage struct {
	ID        string          `cbor:"1,keyasint"`
	Command   Command         `cbor:"2,keyasint"`
	Timestamp time.Time       `cbor:"3,keyasint"`
	Params    cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

// ResponseMessage is the daemon's reply to a RequestMessage.
// Topic: graylogic/mesh/{bridge}/response/{id}
type ResponseMessage struct {
	ID      string `cbor:"1,keyasint"`
	OK      bool   `cbor:"2,keyasint"`
	Code    string `cbor:"3,keyasint,omitempty"`
	Message string `cbor:"4,keyasint,omitempty"`

	// Status and Data carry the radio response for CommandRequest.
	Status uint8  `cbor:"5,keyasint,omitempty"`
	Data   []byte `cbor:"6,keyasint,omitempty"`
}

// EventMessage is an unsolicited network event from the daemon.
// Topic: graylogic/mesh/{bridge}/event/{kind}
type EventMessage struct {
	IEEE      string    `cbor:"1,keyasint"`
	NWK       uint16    `cbor:"2,keyasint"`
	Parent    uint16    `cbor:"3,keyasint,omitempty"`
	Reason    string    `cbor:"4,keyasint,omitempty"`
	Timestamp time.Time `cbor:"5,keyasint"`
}

// StartupParams accompanies CommandStartup.
type StartupParams struct {
	AutoForm bool `cbor:"1,keyasint"`
}

// FormNetworkParams accompanies CommandFormNetwork.
type FormNetworkParams struct {
	Channel       uint8  `cbor:"1,keyasint"`
	PANID         uint16 `cbor:"2,keyasint"`
	ExtendedPANID string `cbor:"3,keyasint,omitempty"`
}

// PermitParams accompanies CommandPermit and CommandPermitWithKey.
type PermitParams struct {
	DurationSeconds uint32 `cbor:"1,keyasint"`
	Node            string `cbor:"2,keyasint,omitempty"`
	InstallCode     []byte `cbor:"3,keyasint,omitempty"`
}

// DeviceParams accompanies CommandForceRemove and CommandInterview.
type DeviceParams struct {
	IEEE string `cbor:"1,keyasint"`
}

// SendParams accompanies CommandRequest.
type SendParams struct {
	NWK         uint16 `cbor:"1,keyasint"`
	Profile     uint16 `cbor:"2,keyasint"`
	Cluster     uint16 `cbor:"3,keyasint"`
	SrcEndpoint uint8  `cbor:"4,keyasint"`
	DstEndpoint uint8  `cbor:"5,keyasint"`
	Sequence    uint8  `cbor:"6,keyasint"`
	Data        []byte `cbor:"7,keyasint,omitempty"`
	ExpectReply bool   `cbor:"8,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("radio: cbor encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("radio: cbor decoder mode: %v", err))
	}
}

// Encode marshals a message with the bridge's CBOR options.
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode unmarshals a CBOR payload into v.
func Decode(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}

// NewRequestMessage builds a request envelope with encoded params.
func NewRequestMessage(id string, cmd Command, params any) (RequestMessage, error) {
	msg := RequestMessage{
		ID:        id,
		Command:   cmd,
		Timestamp: time.Now().UTC(),
	}
	if params != nil {
		raw, err := Encode(params)
		if err != nil {
			return RequestMessage{}, fmt.Errorf("encoding %s params: %w", cmd, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// durationSeconds rounds up to whole seconds, saturating at the field width.
func durationSeconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	if secs > time.Duration(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(secs)
}
