package mesh

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// eui64Len is the number of bytes in an IEEE identity.
const eui64Len = 8

// CoordinatorNWK is the reserved short address of the network's addressing root.
const CoordinatorNWK NWK = 0x0000

// EUI64 is the long-lived, globally unique identity of a network device.
// Byte 0 is the most significant byte, matching the printed form.
type EUI64 [eui64Len]byte

// ParseEUI64 parses an identity in "aa:bb:cc:dd:ee:ff:00:11" form.
// Separators may be ':' or '-', or omitted entirely (16 hex digits).
func ParseEUI64(s string) (EUI64, error) {
	var id EUI64

	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != eui64Len*2 {
		return id, fmt.Errorf("%w: %q", ErrInvalidEUI64, s)
	}

	if _, err := hex.Decode(id[:], []byte(clean)); err != nil {
		return id, fmt.Errorf("%w: %q: %w", ErrInvalidEUI64, s, err)
	}
	return id, nil
}

// String returns the colon-separated lowercase form.
func (e EUI64) String() string {
	var b strings.Builder
	b.Grow(eui64Len*3 - 1)
	for i, octet := range e {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex.EncodeToString([]byte{octet}))
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (e EUI64) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EUI64) UnmarshalText(text []byte) error {
	parsed, err := ParseEUI64(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// NWK is the 16-bit short address assigned by the network. It can change
// without the device's identity changing.
type NWK uint16

// ParseNWK parses a short address in "0x1234" or plain hex form.
func ParseNWK(s string) (NWK, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("mesh: invalid short address %q: %w", s, err)
	}
	return NWK(v), nil
}

// String returns the address as 0x-prefixed, zero-padded hex.
func (n NWK) String() string {
	return fmt.Sprintf("0x%04x", uint16(n))
}

// MarshalText implements encoding.TextMarshaler.
func (n NWK) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NWK) UnmarshalText(text []byte) error {
	parsed, err := ParseNWK(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Status is the initialization state of a device.
type Status uint8

// Device lifecycle states.
const (
	// StatusNew is assigned on creation and whenever a device must be re-initialized.
	StatusNew Status = iota

	// StatusInitializing is set while the initialization handshake is in flight.
	StatusInitializing

	// StatusEndpointsInitialized is terminal for a session.
	StatusEndpointsInitialized
)

// String returns the status name used in logs, events and storage.
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusInitializing:
		return "initializing"
	case StatusEndpointsInitialized:
		return "endpoints_initialized"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseStatus converts a stored status name back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "new":
		return StatusNew, nil
	case "initializing":
		return StatusInitializing, nil
	case "endpoints_initialized":
		return StatusEndpointsInitialized, nil
	default:
		return StatusNew, fmt.Errorf("mesh: unknown status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
