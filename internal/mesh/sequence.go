package mesh

import "sync/atomic"

// Sequencer produces transaction sequence numbers for outgoing requests.
//
// The counter starts at 0 and each call to Next returns the previous value
// plus one, modulo 256. The zero value is ready to use.
type Sequencer struct {
	n atomic.Uint32
}

// Next returns the next sequence number.
//
// 2^32 is a multiple of 256, so truncating the atomic counter yields the
// same wrapping sequence as an 8-bit counter, without a lock.
func (s *Sequencer) Next() uint8 {
	return uint8(s.n.Add(1)) //nolint:gosec // truncation is the wrap
}

// Current returns the last value handed out (0 before the first call).
func (s *Sequencer) Current() uint8 {
	return uint8(s.n.Load()) //nolint:gosec // truncation is the wrap
}
