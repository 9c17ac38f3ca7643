package mesh

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	attempts []int
	errs     []error
}

func (o *recordingObserver) ObserveRequest(_ Request, attempts int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, attempts)
	o.errs = append(o.errs, err)
}

func TestRequest_SucceedsAfterTransientFailure(t *testing.T) {
	h := newHarness(t)
	obs := &recordingObserver{}
	h.coord.observer = obs

	calls := 0
	h.transport.requestFn = func(context.Context, Request) (Response, error) {
		calls++
		if calls < 2 {
			return Response{}, fmt.Errorf("%w: timeout", ErrTransportFailure)
		}
		return Response{Status: StatusSuccess, Data: []byte{0x01}}, nil
	}

	resp, err := h.coord.Request(t.Context(), Request{NWK: 0x1234, Sequence: 7})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, resp.Data)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{2}, obs.attempts)

	for _, req := range h.transport.requests {
		assert.Equal(t, uint8(7), req.Sequence, "retries reuse the sequence")
	}
}

func TestRequest_RetryExhausted(t *testing.T) {
	h := newHarness(t)
	h.transport.requestFn = func(context.Context, Request) (Response, error) {
		return Response{}, fmt.Errorf("%w: no ack", ErrTransportFailure)
	}

	_, err := h.coord.Request(t.Context(), Request{NWK: 0x1234})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.Equal(t, 3, h.transport.requestCount())
}

func TestRequest_NotImplementedIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.transport.requestFn = func(context.Context, Request) (Response, error) {
		return Response{}, ErrNotImplemented
	}

	_, err := h.coord.Request(t.Context(), Request{NWK: 0x1234})
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 1, h.transport.requestCount())
}

func TestRequest_NoTransport(t *testing.T) {
	c := NewCoordinator(Options{})
	_, err := c.Request(t.Context(), Request{})
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestRequest_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	h.coord.retry = RetryPolicy{MaxAttempts: 10, InitialInterval: time.Hour, MaxInterval: time.Hour}

	ctx, cancel := context.WithCancel(t.Context())
	h.transport.requestFn = func(context.Context, Request) (Response, error) {
		cancel()
		return Response{}, ErrTransportFailure
	}

	_, err := h.coord.Request(ctx, Request{NWK: 0x1234})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 1, h.transport.requestCount())
}

func TestSendRequest_DrawsFreshSequence(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.SendRequest(t.Context(), Request{NWK: 1})
	require.NoError(t, err)
	_, err = h.coord.SendRequest(t.Context(), Request{NWK: 2})
	require.NoError(t, err)

	require.Len(t, h.transport.requests, 2)
	assert.Equal(t, uint8(1), h.transport.requests[0].Sequence)
	assert.Equal(t, uint8(2), h.transport.requests[1].Sequence)
}
