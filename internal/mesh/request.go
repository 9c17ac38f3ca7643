package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how outbound requests are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	MaxAttempts int

	// InitialInterval is the delay before the second attempt.
	InitialInterval time.Duration

	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64
}

// DefaultRetryPolicy returns three attempts starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// backOff builds the backoff schedule for one logical request.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 1 {
		exp.Multiplier = p.Multiplier
	}
	exp.MaxElapsedTime = 0 // bounded by attempts instead
	exp.Reset()

	//nolint:gosec // attempts() is always >= 1
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.attempts()-1)), ctx)
}

// RequestObserver is notified once per logical request, after the last attempt.
type RequestObserver interface {
	ObserveRequest(req Request, attempts int, elapsed time.Duration, err error)
}

// Request sends req through the transport, retrying failures according to
// the coordinator's RetryPolicy.
//
// Every attempt reuses req.Sequence; the caller owns sequence freshness.
// Use SendRequest to draw a new sequence number per logical request.
//
// ErrNotImplemented is returned immediately without retrying. When the policy
// gives up the returned error matches both ErrRetryExhausted and the last
// transport error.
func (c *Coordinator) Request(ctx context.Context, req Request) (Response, error) {
	transport, err := c.requireTransport()
	if err != nil {
		return Response{}, err
	}

	start := time.Now()
	attempts := 0
	var resp Response

	op := func() (Response, error) {
		attempts++
		resp, err := transport.Request(ctx, req)
		if err != nil {
			if errors.Is(err, ErrNotImplemented) {
				return Response{}, backoff.Permanent(err)
			}
			return Response{}, err
		}
		return resp, nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("request failed, retrying",
			"nwk", req.NWK.String(),
			"cluster", fmt.Sprintf("0x%04x", req.Cluster),
			"sequence", req.Sequence,
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	}

	resp, err = backoff.RetryNotifyWithData(op, c.retry.backOff(ctx), notify)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotImplemented):
		case ctx.Err() != nil:
			err = fmt.Errorf("request to %s cancelled after %d attempts: %w", req.NWK, attempts, err)
		default:
			err = fmt.Errorf("%w: %s after %d attempts: %w", ErrRetryExhausted, req.NWK, attempts, err)
		}
	}

	if c.observer != nil {
		c.observer.ObserveRequest(req, attempts, time.Since(start), err)
	}
	return resp, err
}

// SendRequest assigns a fresh sequence number to req and sends it with retries.
func (c *Coordinator) SendRequest(ctx context.Context, req Request) (Response, error) {
	req.Sequence = c.NextSequence()
	return c.Request(ctx, req)
}
