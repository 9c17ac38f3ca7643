package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport records calls and answers from configurable hooks.
type fakeTransport struct {
	UnimplementedTransport

	mu           sync.Mutex
	requests     []Request
	forceRemoved []EUI64
	permits      []time.Duration

	requestFn func(ctx context.Context, req Request) (Response, error)
	forceErr  error
}

func (f *fakeTransport) Request(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.requestFn
	f.mu.Unlock()

	if fn == nil {
		return Response{Status: StatusSuccess}, nil
	}
	return fn(ctx, req)
}

func (f *fakeTransport) ForceRemove(_ context.Context, ieee EUI64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceRemoved = append(f.forceRemoved, ieee)
	return f.forceErr
}

func (f *fakeTransport) Permit(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permits = append(f.permits, d)
	return nil
}

func (f *fakeTransport) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) forceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forceRemoved)
}

// fakeInitializer counts scheduling calls per identity.
type fakeInitializer struct {
	mu    sync.Mutex
	calls map[EUI64]int
	order []EUI64
}

func newFakeInitializer() *fakeInitializer {
	return &fakeInitializer{calls: make(map[EUI64]int)}
}

func (f *fakeInitializer) ScheduleInitialize(ieee EUI64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ieee]++
	f.order = append(f.order, ieee)
}

func (f *fakeInitializer) count(ieee EUI64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ieee]
}

// eventRecorder collects every published event.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	coord     *Coordinator
	transport *fakeTransport
	init      *fakeInitializer
	events    *eventRecorder
}

// newHarness builds a coordinator acting as the addressing root with fast retries.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		transport: &fakeTransport{},
		init:      newFakeInitializer(),
		events:    &eventRecorder{},
	}
	h.coord = NewCoordinator(Options{
		Transport:   h.transport,
		Initializer: h.init,
		Retry: RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      2,
		},
		LeaveTimeout: time.Second,
	})
	h.coord.SetLocalAddress(mustEUI(t, "00:12:4b:00:00:00:00:01"), CoordinatorNWK)
	h.coord.Events().Subscribe(h.events.handle)
	return h
}

func mustEUI(t *testing.T, s string) EUI64 {
	t.Helper()
	id, err := ParseEUI64(s)
	require.NoError(t, err)
	return id
}
