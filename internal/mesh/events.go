package mesh

import (
	"fmt"
	"sync"
	"time"
)

// EventKind identifies a device lifecycle transition.
type EventKind uint8

// Lifecycle events emitted by the Coordinator.
const (
	EventDeviceJoined EventKind = iota + 1
	EventDeviceLeft
	EventDeviceRemoved
	EventDeviceInitialized
	EventRawDeviceInitialized
)

// AllEventKinds lists every event kind in declaration order.
var AllEventKinds = []EventKind{
	EventDeviceJoined,
	EventDeviceLeft,
	EventDeviceRemoved,
	EventDeviceInitialized,
	EventRawDeviceInitialized,
}

// String returns the event name used by listeners and external topics.
func (k EventKind) String() string {
	switch k {
	case EventDeviceJoined:
		return "device_joined"
	case EventDeviceLeft:
		return "device_left"
	case EventDeviceRemoved:
		return "device_removed"
	case EventDeviceInitialized:
		return "device_initialized"
	case EventRawDeviceInitialized:
		return "raw_device_initialized"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseEventKind returns the kind named s, as produced by String.
func ParseEventKind(s string) (EventKind, error) {
	for _, k := range AllEventKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEventKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event is delivered to listeners after a lifecycle transition.
// Device is a snapshot; listeners cannot reach the registry through it.
type Event struct {
	Kind   EventKind  `json:"kind"`
	Device DeviceInfo `json:"device"`
	Time   time.Time  `json:"time"`
}

// Handler receives events. A returned error is logged and otherwise ignored.
type Handler func(Event) error

// SubscriptionID identifies a registered handler.
type SubscriptionID uint64

type subscriber struct {
	id      SubscriptionID
	kinds   map[EventKind]struct{} // nil means every kind
	handler Handler
}

// Broadcaster dispatches events to subscribers synchronously, in
// registration order.
//
// A handler that panics or returns an error is logged and skipped; dispatch
// continues with the next subscriber.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID SubscriptionID
	logger Logger
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{logger: noopLogger{}}
}

// SetLogger sets the logger used for handler failures.
func (b *Broadcaster) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Subscribe registers a handler for the given kinds, or for every kind when
// none are given.
func (b *Broadcaster) Subscribe(handler Handler, kinds ...EventKind) SubscriptionID {
	var filter map[EventKind]struct{}
	if len(kinds) > 0 {
		filter = make(map[EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			filter[k] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs = append(b.subs, subscriber{id: b.nextID, kinds: filter, handler: handler})
	return b.nextID
}

// Unsubscribe removes a handler. It reports whether the handler was registered.
func (b *Broadcaster) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers an event to every matching subscriber and returns once all
// of them have run.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	logger := b.logger
	b.mu.RUnlock()

	for _, s := range subs {
		if s.kinds != nil {
			if _, ok := s.kinds[ev.Kind]; !ok {
				continue
			}
		}
		b.deliver(s, ev, logger)
	}
}

func (b *Broadcaster) deliver(s subscriber, ev Event, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panic recovered",
				"event", ev.Kind.String(),
				"subscription", uint64(s.id),
				"ieee", ev.Device.IEEE.String(),
				"panic", r,
			)
		}
	}()

	if err := s.handler(ev); err != nil {
		logger.Warn("event handler returned error",
			"event", ev.Kind.String(),
			"subscription", uint64(s.id),
			"ieee", ev.Device.IEEE.String(),
			"error", err,
		)
	}
}
