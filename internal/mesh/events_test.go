package mesh

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversInRegistrationOrder(t *testing.T) {
	b := NewBroadcaster()
	var got []string

	b.Subscribe(func(Event) error { got = append(got, "first"); return nil })
	b.Subscribe(func(Event) error { got = append(got, "second"); return nil })
	b.Subscribe(func(Event) error { got = append(got, "third"); return nil })

	b.Publish(Event{Kind: EventDeviceJoined})
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestBroadcaster_IsolatesFailingHandlers(t *testing.T) {
	b := NewBroadcaster()
	delivered := 0

	b.Subscribe(func(Event) error { panic("boom") })
	b.Subscribe(func(Event) error { return errors.New("handler failed") })
	b.Subscribe(func(Event) error { delivered++; return nil })

	require.NotPanics(t, func() {
		b.Publish(Event{Kind: EventDeviceRemoved})
	})
	assert.Equal(t, 1, delivered)
}

func TestBroadcaster_KindFilter(t *testing.T) {
	b := NewBroadcaster()
	var kinds []EventKind

	b.Subscribe(func(ev Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	}, EventDeviceInitialized)

	b.Publish(Event{Kind: EventDeviceJoined})
	b.Publish(Event{Kind: EventRawDeviceInitialized})
	b.Publish(Event{Kind: EventDeviceInitialized})

	assert.Equal(t, []EventKind{EventDeviceInitialized}, kinds)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	calls := 0
	id := b.Subscribe(func(Event) error { calls++; return nil })

	assert.True(t, b.Unsubscribe(id))
	assert.False(t, b.Unsubscribe(id))
	assert.Equal(t, 0, b.Len())

	b.Publish(Event{Kind: EventDeviceJoined})
	assert.Equal(t, 0, calls)
}

func TestBroadcaster_StampsTime(t *testing.T) {
	b := NewBroadcaster()
	var ev Event
	b.Subscribe(func(e Event) error { ev = e; return nil })

	b.Publish(Event{Kind: EventDeviceLeft})
	assert.False(t, ev.Time.IsZero())
}

func TestEventKindNames(t *testing.T) {
	names := make([]string, 0, len(AllEventKinds))
	for _, k := range AllEventKinds {
		names = append(names, k.String())
	}
	assert.Equal(t, []string{
		"device_joined", "device_left", "device_removed",
		"device_initialized", "raw_device_initialized",
	}, names)
}

func TestParseEventKind(t *testing.T) {
	for _, k := range AllEventKinds {
		got, err := ParseEventKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseEventKind("device_exploded")
	assert.Error(t, err)

	var k EventKind
	require.NoError(t, k.UnmarshalText([]byte("device_left")))
	assert.Equal(t, EventDeviceLeft, k)
}
