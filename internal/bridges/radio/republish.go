package radio

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mesh/internal/mesh"
)

// defaultRepublishBuffer is the number of events queued before new ones are dropped.
const defaultRepublishBuffer = 256

// Republisher copies coordinator lifecycle events onto the MQTT bus at
// graylogic/mesh/core/event/{kind} as JSON, for consumers outside the core.
//
// Broadcaster handlers run while the coordinator holds its lock, so Handle
// only enqueues. A single worker publishes in order. When the queue is full
// the event is dropped and counted.
type Republisher struct {
	mqtt  MQTTClient
	qos   byte
	queue chan mesh.Event

	dropped atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewRepublisher creates a republisher. buffer <= 0 selects the default queue size.
func NewRepublisher(client MQTTClient, qos byte, buffer int) *Republisher {
	if buffer <= 0 {
		buffer = defaultRepublishBuffer
	}
	return &Republisher{
		mqtt:  client,
		qos:   qos,
		queue: make(chan mesh.Event, buffer),
		done:  make(chan struct{}),
	}
}

// SetLogger sets the logger. Call before Start.
func (p *Republisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Attach subscribes to every lifecycle event kind.
func (p *Republisher) Attach(events *mesh.Broadcaster) mesh.SubscriptionID {
	return events.Subscribe(p.Handle)
}

// Start launches the publishing worker.
func (p *Republisher) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop publishes whatever is still queued and waits for the worker to exit.
func (p *Republisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// Dropped returns the number of events discarded because the queue was full.
func (p *Republisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Handle enqueues ev without blocking.
func (p *Republisher) Handle(ev mesh.Event) error {
	select {
	case p.queue <- ev:
		return nil
	default:
		p.dropped.Add(1)
		return fmt.Errorf("republish queue full, dropped %s for %s", ev.Kind, ev.Device.IEEE)
	}
}

func (p *Republisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.publish(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.queue:
					p.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Republisher) publish(ev mesh.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.warn("failed to encode lifecycle event", "kind", ev.Kind.String(), "error", err)
		return
	}

	topic := mqtt.Topics{}.CoreEvent(ev.Kind.String())
	if err := p.mqtt.Publish(topic, payload, p.qos, false); err != nil {
		p.warn("failed to republish lifecycle event",
			"kind", ev.Kind.String(), "ieee", ev.Device.IEEE.String(), "error", err)
	}
}

func (p *Republisher) warn(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, keysAndValues...)
	}
}
