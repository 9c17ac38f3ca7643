package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/gray-logic-mesh/internal/mesh"
)

// EventSink receives a copy of lifecycle events and request outcomes for
// long-term storage. *influxdb.Client satisfies it.
type EventSink interface {
	WriteLifecycleEvent(kind, ieee string, nwk uint16, status string, ts time.Time)
	WriteRequestOutcome(cluster uint16, attempts int, failed bool, elapsed time.Duration)
}

// DeviceCounter reports the current registry size.
type DeviceCounter interface {
	DeviceCount() int
}

// Recorder turns coordinator activity into Prometheus metrics and, when a
// sink is configured, time-series points.
//
// It is both an event listener (Attach) and a mesh.RequestObserver.
type Recorder struct {
	reg  prometheus.Registerer
	sink EventSink

	events      *prometheus.CounterVec
	requests    *prometheus.CounterVec
	attempts    prometheus.Histogram
	duration    prometheus.Histogram
	exhausted   prometheus.Counter
	unsupported prometheus.Counter
}

// NewRecorder registers the mesh metrics on reg. sink may be nil.
func NewRecorder(reg prometheus.Registerer, sink EventSink) *Recorder {
	factory := promauto.With(reg)

	r := &Recorder{
		reg:  reg,
		sink: sink,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshcore",
			Name:      "lifecycle_events_total",
			Help:      "Device lifecycle events emitted by the coordinator.",
		}, []string{"kind"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshcore",
			Name:      "requests_total",
			Help:      "Logical outbound requests by outcome.",
		}, []string{"outcome"}),
		attempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meshcore",
			Name:      "request_attempts",
			Help:      "Transport attempts per logical request.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meshcore",
			Name:      "request_duration_seconds",
			Help:      "Wall time of logical requests including retries.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		exhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshcore",
			Name:      "request_retries_exhausted_total",
			Help:      "Requests that failed after every permitted attempt.",
		}),
		unsupported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshcore",
			Name:      "request_not_implemented_total",
			Help:      "Requests refused because the transport lacks the hook.",
		}),
	}

	for _, kind := range mesh.AllEventKinds {
		r.events.WithLabelValues(kind.String())
	}
	for _, outcome := range []string{outcomeOK, outcomeFailed} {
		r.requests.WithLabelValues(outcome)
	}

	return r
}

const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// Attach subscribes to every lifecycle event and exports the registry size
// of devices as a gauge.
func (r *Recorder) Attach(events *mesh.Broadcaster, devices DeviceCounter) (mesh.SubscriptionID, error) {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "meshcore",
		Name:      "registry_devices",
		Help:      "Devices currently held in the registry.",
	}, func() float64 {
		return float64(devices.DeviceCount())
	})
	if err := r.reg.Register(gauge); err != nil {
		return 0, fmt.Errorf("registering registry gauge: %w", err)
	}

	return events.Subscribe(r.Handle), nil
}

// Handle records one lifecycle event.
func (r *Recorder) Handle(ev mesh.Event) error {
	r.events.WithLabelValues(ev.Kind.String()).Inc()

	if r.sink != nil {
		ts := ev.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		r.sink.WriteLifecycleEvent(ev.Kind.String(), ev.Device.IEEE.String(), uint16(ev.Device.NWK), ev.Device.Status.String(), ts)
	}
	return nil
}

// ObserveRequest implements mesh.RequestObserver.
func (r *Recorder) ObserveRequest(req mesh.Request, attempts int, elapsed time.Duration, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeFailed
	}
	r.requests.WithLabelValues(outcome).Inc()
	r.attempts.Observe(float64(attempts))
	r.duration.Observe(elapsed.Seconds())

	switch {
	case errors.Is(err, mesh.ErrRetryExhausted):
		r.exhausted.Inc()
	case errors.Is(err, mesh.ErrNotImplemented):
		r.unsupported.Inc()
	}

	if r.sink != nil {
		r.sink.WriteRequestOutcome(req.Cluster, attempts, err != nil, elapsed)
	}
}
