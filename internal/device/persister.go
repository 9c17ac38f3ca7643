package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-mesh/internal/mesh"
)

// writeTimeout bounds a single repository write made from an event handler.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the persister.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Persister mirrors coordinator lifecycle events into a Repository.
//
// Handlers run synchronously on the coordinator's dispatch path, so each
// write is bounded by a short timeout. Failures are returned to the
// broadcaster, which logs them; the in-memory registry stays authoritative.
type Persister struct {
	repo   Repository
	logger Logger
}

// NewPersister creates a persister writing to repo.
func NewPersister(repo Repository) *Persister {
	return &Persister{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the persister.
func (p *Persister) SetLogger(logger Logger) {
	p.logger = logger
}

// Attach subscribes the persister to the lifecycle events it stores.
func (p *Persister) Attach(events *mesh.Broadcaster) mesh.SubscriptionID {
	return events.Subscribe(p.Handle,
		mesh.EventDeviceJoined,
		mesh.EventDeviceLeft,
		mesh.EventDeviceInitialized,
		mesh.EventDeviceRemoved,
	)
}

// Handle applies a single event to the repository.
func (p *Persister) Handle(ev mesh.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	ieee := ev.Device.IEEE

	switch ev.Kind {
	case mesh.EventDeviceJoined, mesh.EventDeviceInitialized:
		if err := p.repo.Save(ctx, ev.Device); err != nil {
			return fmt.Errorf("persisting %s: %w", ev.Kind, err)
		}
		p.logger.Debug("device persisted", "ieee", ieee.String(), "status", ev.Device.Status.String())

	case mesh.EventDeviceLeft:
		err := p.repo.Touch(ctx, ieee, ev.Time)
		if errors.Is(err, ErrDeviceNotFound) {
			// Known to the registry but never stored, e.g. restored from an older database.
			err = p.repo.Save(ctx, ev.Device)
		}
		if err != nil {
			return fmt.Errorf("persisting %s: %w", ev.Kind, err)
		}

	case mesh.EventDeviceRemoved:
		err := p.repo.Delete(ctx, ieee)
		if err != nil && !errors.Is(err, ErrDeviceNotFound) {
			return fmt.Errorf("persisting %s: %w", ev.Kind, err)
		}
		p.logger.Debug("device deleted from store", "ieee", ieee.String())
	}

	return nil
}

// Load returns the stored devices for mesh.Coordinator.Restore.
func (p *Persister) Load(ctx context.Context) ([]mesh.DeviceInfo, error) {
	devices, err := p.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stored devices: %w", err)
	}
	p.logger.Info("stored devices loaded", "count", len(devices))
	return devices, nil
}
