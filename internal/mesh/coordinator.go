package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// defaultLeaveTimeout bounds the graceful leave request inside Remove.
const defaultLeaveTimeout = 10 * time.Second

// Options holds the collaborators of a Coordinator.
type Options struct {
	// Transport is the radio driver backend. Required for requests and removal
	// while acting as the addressing root.
	Transport Transport

	// Initializer runs device initialization. If nil, scheduling only flips
	// the initializing guard.
	Initializer Initializer

	// Retry is the policy applied to Request. Zero value means a single attempt.
	Retry RetryPolicy

	// LeaveTimeout bounds the graceful leave request. Default: 10s.
	LeaveTimeout time.Duration

	// Observer is notified of request outcomes. Optional.
	Observer RequestObserver
}

// Coordinator reacts to network membership events, owns the device registry
// and drives device initialization and removal.
//
// All public methods are thread-safe. Registry mutations and event dispatch
// are serialised by a single lock, so listeners observe events in the order
// the registry changed. Event handlers must therefore not call mutating
// Coordinator methods synchronously.
type Coordinator struct {
	mu       sync.Mutex // serialises registry mutations and event dispatch
	registry *Registry
	events   *Broadcaster
	seq      Sequencer

	transport    Transport
	initializer  Initializer
	retry        RetryPolicy
	leaveTimeout time.Duration
	observer     RequestObserver
	logger       Logger

	// removing holds identities popped by Remove whose device_removed event
	// has not been published yet. Joins for them are replayed afterwards.
	removing map[EUI64]*deferredJoin

	addrMu    sync.RWMutex
	localIEEE *EUI64
	localNWK  *NWK
}

// deferredJoin is the last join seen for an identity while it was being removed.
type deferredJoin struct {
	seen        bool
	nwk         NWK
	parent      NWK
	fromNetwork bool
}

// NewCoordinator creates a coordinator with an empty registry.
func NewCoordinator(opts Options) *Coordinator {
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = defaultLeaveTimeout
	}

	return &Coordinator{
		registry:     NewRegistry(),
		events:       NewBroadcaster(),
		transport:    opts.Transport,
		initializer:  opts.Initializer,
		retry:        opts.Retry,
		leaveTimeout: opts.LeaveTimeout,
		observer:     opts.Observer,
		logger:       noopLogger{},
		removing:     make(map[EUI64]*deferredJoin),
	}
}

// SetLogger sets the logger for the coordinator and its broadcaster.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
	c.events.SetLogger(logger)
}

// SetInitializer sets the initialization collaborator. Call before handling
// network events; the radio bridge is usually created after the coordinator.
func (c *Coordinator) SetInitializer(init Initializer) {
	c.mu.Lock()
	c.initializer = init
	c.mu.Unlock()
}

// SetTransport sets the transport backend. Call before Startup.
func (c *Coordinator) SetTransport(t Transport) {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
}

// Events returns the broadcaster listeners subscribe to.
func (c *Coordinator) Events() *Broadcaster {
	return c.events
}

// NextSequence returns the next transaction sequence number.
func (c *Coordinator) NextSequence() uint8 {
	return c.seq.Next()
}

// SetLocalAddress records the controller's own addresses, as reported by the
// transport once the network is up.
func (c *Coordinator) SetLocalAddress(ieee EUI64, nwk NWK) {
	c.addrMu.Lock()
	c.localIEEE = &ieee
	c.localNWK = &nwk
	c.addrMu.Unlock()

	c.logger.Info("local address assigned", "ieee", ieee.String(), "nwk", nwk.String())
}

// LocalIEEE returns the controller's identity, if assigned.
func (c *Coordinator) LocalIEEE() (EUI64, bool) {
	c.addrMu.RLock()
	defer c.addrMu.RUnlock()
	if c.localIEEE == nil {
		return EUI64{}, false
	}
	return *c.localIEEE, true
}

// LocalNWK returns the controller's short address, if assigned.
func (c *Coordinator) LocalNWK() (NWK, bool) {
	c.addrMu.RLock()
	defer c.addrMu.RUnlock()
	if c.localNWK == nil {
		return 0, false
	}
	return *c.localNWK, true
}

// IsAddressingRoot reports whether this controller coordinates the network.
func (c *Coordinator) IsAddressingRoot() bool {
	nwk, ok := c.LocalNWK()
	return ok && nwk == CoordinatorNWK
}

// HandleJoin processes a join notification from the transport.
//
// A new identity is registered, announced with EventDeviceJoined and
// scheduled for initialization. A known identity with a new short address is
// updated in place and re-initialized without a join event. Duplicate
// notifications for a device that is initializing or already initialized are
// ignored.
func (c *Coordinator) HandleJoin(nwk NWK, ieee EUI64, parent NWK) {
	c.logger.Info("device joined the network",
		"ieee", ieee.String(), "nwk", nwk.String(), "parent", parent.String())

	c.mu.Lock()

	if c.deferJoinLocked(ieee, nwk, parent, false) {
		c.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	announce := true

	dev, err := c.registry.ByIEEE(ieee)
	switch {
	case err != nil:
		dev, _ = c.registry.insertAt(ieee, nwk, now) //nolint:errcheck // absent under c.mu
	case dev.nwk != nwk:
		c.logger.Debug("device changed short address",
			"ieee", ieee.String(), "from", dev.nwk.String(), "to", nwk.String())
		c.registry.update(dev, func(d *Device) {
			d.nwk = nwk
			d.status = StatusNew
			d.lastSeen = now
		})
		announce = false
	case dev.initializing || dev.status == StatusEndpointsInitialized:
		c.logger.Debug("skip initialization for existing device", "ieee", ieee.String())
		c.mu.Unlock()
		return
	}

	info := c.beginInitializeLocked(dev, now)
	if announce {
		c.events.Publish(Event{Kind: EventDeviceJoined, Device: info, Time: now})
	}
	init := c.initializer
	c.mu.Unlock()

	c.schedule(init, ieee)
}

// HandleLeave processes a leave notification. Known devices are announced
// with EventDeviceLeft but stay registered; only Remove deletes them.
func (c *Coordinator) HandleLeave(nwk NWK, ieee EUI64) {
	c.logger.Info("device left the network", "ieee", ieee.String(), "nwk", nwk.String())

	c.mu.Lock()
	defer c.mu.Unlock()

	dev, err := c.registry.ByIEEE(ieee)
	if err != nil {
		return
	}
	c.events.Publish(Event{Kind: EventDeviceLeft, Device: c.registry.info(dev)})
}

// AddUpdateDeviceFromNetwork reconciles a device reported present by the
// network (for example by a periodic scan).
//
// Unknown devices are registered as by HandleJoin, including the
// EventDeviceJoined announcement: listeners such as the persister only learn
// about new identities through that event. Known devices that are not
// initializing are reset to StatusNew and re-initialized, overriding the
// terminal StatusEndpointsInitialized. A device already initializing under an
// unchanged address is returned untouched. While the identity is being
// removed the update is deferred and a StatusNew snapshot is returned.
func (c *Coordinator) AddUpdateDeviceFromNetwork(nwk NWK, ieee EUI64) DeviceInfo {
	c.logger.Info("adding or updating device from the network",
		"ieee", ieee.String(), "nwk", nwk.String())

	c.mu.Lock()

	if c.deferJoinLocked(ieee, nwk, 0, true) {
		c.mu.Unlock()
		return DeviceInfo{IEEE: ieee, NWK: nwk, Status: StatusNew}
	}

	now := time.Now().UTC()
	inserted := false

	dev, err := c.registry.ByIEEE(ieee)
	switch {
	case err != nil:
		// Announced like a join so listeners learn the new identity.
		dev, _ = c.registry.insertAt(ieee, nwk, now) //nolint:errcheck // absent under c.mu
		inserted = true
	case dev.nwk != nwk:
		c.logger.Debug("device changed short address",
			"ieee", ieee.String(), "from", dev.nwk.String(), "to", nwk.String())
		c.registry.update(dev, func(d *Device) {
			d.nwk = nwk
			d.status = StatusNew
			d.lastSeen = now
		})
	case dev.initializing:
		c.logger.Warn("skipping initialization as device is already initializing", "ieee", ieee.String())
		info := c.registry.info(dev)
		c.mu.Unlock()
		return info
	default:
		c.registry.update(dev, func(d *Device) {
			d.status = StatusNew
			d.lastSeen = now
		})
	}

	info := c.beginInitializeLocked(dev, now)
	if inserted {
		c.events.Publish(Event{Kind: EventDeviceJoined, Device: info, Time: now})
	}
	init := c.initializer
	c.mu.Unlock()

	c.schedule(init, ieee)
	return info
}

// InitializationStarted is called by the initializer when the handshake for
// a device actually begins.
func (c *Coordinator) InitializationStarted(ieee EUI64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dev, err := c.registry.ByIEEE(ieee)
	if err != nil {
		return fmt.Errorf("initialization started for %s: %w", ieee, err)
	}
	c.registry.update(dev, func(d *Device) {
		d.status = StatusInitializing
		d.initializing = true
	})
	return nil
}

// DeviceInitialized is called by the initializer when a device finished its
// handshake. It emits EventRawDeviceInitialized and EventDeviceInitialized.
func (c *Coordinator) DeviceInitialized(ieee EUI64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dev, err := c.registry.ByIEEE(ieee)
	if err != nil {
		return fmt.Errorf("device initialized %s: %w", ieee, err)
	}

	now := time.Now().UTC()
	info := c.registry.update(dev, func(d *Device) {
		d.status = StatusEndpointsInitialized
		d.initializing = false
		d.lastSeen = now
	})

	c.logger.Info("device initialized", "ieee", ieee.String(), "nwk", info.NWK.String())
	c.events.Publish(Event{Kind: EventRawDeviceInitialized, Device: info, Time: now})
	c.events.Publish(Event{Kind: EventDeviceInitialized, Device: info, Time: now})
	return nil
}

// InitializationFailed is called by the initializer when a handshake gave up.
// The guard is cleared and the device returns to StatusNew so a later join or
// network scan can retry.
func (c *Coordinator) InitializationFailed(ieee EUI64, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dev, err := c.registry.ByIEEE(ieee)
	if err != nil {
		return fmt.Errorf("initialization failed for %s: %w", ieee, err)
	}
	c.registry.update(dev, func(d *Device) {
		d.status = StatusNew
		d.initializing = false
	})

	c.logger.Warn("device initialization failed", "ieee", ieee.String(), "error", cause)
	return nil
}

// Restore loads previously persisted devices without emitting events.
// Devices that were mid-initialization are restored as StatusNew. Identities
// already registered are skipped. It returns the number of devices added.
func (c *Coordinator) Restore(devices []DeviceInfo) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, info := range devices {
		joined := info.JoinedAt
		if joined.IsZero() {
			joined = time.Now().UTC()
		}
		dev, err := c.registry.insertAt(info.IEEE, info.NWK, joined)
		if err != nil {
			continue
		}
		c.registry.update(dev, func(d *Device) {
			d.status = info.Status
			if d.status == StatusInitializing {
				d.status = StatusNew
			}
			if !info.LastSeen.IsZero() {
				d.lastSeen = info.LastSeen
			}
		})
		added++
	}

	c.logger.Info("device registry restored", "count", added)
	return added
}

// DeviceSelector picks a device by identity or short address.
// Exactly one field must be set.
type DeviceSelector struct {
	IEEE *EUI64
	NWK  *NWK
}

// GetDevice looks up a device by exactly one selector.
func (c *Coordinator) GetDevice(sel DeviceSelector) (DeviceInfo, error) {
	switch {
	case sel.IEEE != nil && sel.NWK == nil:
		return c.Device(*sel.IEEE)
	case sel.NWK != nil && sel.IEEE == nil:
		return c.DeviceByNWK(*sel.NWK)
	default:
		return DeviceInfo{}, ErrInvalidSelector
	}
}

// Device returns a snapshot of the device with the given identity.
func (c *Coordinator) Device(ieee EUI64) (DeviceInfo, error) {
	dev, err := c.registry.ByIEEE(ieee)
	if err != nil {
		return DeviceInfo{}, err
	}
	return c.registry.info(dev), nil
}

// DeviceByNWK returns a snapshot of a device holding the given short address.
// See Registry.ByNWK for the duplicate-address caveat.
func (c *Coordinator) DeviceByNWK(nwk NWK) (DeviceInfo, error) {
	dev, err := c.registry.ByNWK(nwk)
	if err != nil {
		return DeviceInfo{}, err
	}
	return c.registry.info(dev), nil
}

// Devices returns snapshots of all registered devices.
func (c *Coordinator) Devices() []DeviceInfo {
	return c.registry.Snapshot()
}

// DeviceCount returns the number of registered devices.
func (c *Coordinator) DeviceCount() int {
	return c.registry.Len()
}

// Startup brings up the transport.
func (c *Coordinator) Startup(ctx context.Context, autoForm bool) error {
	t, err := c.requireTransport()
	if err != nil {
		return err
	}
	if err := t.Startup(ctx, autoForm); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	return nil
}

// FormNetwork forms a new network through the transport.
func (c *Coordinator) FormNetwork(ctx context.Context, params NetworkParams) error {
	t, err := c.requireTransport()
	if err != nil {
		return err
	}
	if err := t.FormNetwork(ctx, params); err != nil {
		return fmt.Errorf("forming network: %w", err)
	}
	return nil
}

// Permit opens the network for joining.
func (c *Coordinator) Permit(ctx context.Context, duration time.Duration) error {
	t, err := c.requireTransport()
	if err != nil {
		return err
	}
	c.logger.Info("permitting joins", "duration", duration)
	if err := t.Permit(ctx, duration); err != nil {
		return fmt.Errorf("permitting joins: %w", err)
	}
	return nil
}

// PermitWithKey permits a single node to join using an install code.
func (c *Coordinator) PermitWithKey(ctx context.Context, node EUI64, code []byte, duration time.Duration) error {
	t, err := c.requireTransport()
	if err != nil {
		return err
	}
	if err := t.PermitWithKey(ctx, node, code, duration); err != nil {
		return fmt.Errorf("permitting %s with key: %w", node, err)
	}
	return nil
}

func (c *Coordinator) requireTransport() (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil, ErrNoTransport
	}
	return c.transport, nil
}

// deferJoinLocked records a join for an identity that Remove is evicting and
// reports whether the caller must stop. Caller holds c.mu.
func (c *Coordinator) deferJoinLocked(ieee EUI64, nwk, parent NWK, fromNetwork bool) bool {
	pending, ok := c.removing[ieee]
	if !ok {
		return false
	}
	*pending = deferredJoin{seen: true, nwk: nwk, parent: parent, fromNetwork: fromNetwork}
	c.logger.Debug("join deferred until removal completes", "ieee", ieee.String(), "nwk", nwk.String())
	return true
}

// beginInitializeLocked sets the initializing guard. Caller holds c.mu.
func (c *Coordinator) beginInitializeLocked(dev *Device, now time.Time) DeviceInfo {
	return c.registry.update(dev, func(d *Device) {
		d.initializing = true
		d.lastSeen = now
	})
}

// schedule hands the device to the initializer. Called without c.mu held.
func (c *Coordinator) schedule(init Initializer, ieee EUI64) {
	if init == nil {
		c.logger.Debug("no initializer configured", "ieee", ieee.String())
		return
	}
	init.ScheduleInitialize(ieee)
}
