package mesh

import (
	"sync"
	"time"
)

// Registry owns the set of devices, keyed by identity.
//
// Lookups are safe for concurrent use. Mutating methods are only called by
// the Coordinator, which is the registry's sole owner.
type Registry struct {
	mu      sync.RWMutex
	devices map[EUI64]*Device
	order   []EUI64 // insertion order, used for short-address scans
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[EUI64]*Device),
	}
}

// Insert creates a new device in StatusNew.
// Returns ErrDeviceExists if the identity is already registered; this is an
// insert-only primitive, callers check first.
func (r *Registry) Insert(ieee EUI64, nwk NWK) (*Device, error) {
	return r.insertAt(ieee, nwk, time.Now().UTC())
}

func (r *Registry) insertAt(ieee EUI64, nwk NWK, now time.Time) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[ieee]; exists {
		return nil, ErrDeviceExists
	}

	dev := newDevice(ieee, nwk, now)
	r.devices[ieee] = dev
	r.order = append(r.order, ieee)
	return dev, nil
}

// ByIEEE returns the device with the given identity.
func (r *Registry) ByIEEE(ieee EUI64) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[ieee]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return dev, nil
}

// ByNWK scans for a device with the given short address.
//
// Short addresses are not unique: a stale entry may still hold an address
// that the network has since reassigned. When several devices match, the
// earliest inserted one is returned.
func (r *Registry) ByNWK(nwk NWK) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ieee := range r.order {
		if dev := r.devices[ieee]; dev.nwk == nwk {
			return dev, nil
		}
	}
	return nil, ErrDeviceNotFound
}

// Remove deletes the device and returns it.
// Returns ErrDeviceNotFound without side effects if the identity is unknown.
func (r *Registry) Remove(ieee EUI64) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[ieee]
	if !ok {
		return nil, ErrDeviceNotFound
	}

	delete(r.devices, ieee)
	for i, id := range r.order {
		if id == ieee {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return dev, nil
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Snapshot returns copies of all devices in insertion order.
func (r *Registry) Snapshot() []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(r.order))
	for _, ieee := range r.order {
		out = append(out, r.devices[ieee].Info())
	}
	return out
}

// info returns a snapshot of a single device under the read lock.
func (r *Registry) info(dev *Device) DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return dev.Info()
}

// update applies fn to a device under the write lock so concurrent
// readers never observe a half-applied change.
func (r *Registry) update(dev *Device, fn func(*Device)) DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(dev)
	return dev.Info()
}
