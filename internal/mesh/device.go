package mesh

import "time"

// Device is the registry entry for one network member.
//
// Fields are only mutated by the Coordinator while it holds its lock.
// Everything outside the package sees devices through DeviceInfo snapshots.
type Device struct {
	ieee         EUI64
	nwk          NWK
	status       Status
	initializing bool

	joinedAt time.Time
	lastSeen time.Time
}

func newDevice(ieee EUI64, nwk NWK, now time.Time) *Device {
	return &Device{
		ieee:     ieee,
		nwk:      nwk,
		status:   StatusNew,
		joinedAt: now,
		lastSeen: now,
	}
}

// IEEE returns the device identity.
func (d *Device) IEEE() EUI64 { return d.ieee }

// Info returns a value snapshot of the device.
func (d *Device) Info() DeviceInfo {
	return DeviceInfo{
		IEEE:         d.ieee,
		NWK:          d.nwk,
		Status:       d.status,
		Initializing: d.initializing,
		JoinedAt:     d.joinedAt,
		LastSeen:     d.lastSeen,
	}
}

// DeviceInfo is an immutable copy of a device's state at a point in time.
type DeviceInfo struct {
	IEEE         EUI64     `json:"ieee"`
	NWK          NWK       `json:"nwk"`
	Status       Status    `json:"status"`
	Initializing bool      `json:"initializing"`
	JoinedAt     time.Time `json:"joined_at"`
	LastSeen     time.Time `json:"last_seen"`
}
