// Package mesh provides the coordinator core for the Gray Logic mesh network
// controller.
//
// The coordinator tracks which end-devices are members of the network, drives
// their join/leave lifecycle, assigns transaction sequence numbers for outgoing
// requests and implements the removal protocol (graceful leave request with a
// forced-removal fallback).
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                            Coordinator                               │
//	│                                                                      │
//	│  ┌──────────────┐   ┌──────────────┐   ┌──────────────────────────┐  │
//	│  │   Registry   │   │  Sequencer   │   │       Broadcaster        │  │
//	│  │ (registry.go)│   │(sequence.go) │   │       (events.go)        │  │
//	│  │ • by EUI64   │   │ • atomic u8  │   │ • typed event kinds      │  │
//	│  │ • by NWK     │   │ • wraps 256  │   │ • sync, in order         │  │
//	│  └──────────────┘   └──────────────┘   └──────────────────────────┘  │
//	│          ▲                                          │                │
//	│   HandleJoin / HandleLeave / AddUpdate / Remove     ▼                │
//	└──────────│─────────────────────────────────── listeners ────────────┘
//	           │                                   (persistence, telemetry,
//	┌──────────┴───────────┐                        websocket)
//	│  Transport driver    │  Request (retried) / ForceRemove / Permit
//	│  Initializer         │  ScheduleInitialize → DeviceInitialized
//	└──────────────────────┘
//
// # Thread Safety
//
// All Coordinator methods are safe for concurrent use. Registry mutations are
// serialised by the Coordinator; listeners receive value snapshots and cannot
// mutate registry state.
//
// # Usage
//
//	coord := mesh.NewCoordinator(mesh.Options{
//	    Transport:   bridge,
//	    Initializer: bridge,
//	    Retry:       mesh.DefaultRetryPolicy(),
//	})
//	coord.SetLogger(log)
//	coord.Events().Subscribe(persister.HandleEvent)
//
//	coord.HandleJoin(0x1234, ieee, mesh.CoordinatorNWK)
//	if err := coord.Remove(ctx, ieee); err != nil {
//	    log.Warn("forced removal failed", "error", err)
//	}
package mesh
