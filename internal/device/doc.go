// Package device persists the mesh device registry so it survives restarts.
//
// The in-memory registry owned by mesh.Coordinator is authoritative. This
// package mirrors it into SQLite by listening to lifecycle events, and loads
// the stored rows back at startup.
//
// # Architecture
//
//	┌──────────────────┐  events   ┌──────────────────┐        ┌──────────────┐
//	│ mesh.Coordinator │──────────▶│    Persister     │───────▶│  Repository  │
//	│                  │           │  (persister.go)  │        │ (SQLite)     │
//	└──────────────────┘           └──────────────────┘        └──────────────┘
//	         ▲                                                        │
//	         └──────────────────── Restore(List()) ◀──────────────────┘
//
// # Event mapping
//
//   - device_joined:      upsert the row
//   - device_initialized: upsert with the terminal status
//   - device_left:        refresh last_seen
//   - device_removed:     delete the row
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	stored, err := repo.List(ctx)
//	coord.Restore(stored)
//
//	persister := device.NewPersister(repo)
//	persister.SetLogger(logger)
//	persister.Attach(coord.Events())
package device
