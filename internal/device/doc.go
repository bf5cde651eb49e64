// Package device provides the Device Registry for the Ascot gateway.
//
// The registry is the authoritative catalogue of smart devices sighted on
// the local network. Discovery feeds it sightings, capability resolution
// attaches manifests, and the dispatcher consults it before every command.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                         Device Registry                          │
//	│                                                                  │
//	│  ┌──────────────────┐    ┌──────────────────┐                    │
//	│  │     Registry     │    │      Store       │                    │
//	│  │   (registry.go)  │───▶│   (sqlite.go)    │                    │
//	│  │                  │    │                  │                    │
//	│  │ • Upsert/Remove  │    │ • known_devices  │                    │
//	│  │ • Manifests      │    │ • Narrow schema  │                    │
//	│  │ • Health states  │    │ • Best effort    │                    │
//	│  └──────────────────┘    └──────────────────┘                    │
//	│           │                       ▲                              │
//	│           │     bounded queue,    │                              │
//	│           └── background worker ──┘                              │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Device: one discovered device with endpoint, manifest and health
//   - Endpoint: where manifest fetches and commands go
//   - HealthState: fresh, stale or unreachable
//   - KnownDevice: the narrow slice persisted across restarts
//
// # Usage
//
//	store, err := device.NewSQLiteStore(ctx, db)
//	if err != nil {
//	    return err
//	}
//	registry := device.NewRegistry(device.Options{Store: store, MaxFailures: 3})
//	registry.SetLogger(log)
//	defer registry.Close()
//
//	// Seed from previous runs
//	if _, err := registry.LoadKnown(ctx); err != nil {
//	    return err
//	}
//
//	// Discovery path
//	registry.Upsert("lamp-01", device.Endpoint{Scheme: "http", Host: "10.0.0.9", Port: 8080},
//	    "/.well-known/ascot", nil)
//
//	// Resolution path
//	registry.AttachManifest("lamp-01", parsed)
//
//	// Read path
//	for _, dev := range registry.Snapshot() {
//	    fmt.Println(dev.ID, dev.Health)
//	}
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Mutations are serialised under
// a write lock and never perform I/O while holding it; persistence runs on
// a background worker behind a bounded queue. Readers get clones, so no
// caller can mutate registry state from the outside.
package device
