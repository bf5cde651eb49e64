package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ascotlab/ascot-gateway/internal/manifest"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// persistTimeout bounds each background store operation.
const persistTimeout = 5 * time.Second

// persistOp is one queued store write. Exactly one of save or remove is set.
type persistOp struct {
	save   *KnownDevice
	remove string
}

// Options configures a Registry.
type Options struct {
	// Store receives best-effort persistence writes. May be nil, in which
	// case the registry is purely in-memory.
	Store Store

	// MaxFailures is how many consecutive delivery failures flip a device
	// to unreachable. Defaults to 3 if not positive.
	MaxFailures int

	// QueueSize bounds the persistence queue. When the queue is full,
	// writes are dropped with a log line rather than blocking callers.
	// Defaults to 128 if not positive.
	QueueSize int
}

// Registry is the authoritative in-memory table of discovered devices.
//
// All mutating operations for one identity are serialised by the registry
// lock; no operation performs I/O while holding it. Persistence happens on
// a background worker fed through a bounded queue, so a slow or broken
// store can never stall discovery or dispatch.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	maxFailures int
	logger      Logger

	store    Store
	queue    chan persistOp
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRegistry creates a new device registry and, when a store is
// configured, starts its persistence worker.
func NewRegistry(opts Options) *Registry {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}

	r := &Registry{
		devices:     make(map[string]*Device),
		maxFailures: opts.MaxFailures,
		logger:      noopLogger{},
		store:       opts.Store,
		done:        make(chan struct{}),
	}

	if r.store != nil {
		r.queue = make(chan persistOp, opts.QueueSize)
		r.wg.Add(1)
		go r.persistWorker()
	}

	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Close stops the persistence worker after draining queued writes.
// The registry remains readable afterwards; further writes are no longer
// persisted.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// LoadKnown seeds the registry from the store. Seeded devices start
// unreachable with no manifest; they become useful again once resolution
// or a fresh announcement catches up with them.
//
// Should be called once on startup, before discovery starts.
func (r *Registry) LoadKnown(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	known, err := r.store.LoadKnownDevices(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	seeded := 0
	for _, k := range known {
		if _, exists := r.devices[k.ID]; exists {
			continue
		}
		r.devices[k.ID] = &Device{
			ID:           k.ID,
			Endpoint:     k.Endpoint,
			ManifestPath: k.ManifestPath,
			Health:       HealthUnreachable,
			FirstSeen:    now,
			LastSeen:     now,
		}
		seeded++
	}

	r.logger.Info("registry seeded from store", "count", seeded)
	return seeded, nil
}

// Upsert registers a sighting of a device. A new identity inserts a record
// that starts unreachable with no manifest; a known identity has its
// endpoint, manifest path and metadata updated in place. An endpoint change
// keeps the existing manifest until a newer one replaces it.
//
// Returns true when the identity was new.
func (r *Registry) Upsert(id string, endpoint Endpoint, manifestPath string, metadata map[string]string) bool {
	now := time.Now().UTC()

	r.mu.Lock()
	dev, exists := r.devices[id]
	if !exists {
		dev = &Device{
			ID:           id,
			Endpoint:     endpoint,
			ManifestPath: manifestPath,
			Metadata:     metadata,
			Health:       HealthUnreachable,
			FirstSeen:    now,
			LastSeen:     now,
		}
		r.devices[id] = dev
	} else {
		dev.Endpoint = endpoint
		dev.ManifestPath = manifestPath
		dev.Metadata = metadata
		dev.LastSeen = now
	}
	known := KnownDevice{ID: id, Endpoint: endpoint, ManifestPath: manifestPath}
	r.mu.Unlock()

	if exists {
		r.logger.Debug("device updated", "id", id, "endpoint", endpoint.BaseURL())
	} else {
		r.logger.Info("device registered", "id", id, "endpoint", endpoint.BaseURL())
	}

	r.enqueue(persistOp{save: &known})
	return !exists
}

// Remove forgets a device. Idempotent: removing an unknown identity
// returns false and changes nothing.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, exists := r.devices[id]
	if exists {
		delete(r.devices, id)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}

	r.logger.Info("device removed", "id", id)
	r.enqueue(persistOp{remove: id})
	return true
}

// AttachManifest installs a freshly resolved manifest. The swap is atomic:
// readers see either the old manifest or the new one, never a mix.
// Attaching marks the device fresh and clears its failure count.
//
// If the device vanished while resolution was in flight, the manifest is
// discarded and false is returned; a removal is never undone by a late
// resolve result.
func (r *Registry) AttachManifest(id string, m *manifest.Manifest) bool {
	now := time.Now().UTC()

	r.mu.Lock()
	dev, exists := r.devices[id]
	if exists {
		dev.Manifest = m
		dev.Health = HealthFresh
		dev.Failures = 0
		dev.LastSeen = now
	}
	r.mu.Unlock()

	if !exists {
		r.logger.Info("manifest discarded for vanished device", "id", id)
		return false
	}

	r.logger.Info("manifest attached", "id", id, "actions", len(m.Actions))
	return true
}

// MarkHealth records the outcome of talking to a device. Success makes it
// fresh and resets the failure count; failure increments the count and
// flips the device to unreachable once the configured threshold is hit.
//
// Returns the resulting health state, and false if the identity is unknown.
func (r *Registry) MarkHealth(id string, ok bool) (HealthState, bool) {
	now := time.Now().UTC()

	r.mu.Lock()
	dev, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return "", false
	}

	if ok {
		dev.Health = HealthFresh
		dev.Failures = 0
		dev.LastSeen = now
	} else {
		dev.Failures++
		if dev.Failures >= r.maxFailures {
			dev.Health = HealthUnreachable
		}
	}
	state := dev.Health
	r.mu.Unlock()

	r.logger.Debug("device health updated", "id", id, "ok", ok, "state", state)
	return state, true
}

// MarkStale downgrades fresh devices that have been silent for longer
// than the given interval. Returns the IDs that changed state.
func (r *Registry) MarkStale(olderThan time.Duration) []string {
	cutoff := time.Now().UTC().Add(-olderThan)

	r.mu.Lock()
	var changed []string
	for id, dev := range r.devices {
		if dev.Health == HealthFresh && dev.LastSeen.Before(cutoff) {
			dev.Health = HealthStale
			changed = append(changed, id)
		}
	}
	r.mu.Unlock()

	if len(changed) > 0 {
		sort.Strings(changed)
		r.logger.Info("devices marked stale", "count", len(changed))
	}
	return changed
}

// Get retrieves a copy of one device record.
func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.RLock()
	dev, ok := r.devices[id]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return dev.Clone(), true
}

// Snapshot returns copies of all records, sorted by ID. The slice and the
// records in it are the caller's to keep; later registry changes are not
// reflected in them.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	devices := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, *dev.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats summarises registry contents for monitoring.
type Stats struct {
	Total    int                 `json:"total"`
	ByHealth map[HealthState]int `json:"by_health"`
	Resolved int                 `json:"resolved"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:    len(r.devices),
		ByHealth: make(map[HealthState]int),
	}
	for _, dev := range r.devices {
		stats.ByHealth[dev.Health]++
		if dev.Manifest != nil {
			stats.Resolved++
		}
	}
	return stats
}

// enqueue hands a write to the persistence worker without ever blocking
// the caller. Drops are logged; losing a best-effort write is preferable
// to stalling discovery or dispatch.
func (r *Registry) enqueue(op persistOp) {
	if r.store == nil {
		return
	}

	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.queue <- op:
	default:
		r.logger.Warn("persistence queue full, dropping write",
			"save", op.save != nil, "remove", op.remove)
	}
}

// persistWorker applies queued writes one at a time. On shutdown it
// drains whatever is still queued before exiting.
func (r *Registry) persistWorker() {
	defer r.wg.Done()

	for {
		select {
		case op := <-r.queue:
			r.apply(op)
		case <-r.done:
			for {
				select {
				case op := <-r.queue:
					r.apply(op)
				default:
					return
				}
			}
		}
	}
}

// apply performs one store operation with a bounded timeout. Failures are
// logged and swallowed: persistence is advisory, the in-memory registry
// is the source of truth.
func (r *Registry) apply(op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	switch {
	case op.save != nil:
		if err := r.store.SaveDevice(ctx, *op.save); err != nil {
			r.logger.Warn("persisting device failed", "id", op.save.ID, "error", err)
		}
	case op.remove != "":
		if err := r.store.DeleteDevice(ctx, op.remove); err != nil {
			r.logger.Warn("deleting persisted device failed", "id", op.remove, "error", err)
		}
	}
}
