package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ascotlab/ascot-gateway/internal/device"
	"github.com/ascotlab/ascot-gateway/internal/discovery"
	"github.com/ascotlab/ascot-gateway/internal/dispatch"
	"github.com/ascotlab/ascot-gateway/internal/manifest"
	"github.com/ascotlab/ascot-gateway/internal/resolve"
)

// Logger abstracts logging so the package stays decoupled from the
// logging implementation.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

type noopLogger struct{}

func (n *noopLogger) Debug(msg string, fields ...any) {}
func (n *noopLogger) Info(msg string, fields ...any)  {}
func (n *noopLogger) Warn(msg string, fields ...any)  {}
func (n *noopLogger) Error(msg string, fields ...any) {}

// Resolver fetches a device's capability manifest.
type Resolver interface {
	Resolve(ctx context.Context, deviceID string, endpoint device.Endpoint, path string) (*manifest.Manifest, error)
}

// Dispatcher validates and executes commands against devices.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Outcome, error)
}

// Options holds the collaborators and tuning for a Gateway.
type Options struct {
	// Registry tracks known devices. Required.
	Registry *device.Registry

	// Resolver fetches capability manifests. Required.
	Resolver Resolver

	// Dispatcher executes commands. Required.
	Dispatcher Dispatcher

	// Events is the discovery event stream, normally a Listener's
	// Events() channel. May be nil when discovery is disabled.
	Events <-chan discovery.Event

	// StaleAfter is how long a device may go unseen before the sweeper
	// marks it stale. Defaults to 90s.
	StaleAfter time.Duration

	// SweepInterval is how often the staleness sweep runs. Defaults to 15s.
	SweepInterval time.Duration

	// MaxConcurrentResolves bounds parallel manifest fetches. Defaults to 4.
	MaxConcurrentResolves int
}

// Gateway is the orchestrator: it feeds discovery events into the
// registry, schedules manifest resolution, sweeps for stale devices,
// executes commands and fans every state change out to the attached
// sinks.
//
// Thread safety: all methods are safe for concurrent use once Start
// has returned. AddSink must be called before Start.
type Gateway struct {
	registry   *device.Registry
	resolver   Resolver
	dispatcher Dispatcher
	events     <-chan discovery.Event
	sinks      []Sink
	logger     Logger

	staleAfter    time.Duration
	sweepInterval time.Duration
	resolveSem    *semaphore.Weighted

	ctx       context.Context
	ctxCancel context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewGateway creates a gateway. Call Start to begin operation.
func NewGateway(opts Options) (*Gateway, error) {
	if opts.Registry == nil {
		return nil, errors.New("gateway: registry is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("gateway: resolver is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("gateway: dispatcher is required")
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 90 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 15 * time.Second
	}
	if opts.MaxConcurrentResolves <= 0 {
		opts.MaxConcurrentResolves = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		registry:      opts.Registry,
		resolver:      opts.Resolver,
		dispatcher:    opts.Dispatcher,
		events:        opts.Events,
		logger:        &noopLogger{},
		staleAfter:    opts.StaleAfter,
		sweepInterval: opts.SweepInterval,
		resolveSem:    semaphore.NewWeighted(int64(opts.MaxConcurrentResolves)),
		ctx:           ctx,
		ctxCancel:     cancel,
		done:          make(chan struct{}),
	}, nil
}

// SetLogger sets the logger for gateway operations.
func (g *Gateway) SetLogger(logger Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// AddSink attaches an event sink. Must be called before Start.
func (g *Gateway) AddSink(sink Sink) {
	if sink != nil {
		g.sinks = append(g.sinks, sink)
	}
}

// Start seeds the registry from the store, schedules resolution for the
// seeded devices and starts the event pump and staleness sweeper.
func (g *Gateway) Start(ctx context.Context) error {
	seeded, err := g.registry.LoadKnown(ctx)
	if err != nil {
		return fmt.Errorf("gateway: loading known devices: %w", err)
	}
	if seeded > 0 {
		g.logger.Info("seeded devices from store", "count", seeded)
	}

	// Schedule resolution for every record still missing a manifest,
	// whether it was just seeded or loaded before Start was called.
	for _, dev := range g.registry.Snapshot() {
		if dev.Manifest == nil {
			g.scheduleResolve(dev.ID, dev.Endpoint, dev.ManifestPath)
		}
	}

	g.wg.Add(2)
	go g.pump()
	go g.sweeper()

	g.logger.Info("gateway started",
		"devices", g.registry.Len(),
		"stale_after", g.staleAfter.String(),
		"sweep_interval", g.sweepInterval.String())
	return nil
}

// Stop shuts the gateway down, cancelling in-flight resolves and
// waiting for all workers to finish. Safe to call more than once.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
		g.ctxCancel()
		g.wg.Wait()
		g.logger.Info("gateway stopped")
	})
}

// Dispatch validates and executes one command, fanning the outcome out
// as a command.result event.
func (g *Gateway) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Outcome, error) {
	out, err := g.dispatcher.Dispatch(ctx, req)
	if out != nil {
		g.emit(Event{Type: EventCommandResult, DeviceID: req.DeviceID, Outcome: out})
	}
	return out, err
}

// Devices returns a snapshot of all known devices.
func (g *Gateway) Devices() []device.Device {
	return g.registry.Snapshot()
}

// Device returns a snapshot of one device.
func (g *Gateway) Device(id string) (*device.Device, bool) {
	return g.registry.Get(id)
}

// Remove forgets a device on operator request. The removal is announced
// like a network departure.
func (g *Gateway) Remove(id string) bool {
	if !g.registry.Remove(id) {
		return false
	}
	g.emit(Event{Type: EventDeviceVanished, DeviceID: id})
	return true
}

// Stats returns registry statistics for the health surface.
func (g *Gateway) Stats() device.Stats {
	return g.registry.GetStats()
}

// pump consumes discovery events until shutdown.
func (g *Gateway) pump() {
	defer g.wg.Done()
	for {
		select {
		case <-g.done:
			return
		case event, ok := <-g.events:
			if !ok {
				g.logger.Warn("discovery event stream closed")
				return
			}
			g.handleDiscovery(event)
		}
	}
}

// handleDiscovery applies one discovery event to the registry and fans
// out the corresponding gateway event.
func (g *Gateway) handleDiscovery(event discovery.Event) {
	s := event.Sighting

	switch event.Type {
	case discovery.EventAppeared, discovery.EventUpdated:
		inserted := g.registry.Upsert(s.ID, s.Endpoint, s.ManifestPath, s.Metadata)

		typ := EventDeviceUpdated
		if inserted {
			typ = EventDeviceAppeared
		}
		if dev, ok := g.registry.Get(s.ID); ok {
			g.emit(Event{Type: typ, DeviceID: s.ID, Device: dev})
		}

		// Every announcement can mean new capabilities; refresh them.
		g.scheduleResolve(s.ID, s.Endpoint, s.ManifestPath)

	case discovery.EventVanished:
		if g.registry.Remove(s.ID) {
			g.emit(Event{Type: EventDeviceVanished, DeviceID: s.ID})
		}

	default:
		g.logger.Warn("unrecognised discovery event", "type", string(event.Type))
	}
}

// scheduleResolve fetches a device's manifest in the background. The
// semaphore bounds parallelism so a flood of announcements cannot spawn
// unbounded fetches.
func (g *Gateway) scheduleResolve(id string, endpoint device.Endpoint, path string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("panic during manifest resolution", "device_id", id, "panic", r)
			}
		}()

		if err := g.resolveSem.Acquire(g.ctx, 1); err != nil {
			return // shutting down
		}
		defer g.resolveSem.Release(1)

		started := time.Now()
		m, err := g.resolver.Resolve(g.ctx, id, endpoint, path)
		elapsed := time.Since(started).Milliseconds()
		if err != nil {
			g.handleResolveFailure(id, err)
			return
		}

		if !g.registry.AttachManifest(id, m) {
			return // vanished while we were fetching
		}
		if dev, ok := g.registry.Get(id); ok {
			g.emit(Event{Type: EventDeviceResolved, DeviceID: id, Device: dev, DurationMS: elapsed})
		}
	}()
}

// handleResolveFailure records the failure and reports it at a level
// matching its class.
func (g *Gateway) handleResolveFailure(id string, err error) {
	if g.ctx.Err() != nil {
		return // shutdown, not a device problem
	}

	health, known := g.registry.MarkHealth(id, false)
	if !known {
		g.logger.Debug("resolve failed for vanished device", "device_id", id, "error", err)
		return
	}

	switch {
	case errors.Is(err, manifest.ErrMalformed):
		g.logger.Warn("device serves a malformed manifest", "device_id", id, "error", err)
	case errors.Is(err, resolve.ErrUnreachable):
		g.logger.Warn("device unreachable during resolution", "device_id", id, "error", err)
	default:
		g.logger.Error("manifest resolution failed", "device_id", id, "error", err)
	}

	g.emit(Event{Type: EventDeviceHealth, DeviceID: id, Health: health, Error: err.Error()})
}

// sweeper periodically marks devices stale when they have not been
// seen for the configured window.
func (g *Gateway) sweeper() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			for _, id := range g.registry.MarkStale(g.staleAfter) {
				g.logger.Info("device went stale", "device_id", id)
				g.emit(Event{Type: EventDeviceHealth, DeviceID: id, Health: device.HealthStale})
			}
		}
	}
}

// emit fans an event out to every sink. A panicking sink is isolated so
// it cannot take down the pump.
func (g *Gateway) emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	for _, sink := range g.sinks {
		g.deliver(sink, event)
	}
}

func (g *Gateway) deliver(sink Sink, event Event) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("event sink panicked", "type", string(event.Type), "panic", r)
		}
	}()
	sink.HandleEvent(event)
}
