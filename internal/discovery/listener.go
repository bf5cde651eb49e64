package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
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

// ErrRetriesExhausted is returned by Run when consecutive browse
// sessions keep failing and the attempt limit is reached.
var ErrRetriesExhausted = errors.New("discovery: retries exhausted")

// A browse session that survives this long is considered healthy and
// resets the restart backoff.
const stableRunThreshold = 30 * time.Second

// Options configures a Listener.
type Options struct {
	// Browser runs the actual network browse sessions. Required.
	Browser Browser

	// Buffer is the event channel capacity. Defaults to 64.
	Buffer int

	// InitialDelay is the wait before the first restart of a failed
	// browse session. Doubles per consecutive failure. Defaults to 1s.
	InitialDelay time.Duration

	// MaxDelay caps the restart backoff. Defaults to 30s.
	MaxDelay time.Duration

	// MaxAttempts is the number of consecutive failed sessions before
	// Run gives up. 0 means retry forever.
	MaxAttempts int
}

// Listener supervises browse sessions and turns raw announcements into
// deduplicated appeared/updated/vanished events. A failed session is
// restarted with exponential backoff; duplicate announcements of an
// unchanged device are suppressed, so consumers only hear about real
// changes.
type Listener struct {
	browser Browser
	events  chan Event
	logger  Logger

	initialDelay time.Duration
	maxDelay     time.Duration
	maxAttempts  int

	mu       sync.RWMutex
	lastSeen map[string]Sighting
	running  bool
	restarts int
	dropped  int
	lastErr  error
}

// Stats is a point-in-time snapshot of listener state.
type Stats struct {
	Running       bool   `json:"running"`
	Tracked       int    `json:"tracked"`
	Restarts      int    `json:"restarts"`
	DroppedEvents int    `json:"dropped_events"`
	LastError     string `json:"last_error,omitempty"`
}

// NewListener creates a listener around the given browser.
func NewListener(opts Options) *Listener {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Listener{
		browser:      opts.Browser,
		events:       make(chan Event, opts.Buffer),
		logger:       &noopLogger{},
		initialDelay: opts.InitialDelay,
		maxDelay:     opts.MaxDelay,
		maxAttempts:  opts.MaxAttempts,
		lastSeen:     make(map[string]Sighting),
	}
}

// SetLogger sets the logger for listener operations.
func (l *Listener) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Events returns the channel where discovery events are delivered. The
// channel is never closed; consumers should select against their own
// shutdown signal.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Run browses until ctx is cancelled. Failed sessions are restarted
// with exponential backoff; when MaxAttempts consecutive sessions fail
// the listener gives up and returns ErrRetriesExhausted. Cancellation
// is a clean shutdown and returns nil.
//
// The dedup state survives restarts, so a new session re-announcing
// unchanged devices emits nothing.
func (l *Listener) Run(ctx context.Context) error {
	if l.browser == nil {
		return errors.New("discovery: no browser configured")
	}

	delay := l.initialDelay
	attempts := 0

	for {
		start := time.Now()
		l.setRunning(true)
		err := l.browser.Browse(ctx, l.handleFound, l.handleLost)
		l.setRunning(false)

		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("discovery: browse session ended unexpectedly")
		}

		if time.Since(start) >= stableRunThreshold {
			attempts = 0
			delay = l.initialDelay
		}
		attempts++
		l.recordFailure(err)

		if l.maxAttempts > 0 && attempts >= l.maxAttempts {
			l.logger.Error("giving up on discovery after repeated browse failures",
				"attempts", attempts,
				"error", err)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
		}

		l.logger.Warn("browse session failed, restarting",
			"attempt", attempts,
			"retry_in", delay.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > l.maxDelay {
			delay = l.maxDelay
		}
	}
}

// Stats returns a snapshot of listener state.
func (l *Listener) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{
		Running:       l.running,
		Tracked:       len(l.lastSeen),
		Restarts:      l.restarts,
		DroppedEvents: l.dropped,
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	return s
}

func (l *Listener) handleFound(s Sighting) {
	if s.ID == "" {
		return
	}

	l.mu.Lock()
	prev, seen := l.lastSeen[s.ID]
	if seen && prev.Same(s) {
		l.mu.Unlock()
		return
	}
	l.lastSeen[s.ID] = s
	l.mu.Unlock()

	typ := EventAppeared
	if seen {
		typ = EventUpdated
	}
	l.emit(Event{Type: typ, Sighting: s})
}

func (l *Listener) handleLost(s Sighting) {
	if s.ID == "" {
		return
	}

	l.mu.Lock()
	_, seen := l.lastSeen[s.ID]
	delete(l.lastSeen, s.ID)
	l.mu.Unlock()

	if !seen {
		return
	}
	l.emit(Event{Type: EventVanished, Sighting: s})
}

// emit delivers an event without ever blocking the browse callback. A
// full buffer drops the event; the stale sweeper catches anything a
// dropped vanish would otherwise leave behind.
func (l *Listener) emit(event Event) {
	select {
	case l.events <- event:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.logger.Warn("event buffer full, dropping discovery event",
			"type", string(event.Type),
			"device_id", event.Sighting.ID)
	}
}

func (l *Listener) setRunning(running bool) {
	l.mu.Lock()
	l.running = running
	l.mu.Unlock()
}

func (l *Listener) recordFailure(err error) {
	l.mu.Lock()
	l.restarts++
	l.lastErr = err
	l.mu.Unlock()
}
