package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ascotlab/ascot-gateway/internal/device"
	"github.com/ascotlab/ascot-gateway/internal/manifest"
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

// Options configures a Resolver.
type Options struct {
	// Timeout bounds each fetch attempt. Defaults to 5s.
	Timeout time.Duration

	// Retries is the number of additional attempts after the first
	// fails with a transient error. Zero disables retrying.
	Retries int

	// InitialDelay is the backoff before the first retry, doubling per
	// attempt. Defaults to 250ms.
	InitialDelay time.Duration

	// MaxBodyBytes caps the manifest response size. Defaults to 1 MiB.
	MaxBodyBytes int64

	// Client is the HTTP client used for fetches. Defaults to a plain
	// client; attempts are bounded by Timeout via request contexts.
	Client *http.Client

	// UserAgent is sent with every request. Defaults to "ascot-gateway".
	UserAgent string
}

// Resolver fetches capability manifests from device endpoints.
//
// Transient failures (dial errors, timeouts, 5xx responses) are retried
// with exponential backoff. Malformed payloads and 4xx responses mean
// the device itself is misbehaving; those are terminal and returned on
// the first attempt.
//
// Thread safety: Resolve is safe for concurrent use.
type Resolver struct {
	client       *http.Client
	timeout      time.Duration
	retries      int
	initialDelay time.Duration
	maxBodyBytes int64
	userAgent    string
	logger       Logger
}

// NewResolver creates a resolver with the given options.
func NewResolver(opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 250 * time.Millisecond
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ascot-gateway"
	}
	return &Resolver{
		client:       opts.Client,
		timeout:      opts.Timeout,
		retries:      opts.Retries,
		initialDelay: opts.InitialDelay,
		maxBodyBytes: opts.MaxBodyBytes,
		userAgent:    opts.UserAgent,
		logger:       &noopLogger{},
	}
}

// SetLogger sets the logger for resolver operations.
func (r *Resolver) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Resolve fetches and parses the manifest announced at
// endpoint.BaseURL()+path. The returned manifest carries deviceID.
//
// Errors: manifest.MalformedError for device faults (bad payload, 4xx),
// ErrUnreachable wrapping ErrTimeout or ErrConnectionFailed once
// retries are exhausted, or ctx.Err() when the caller gives up first.
func (r *Resolver) Resolve(ctx context.Context, deviceID string, endpoint device.Endpoint, path string) (*manifest.Manifest, error) {
	url := endpoint.BaseURL() + path

	var lastErr error
	delay := r.initialDelay

	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			r.logger.Debug("retrying manifest fetch",
				"device_id", deviceID,
				"attempt", attempt,
				"retry_in", delay.String())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		m, err := r.fetch(ctx, deviceID, url)
		if err == nil {
			return m, nil
		}
		if errors.Is(err, manifest.ErrMalformed) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %w", ErrUnreachable, lastErr)
}

// fetch performs one GET attempt with its own deadline.
func (r *Resolver) fetch(ctx context.Context, deviceID, url string) (*manifest.Manifest, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &manifest.MalformedError{Reason: fmt.Sprintf("invalid manifest URL %q: %v", url, err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(attemptCtx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to the body
	case resp.StatusCode >= 500:
		drain(resp.Body)
		return nil, fmt.Errorf("device returned status %d", resp.StatusCode)
	default:
		drain(resp.Body)
		return nil, &manifest.MalformedError{Reason: fmt.Sprintf("manifest request returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBodyBytes+1))
	if err != nil {
		if isTimeout(attemptCtx, err) {
			return nil, fmt.Errorf("%w: reading manifest: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: reading manifest: %v", ErrConnectionFailed, err)
	}
	if int64(len(body)) > r.maxBodyBytes {
		return nil, &manifest.MalformedError{Reason: fmt.Sprintf("manifest larger than %d bytes", r.maxBodyBytes)}
	}

	return manifest.Parse(deviceID, body)
}

// isTimeout reports whether err is a deadline problem rather than a
// plain connection failure.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// drain empties a response body so the connection can be reused.
func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
}
