package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
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

// Registry is the slice of registry behaviour the dispatcher needs.
type Registry interface {
	Get(id string) (*device.Device, bool)
	MarkHealth(id string, ok bool) (device.HealthState, bool)
}

// Options configures a Dispatcher.
type Options struct {
	// Registry resolves device identities to endpoints and manifests.
	// Required.
	Registry Registry

	// Timeout bounds one dispatch end to end, including the single
	// connection retry. Defaults to 10s.
	Timeout time.Duration

	// MaxBodyBytes caps the device response size. Defaults to 1 MiB.
	MaxBodyBytes int64

	// Client is the HTTP client used to reach devices. Injectable for
	// tests.
	Client *http.Client

	// UserAgent is sent with every command. Defaults to "ascot-gateway".
	UserAgent string
}

// Dispatcher validates commands against device manifests and executes
// them over HTTP.
//
// Validation happens entirely against registry state: an unknown
// device, an unresolved manifest, a bad argument or an unacknowledged
// hazard is rejected without any network traffic and without touching
// device health. Only a command that passes every gate reaches the
// device, and only its transport result feeds the health tracker.
//
// Thread safety: Dispatch is safe for concurrent use.
type Dispatcher struct {
	registry     Registry
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	userAgent    string
	logger       Logger
}

// NewDispatcher creates a dispatcher with the given options.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
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
	return &Dispatcher{
		registry:     opts.Registry,
		client:       opts.Client,
		timeout:      opts.Timeout,
		maxBodyBytes: opts.MaxBodyBytes,
		userAgent:    opts.UserAgent,
		logger:       &noopLogger{},
	}
}

// SetLogger sets the logger for dispatch operations.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Dispatch validates and executes one command. The returned Outcome is
// always populated; when the command fails the error carries the
// machine-checkable class (ErrUnknownDevice, ErrInvalidArgument, ...)
// and Outcome.Error its rendering.
//
// The gates run in a fixed order so callers see deterministic errors:
// device lookup, manifest presence, action lookup, declared arguments
// in declaration order, unexpected arguments in name order, hazard
// acknowledgement, and only then the network.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()

	if d.registry == nil {
		return d.fail(req, nil, start, errors.New("dispatch: no registry configured"))
	}

	dev, ok := d.registry.Get(req.DeviceID)
	if !ok {
		return d.fail(req, nil, start, fmt.Errorf("%w: %s", ErrUnknownDevice, req.DeviceID))
	}
	if dev.Manifest == nil {
		return d.fail(req, nil, start, fmt.Errorf("%w: %s", ErrCapabilitiesUnknown, req.DeviceID))
	}

	action := dev.Manifest.Action(req.Action)
	if action == nil {
		return d.fail(req, nil, start, fmt.Errorf("%w: %s does not expose %q", ErrUnknownAction, req.DeviceID, req.Action))
	}

	payload, err := buildArgs(action, req.Args)
	if err != nil {
		return d.fail(req, action.Hazards, start, err)
	}

	if action.Hazardous() && !req.AcknowledgeHazards {
		return d.fail(req, action.Hazards, start,
			fmt.Errorf("%w: %s declares %v", ErrHazardNotAcknowledged, req.Action, action.Hazards))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return d.fail(req, action.Hazards, start, fmt.Errorf("%w: encoding arguments: %v", ErrInvalidArgument, err))
	}

	raw, err := d.execute(ctx, dev, action.Route, body)
	if err != nil {
		// A caller hanging up is not the device's fault.
		if ctx.Err() == nil {
			d.registry.MarkHealth(req.DeviceID, false)
		}
		d.logger.Warn("command failed",
			"device_id", req.DeviceID,
			"action", req.Action,
			"error", err)
		return d.fail(req, action.Hazards, start, fmt.Errorf("%w: %w", ErrDeviceFailure, err))
	}

	d.registry.MarkHealth(req.DeviceID, true)

	out := &Outcome{
		Status:       StatusOK,
		DeviceID:     req.DeviceID,
		Action:       req.Action,
		Hazards:      action.Hazards,
		Acknowledged: req.AcknowledgeHazards,
		Response:     raw,
		DurationMS:   time.Since(start).Milliseconds(),
	}
	d.logger.Info("command dispatched",
		"device_id", req.DeviceID,
		"action", req.Action,
		"duration_ms", out.DurationMS)
	return out, nil
}

// fail builds the failed outcome and returns it alongside the error.
func (d *Dispatcher) fail(req Request, hazards []manifest.Hazard, start time.Time, err error) (*Outcome, error) {
	d.logger.Debug("dispatch rejected",
		"device_id", req.DeviceID,
		"action", req.Action,
		"error", err)
	return &Outcome{
		Status:       StatusFailed,
		DeviceID:     req.DeviceID,
		Action:       req.Action,
		Hazards:      hazards,
		Acknowledged: req.AcknowledgeHazards,
		Error:        err.Error(),
		DurationMS:   time.Since(start).Milliseconds(),
	}, err
}

// execute POSTs the command, retrying exactly once when the connection
// itself failed (the command never reached the device, so a repeat is
// safe). Status errors and timeouts are never retried.
func (d *Dispatcher) execute(ctx context.Context, dev *device.Device, route string, body []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	target := dev.Endpoint.BaseURL() + route

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := d.post(ctx, target, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if attempt == 0 && isConnectionFailure(ctx, err) {
			d.logger.Debug("retrying command after connection failure",
				"url", target,
				"error", err)
			continue
		}
		break
	}
	return nil, lastErr
}

// post performs one HTTP attempt and normalises the response body to
// JSON.
func (d *Dispatcher) post(ctx context.Context, target string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(payload)) > d.maxBodyBytes {
		return nil, fmt.Errorf("response larger than %d bytes", d.maxBodyBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: snippet(payload)}
	}

	if len(payload) == 0 {
		return nil, nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload), nil
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return json.RawMessage(quoted), nil
}

// statusError is a non-2xx reply from the device.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("device returned status %d", e.code)
	}
	return fmt.Sprintf("device returned status %d: %s", e.code, e.body)
}

// isConnectionFailure reports whether err means the command never made
// it to the device. Only those failures are safe to retry.
func isConnectionFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var serr *statusError
	if errors.As(err, &serr) {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return false
	}
	var uerr *url.Error
	return errors.As(err, &uerr)
}

// snippet returns a short printable prefix of a device error body.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// buildArgs validates the caller's arguments against the action schema
// and returns the payload to send, with defaults applied. Declared
// parameters are checked in declaration order; unexpected arguments are
// reported in name order so repeated calls fail identically.
func buildArgs(action *manifest.ActionSchema, args map[string]any) (map[string]any, error) {
	payload := make(map[string]any, len(action.Params))

	for i := range action.Params {
		param := &action.Params[i]
		value, present := args[param.Name]
		if !present {
			if param.Default != nil {
				payload[param.Name] = param.Default
				continue
			}
			return nil, &InvalidArgumentError{Name: param.Name, Reason: "required argument missing"}
		}
		if err := checkValue(param, value); err != nil {
			return nil, err
		}
		payload[param.Name] = value
	}

	var unexpected []string
	for name := range args {
		if action.Param(name) == nil {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, &InvalidArgumentError{Name: unexpected[0], Reason: "unexpected argument"}
	}

	return payload, nil
}

// checkValue validates one supplied argument against its declaration.
func checkValue(p *manifest.Parameter, value any) error {
	switch p.Type {
	case manifest.ParamBoolean:
		if _, ok := value.(bool); !ok {
			return &InvalidArgumentError{Name: p.Name, Reason: "expected a boolean"}
		}

	case manifest.ParamInteger:
		f, ok := numeric(value)
		if !ok || f != math.Trunc(f) {
			return &InvalidArgumentError{Name: p.Name, Reason: "expected an integer"}
		}
		return checkBounds(p, f)

	case manifest.ParamFloat:
		f, ok := numeric(value)
		if !ok {
			return &InvalidArgumentError{Name: p.Name, Reason: "expected a number"}
		}
		return checkBounds(p, f)

	case manifest.ParamString:
		if _, ok := value.(string); !ok {
			return &InvalidArgumentError{Name: p.Name, Reason: "expected a string"}
		}

	case manifest.ParamEnum:
		s, ok := value.(string)
		if !ok {
			return &InvalidArgumentError{Name: p.Name, Reason: "expected a string"}
		}
		for _, allowed := range p.Values {
			if s == allowed {
				return nil
			}
		}
		return &InvalidArgumentError{Name: p.Name, Reason: fmt.Sprintf("must be one of %v", p.Values)}

	default:
		return &InvalidArgumentError{Name: p.Name, Reason: fmt.Sprintf("unsupported parameter type %q", p.Type)}
	}
	return nil
}

// checkBounds enforces declared min/max on a numeric argument.
func checkBounds(p *manifest.Parameter, f float64) error {
	if p.Min != nil && f < *p.Min {
		return &InvalidArgumentError{Name: p.Name, Reason: fmt.Sprintf("below minimum %v", *p.Min)}
	}
	if p.Max != nil && f > *p.Max {
		return &InvalidArgumentError{Name: p.Name, Reason: fmt.Sprintf("above maximum %v", *p.Max)}
	}
	return nil
}

// numeric widens any JSON or Go number to float64.
func numeric(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
