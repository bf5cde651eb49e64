package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/ascotlab/ascot-gateway/internal/device"
	"github.com/ascotlab/ascot-gateway/internal/manifest"
)

const lampManifest = `{
	"kind": "light",
	"actions": [
		{
			"name": "set_target",
			"route": "/set-target",
			"params": [
				{"name": "name", "type": "string"},
				{"name": "level", "type": "integer", "min": 0, "max": 100, "default": 50},
				{"name": "mode", "type": "enum", "values": ["eco", "normal"], "default": "normal"}
			]
		},
		{
			"name": "turn_on",
			"route": "/turn-on",
			"hazards": ["fire_hazard", "electric_energy_consumption"]
		},
		{"name": "ping", "route": "/ping"}
	]
}`

type capturedRequest struct {
	method string
	url    string
	body   string
}

// stubTransport intercepts every outgoing request so tests can count
// and script network behaviour without sockets.
type stubTransport struct {
	mu       sync.Mutex
	calls    int
	requests []capturedRequest
	respond  func(call int, req *http.Request) (*http.Response, error)
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	s.requests = append(s.requests, capturedRequest{req.Method, req.URL.String(), string(body)})
	respond := s.respond
	s.mu.Unlock()

	if respond == nil {
		return jsonResponse(http.StatusOK, `{"result":"ok"}`), nil
	}
	return respond(call, req)
}

func (s *stubTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubTransport) request(i int) capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func jsonResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func setupRegistry(t *testing.T) *device.Registry {
	t.Helper()
	reg := device.NewRegistry(device.Options{})
	t.Cleanup(reg.Close)

	reg.Upsert("lamp-1", device.Endpoint{Scheme: "http", Host: "192.168.1.10", Port: 3000}, "/.well-known/ascot", nil)
	m, err := manifest.Parse("lamp-1", []byte(lampManifest))
	if err != nil {
		t.Fatalf("parsing fixture manifest: %v", err)
	}
	reg.AttachManifest("lamp-1", m)

	reg.Upsert("blind-1", device.Endpoint{Scheme: "http", Host: "192.168.1.11", Port: 3000}, "/.well-known/ascot", nil)
	return reg
}

func setupDispatcher(t *testing.T, stub *stubTransport) (*Dispatcher, *device.Registry) {
	t.Helper()
	reg := setupRegistry(t)
	d := NewDispatcher(Options{
		Registry: reg,
		Client:   &http.Client{Transport: stub},
	})
	return d, reg
}

func assertHealthUntouched(t *testing.T, reg *device.Registry, id string) {
	t.Helper()
	dev, ok := reg.Get(id)
	if !ok {
		t.Fatalf("device %s missing from registry", id)
	}
	if dev.Failures != 0 {
		t.Errorf("Failures = %d, want 0 (policy failures must not count)", dev.Failures)
	}
}

func TestDispatcher_UnknownDevice(t *testing.T) {
	stub := &stubTransport{}
	d, _ := setupDispatcher(t, stub)

	out, err := d.Dispatch(context.Background(), Request{DeviceID: "nope", Action: "ping"})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("error = %v, want ErrUnknownDevice", err)
	}
	if out.Status != StatusFailed || out.Error == "" {
		t.Errorf("outcome = %+v, want failed with error text", out)
	}
	if stub.callCount() != 0 {
		t.Errorf("network calls = %d, want 0", stub.callCount())
	}
}

func TestDispatcher_CapabilitiesUnknown(t *testing.T) {
	stub := &stubTransport{}
	d, reg := setupDispatcher(t, stub)

	_, err := d.Dispatch(context.Background(), Request{DeviceID: "blind-1", Action: "open"})
	if !errors.Is(err, ErrCapabilitiesUnknown) {
		t.Fatalf("error = %v, want ErrCapabilitiesUnknown", err)
	}
	if stub.callCount() != 0 {
		t.Errorf("network calls = %d, want 0", stub.callCount())
	}
	assertHealthUntouched(t, reg, "blind-1")
}

func TestDispatcher_UnknownAction(t *testing.T) {
	stub := &stubTransport{}
	d, reg := setupDispatcher(t, stub)

	_, err := d.Dispatch(context.Background(), Request{DeviceID: "lamp-1", Action: "self_destruct"})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("error = %v, want ErrUnknownAction", err)
	}
	if stub.callCount() != 0 {
		t.Errorf("network calls = %d, want 0", stub.callCount())
	}
	assertHealthUntouched(t, reg, "lamp-1")
}

func TestDispatcher_ArgumentValidation(t *testing.T) {
	tests := []struct {
		name       string
		args       map[string]any
		wantArg    string
		wantReason string
	}{
		{
			name:       "missing required",
			args:       map[string]any{"level": 10},
			wantArg:    "name",
			wantReason: "required",
		},
		{
			name:       "wrong type for string",
			args:       map[string]any{"name": 42},
			wantArg:    "name",
			wantReason: "expected a string",
		},
		{
			name:       "fractional integer",
			args:       map[string]any{"name": "kitchen", "level": 10.5},
			wantArg:    "level",
			wantReason: "expected an integer",
		},
		{
			name:       "string for integer",
			args:       map[string]any{"name": "kitchen", "level": "high"},
			wantArg:    "level",
			wantReason: "expected an integer",
		},
		{
			name:       "above maximum",
			args:       map[string]any{"name": "kitchen", "level": 150},
			wantArg:    "level",
			wantReason: "above maximum",
		},
		{
			name:       "below minimum",
			args:       map[string]any{"name": "kitchen", "level": -1},
			wantArg:    "level",
			wantReason: "below minimum",
		},
		{
			name:       "enum member unknown",
			args:       map[string]any{"name": "kitchen", "mode": "turbo"},
			wantArg:    "mode",
			wantReason: "must be one of",
		},
		{
			name:       "unexpected reported in name order",
			args:       map[string]any{"name": "kitchen", "zeta": 1, "alpha": 2},
			wantArg:    "alpha",
			wantReason: "unexpected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubTransport{}
			d, reg := setupDispatcher(t, stub)

			_, err := d.Dispatch(context.Background(), Request{
				DeviceID: "lamp-1",
				Action:   "set_target",
				Args:     tt.args,
			})

			var argErr *InvalidArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("error = %v, want *InvalidArgumentError", err)
			}
			if !errors.Is(err, ErrInvalidArgument) {
				t.Error("error should match ErrInvalidArgument")
			}
			if argErr.Name != tt.wantArg {
				t.Errorf("argument = %q, want %q", argErr.Name, tt.wantArg)
			}
			if !strings.Contains(argErr.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want it to contain %q", argErr.Reason, tt.wantReason)
			}
			if stub.callCount() != 0 {
				t.Errorf("network calls = %d, want 0", stub.callCount())
			}
			assertHealthUntouched(t, reg, "lamp-1")
		})
	}
}

func TestDispatcher_DeclaredArgumentsCheckedFirst(t *testing.T) {
	stub := &stubTransport{}
	d, _ := setupDispatcher(t, stub)

	// A declared-argument problem must win over the unexpected extra.
	_, err := d.Dispatch(context.Background(), Request{
		DeviceID: "lamp-1",
		Action:   "set_target",
		Args:     map[string]any{"name": "kitchen", "level": "bad", "alpha": 1},
	})

	var argErr *InvalidArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("error = %v, want *InvalidArgumentError", err)
	}
	if argErr.Name != "level" {
		t.Errorf("argument = %q, want level (declaration order decides)", argErr.Name)
	}
}

func TestDispatcher_HazardGate(t *testing.T) {
	stub := &stubTransport{}
	d, reg := setupDispatcher(t, stub)

	out, err := d.Dispatch(context.Background(), Request{DeviceID: "lamp-1", Action: "turn_on"})
	if !errors.Is(err, ErrHazardNotAcknowledged) {
		t.Fatalf("error = %v, want ErrHazardNotAcknowledged", err)
	}
	want := []manifest.Hazard{manifest.HazardFireHazard, manifest.HazardElectricEnergyConsumption}
	if len(out.Hazards) != len(want) {
		t.Fatalf("outcome hazards = %v, want %v", out.Hazards, want)
	}
	for i, h := range want {
		if out.Hazards[i] != h {
			t.Errorf("hazard[%d] = %s, want %s", i, out.Hazards[i], h)
		}
	}
	if stub.callCount() != 0 {
		t.Errorf("network calls = %d, want 0", stub.callCount())
	}
	assertHealthUntouched(t, reg, "lamp-1")

	// Acknowledged, the same command goes through.
	out, err = d.Dispatch(context.Background(), Request{
		DeviceID:           "lamp-1",
		Action:             "turn_on",
		AcknowledgeHazards: true,
	})
	if err != nil {
		t.Fatalf("acknowledged dispatch failed: %v", err)
	}
	if out.Status != StatusOK || !out.Acknowledged {
		t.Errorf("outcome = %+v, want ok and acknowledged", out)
	}
	if stub.callCount() != 1 {
		t.Errorf("network calls = %d, want 1", stub.callCount())
	}
}

func TestDispatcher_AppliesDefaultsAndRoute(t *testing.T) {
	stub := &stubTransport{}
	d, _ := setupDispatcher(t, stub)

	_, err := d.Dispatch(context.Background(), Request{
		DeviceID: "lamp-1",
		Action:   "set_target",
		Args:     map[string]any{"name": "kitchen"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	req := stub.request(0)
	if req.method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.method)
	}
	if req.url != "http://192.168.1.10:3000/set-target" {
		t.Errorf("url = %s, want http://192.168.1.10:3000/set-target", req.url)
	}

	var sent map[string]any
	if err := json.Unmarshal([]byte(req.body), &sent); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if sent["name"] != "kitchen" {
		t.Errorf("name = %v, want kitchen", sent["name"])
	}
	if sent["level"] != float64(50) {
		t.Errorf("level = %v, want default 50", sent["level"])
	}
	if sent["mode"] != "normal" {
		t.Errorf("mode = %v, want default normal", sent["mode"])
	}
}

func TestDispatcher_SuccessMarksHealthy(t *testing.T) {
	stub := &stubTransport{}
	d, reg := setupDispatcher(t, stub)

	reg.MarkHealth("lamp-1", false)

	out, err := d.Dispatch(context.Background(), Request{DeviceID: "lamp-1", Action: "ping"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if out.Status != StatusOK {
		t.Errorf("status = %s, want ok", out.Status)
	}
	if string(out.Response) != `{"result":"ok"}` {
		t.Errorf("response = %s, want device reply", out.Response)
	}
	if out.DurationMS < 0 {
		t.Errorf("duration = %d, want >= 0", out.DurationMS)
	}

	dev, _ := reg.Get("lamp-1")
	if dev.Health != device.HealthFresh || dev.Failures != 0 {
		t.Errorf("health = %s/%d, want fresh/0 after success", dev.Health, dev.Failures)
	}
}

func TestDispatcher_RetriesConnectionFailureOnce(t *testing.T) {
	stub := &stubTransport{}
	stub.respond = func(call int, req *http.Request) (*http.Response, error) {
		if call == 1 {
			return nil, errors.New("connection refused")
		}
		return jsonResponse(http.StatusOK, `{"done":true}`), nil
	}
	d, _ := setupDispatcher(t, stub)

	out, err := d.Dispatch(context.Background(), Request{DeviceID: "lamp-1", Action: "ping"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if out.Status != StatusOK {
		t.Errorf("status = %s, want ok after retry", out.Status)
	}
	if stub.callCount() != 2 {
		t.Errorf("network calls = %d, want 2", stub.callCount())
	}
}

func TestDispatcher_ConnectionFailureBothAttempts(t *testing.T) {
	stub := &stubTransport{}
	stub.respond = func(call int, req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}
	d, reg := setupDispatcher(t, stub)

	_, err := d.Dispatch(context.Background(), Request{DeviceID: "lamp-1", Action: "ping"})
	if !errors.Is(err, ErrDeviceFailure) {
		t.Fatalf("error = %v, want ErrDeviceFailure", err)
	}
	if stub.callCount() != 2 {
		t.Errorf("network calls = %d, want 2 (exactly one retry)", stub.callCount())
	}
	dev, _ := reg.Get("lamp-1")
	if dev.Failures != 1 {
		t.Errorf("Failures = %d, want 1", dev.Failures)
	}
}

func TestDispatcher_DeviceStatusErrorNotRetried(t *testing.T) {
	stub := &stubTransport{}
	stub.respond = func(call int, req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, "boom"), nil
	}
	d, reg := setupDispatcher(t, stub)

	out, err := d.Dispatch(context.Background(), Request{DeviceID: "lamp-1", Action: "ping"})
	if !errors.Is(err, ErrDeviceFailure) {
		t.Fatalf("error = %v, want ErrDeviceFailure", err)
	}
	if !strings.Contains(out.Error, "500") || !strings.Contains(out.Error, "boom") {
		t.Errorf("outcome error = %q, want status and body", out.Error)
	}
	if stub.callCount() != 1 {
		t.Errorf("network calls = %d, want 1 (status errors are not retried)", stub.callCount())
	}
	dev, _ := reg.Get("lamp-1")
	if dev.Failures != 1 {
		t.Errorf("Failures = %d, want 1", dev.Failures)
	}
}

func TestDispatcher_TimeoutNotRetried(t *testing.T) {
	stub := &stubTransport{}
	stub.respond = func(call int, req *http.Request) (*http.Response, error) {
		return nil, timeoutError{}
	}
	d, _ := setupDispatcher(t, stub)

	_, err := d.Dispatch(context.Background(), Request{DeviceID: "lamp-1", Action: "ping"})
	if !errors.Is(err, ErrDeviceFailure) {
		t.Fatalf("error = %v, want ErrDeviceFailure", err)
	}
	if stub.callCount() != 1 {
		t.Errorf("network calls = %d, want 1 (timeouts are not retried)", stub.callCount())
	}
}

func TestDispatcher_ResponseBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"json preserved", `{"level": 20}`, `{"level": 20}`},
		{"plain text quoted", "OK", `"OK"`},
		{"empty omitted", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubTransport{}
			stub.respond = func(call int, req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, tt.body), nil
			}
			d, _ := setupDispatcher(t, stub)

			out, err := d.Dispatch(context.Background(), Request{DeviceID: "lamp-1", Action: "ping"})
			if err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}
			if string(out.Response) != tt.want {
				t.Errorf("response = %q, want %q", out.Response, tt.want)
			}
		})
	}
}
