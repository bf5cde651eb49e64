package dispatch

import (
	"encoding/json"

	"github.com/ascotlab/ascot-gateway/internal/manifest"
)

// Request describes one command to execute against a device.
type Request struct {
	// DeviceID is the registry identity of the target device.
	DeviceID string `json:"device_id"`

	// Action is the manifest action name to invoke.
	Action string `json:"action"`

	// Args are the caller-supplied action arguments. Declared
	// parameters with defaults may be omitted.
	Args map[string]any `json:"args,omitempty"`

	// AcknowledgeHazards must be true to run an action that declares
	// hazards.
	AcknowledgeHazards bool `json:"acknowledge_hazards,omitempty"`
}

// Status is the final verdict of a dispatch.
type Status string

// Dispatch statuses.
const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Outcome is the full record of one dispatch, successful or not. It is
// what the API returns, the bridge publishes and the recorder stores.
type Outcome struct {
	Status       Status            `json:"status"`
	DeviceID     string            `json:"device_id"`
	Action       string            `json:"action"`
	Hazards      []manifest.Hazard `json:"hazards,omitempty"`
	Acknowledged bool              `json:"acknowledged,omitempty"`

	// Response carries the device's reply body for successful commands.
	// Non-JSON replies are wrapped as a JSON string.
	Response json.RawMessage `json:"response,omitempty"`

	// Error describes the failure when Status is "failed".
	Error string `json:"error,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}
