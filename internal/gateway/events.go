package gateway

import (
	"time"

	"github.com/ascotlab/ascot-gateway/internal/device"
	"github.com/ascotlab/ascot-gateway/internal/dispatch"
)

// EventType classifies a gateway event.
type EventType string

// Gateway event types, as delivered to sinks and external surfaces
// (WebSocket clients, the MQTT bridge, the recorder).
const (
	EventDeviceAppeared EventType = "device.appeared"
	EventDeviceUpdated  EventType = "device.updated"
	EventDeviceVanished EventType = "device.vanished"
	EventDeviceResolved EventType = "device.resolved"
	EventDeviceHealth   EventType = "device.health"
	EventCommandResult  EventType = "command.result"
)

// Event is one observable state change in the gateway.
//
// Device carries a private snapshot where one is available; sinks may
// hold it without worrying about later registry updates.
type Event struct {
	Type     EventType          `json:"type"`
	DeviceID string             `json:"device_id"`
	Device   *device.Device     `json:"device,omitempty"`
	Health   device.HealthState `json:"health,omitempty"`
	Outcome  *dispatch.Outcome  `json:"outcome,omitempty"`
	Error    string             `json:"error,omitempty"`

	// DurationMS is how long the operation behind the event took, in
	// milliseconds. Set on device.resolved; zero elsewhere.
	DurationMS int64     `json:"duration_ms,omitempty"`
	Time       time.Time `json:"time"`
}

// Sink receives gateway events. Implementations must not block; slow
// consumers are expected to buffer or drop internally.
type Sink interface {
	HandleEvent(event Event)
}
