package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ascotlab/ascot-gateway/internal/device"
	"github.com/ascotlab/ascot-gateway/internal/dispatch"
	"github.com/ascotlab/ascot-gateway/internal/gateway"
	"github.com/ascotlab/ascot-gateway/internal/infrastructure/mqtt"
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

// MQTTClient is the slice of the MQTT client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Dispatcher executes validated commands. The gateway satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Outcome, error)
}

// DeviceSource answers point lookups for status publication. The
// gateway satisfies this.
type DeviceSource interface {
	Device(id string) (*device.Device, bool)
}

// Options holds the collaborators and tuning for a Bridge.
type Options struct {
	// Client is the MQTT connection. Required.
	Client MQTTClient

	// Dispatcher executes commands arriving over MQTT. Required.
	Dispatcher Dispatcher

	// Devices resolves identities to current records for status
	// publication. Required.
	Devices DeviceSource

	// Prefix is the topic prefix. Defaults to mqtt.DefaultPrefix.
	Prefix string

	// QoS for bridge publications and the command subscription.
	// Defaults to 1.
	QoS byte

	// DispatchTimeout bounds one MQTT-initiated dispatch. Defaults to 10s.
	DispatchTimeout time.Duration

	// Buffer is the event queue capacity. Defaults to 64.
	Buffer int
}

// Bridge mirrors gateway state onto MQTT and feeds MQTT commands into
// the dispatcher.
//
// It implements gateway.Sink; attach it with Gateway.AddSink before
// Start. All methods are safe for concurrent use.
type Bridge struct {
	client     MQTTClient
	dispatcher Dispatcher
	devices    DeviceSource
	topics     mqtt.Topics
	qos        byte
	timeout    time.Duration
	logger     Logger

	events   chan gateway.Event
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	dropped int
}

// NewBridge creates a bridge. Call Start to subscribe and begin
// publishing.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("bridge: mqtt client is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("bridge: dispatcher is required")
	}
	if opts.Devices == nil {
		return nil, errors.New("bridge: device source is required")
	}
	if opts.QoS == 0 {
		opts.QoS = 1
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}

	return &Bridge{
		client:     opts.Client,
		dispatcher: opts.Dispatcher,
		devices:    opts.Devices,
		topics:     mqtt.Topics{Prefix: opts.Prefix},
		qos:        opts.QoS,
		timeout:    opts.DispatchTimeout,
		logger:     &noopLogger{},
		events:     make(chan gateway.Event, opts.Buffer),
		done:       make(chan struct{}),
	}, nil
}

// SetLogger sets the logger for bridge operations.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start subscribes to the device command topics and starts the
// publication worker.
func (b *Bridge) Start() error {
	topic := b.topics.DeviceCommands()
	if err := b.client.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("bridge: subscribing to %s: %w", topic, err)
	}

	b.wg.Add(1)
	go b.worker()

	b.logger.Info("mqtt bridge started", "command_topic", topic)
	return nil
}

// Stop shuts the publication worker down. Queued events are dropped.
// Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.logger.Info("mqtt bridge stopped")
	})
}

// HandleEvent implements gateway.Sink. It never blocks; when the queue
// is full the event is dropped and counted.
func (b *Bridge) HandleEvent(event gateway.Event) {
	select {
	case b.events <- event:
	default:
		b.mu.Lock()
		b.dropped++
		dropped := b.dropped
		b.mu.Unlock()
		b.logger.Warn("bridge event queue full, dropping event",
			"type", string(event.Type), "dropped_total", dropped)
	}
}

// Dropped returns how many events were discarded because the queue was
// full.
func (b *Bridge) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case event := <-b.events:
			b.publish(event)
		}
	}
}

// publish mirrors one gateway event onto the broker.
func (b *Bridge) publish(event gateway.Event) {
	switch event.Type {
	case gateway.EventDeviceVanished:
		// Empty retained payload clears the status for subscribers.
		b.publishRaw(b.topics.DeviceStatus(event.DeviceID), nil, true)

	case gateway.EventCommandResult:
		if event.Outcome != nil {
			b.publishResult(event.DeviceID, "", event.Outcome)
		}

	case gateway.EventDeviceAppeared, gateway.EventDeviceUpdated,
		gateway.EventDeviceResolved, gateway.EventDeviceHealth:
		b.publishStatus(event.DeviceID)

	default:
		b.logger.Debug("bridge ignoring event", "type", string(event.Type))
	}
}

// statusPayload is the retained per-device snapshot automations consume.
type statusPayload struct {
	ID       string             `json:"id"`
	Health   device.HealthState `json:"health"`
	Endpoint device.Endpoint    `json:"endpoint"`
	Kind     string             `json:"kind,omitempty"`
	Actions  []string           `json:"actions,omitempty"`
	LastSeen time.Time          `json:"last_seen"`
}

func (b *Bridge) publishStatus(id string) {
	dev, ok := b.devices.Device(id)
	if !ok {
		// Removed between the event and now; the vanish event will
		// clear the retained status.
		return
	}

	payload := statusPayload{
		ID:       dev.ID,
		Health:   dev.Health,
		Endpoint: dev.Endpoint,
		LastSeen: dev.LastSeen,
	}
	if dev.Manifest != nil {
		payload.Kind = dev.Manifest.Kind
		payload.Actions = dev.Manifest.ActionNames()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("marshalling device status", "device_id", id, "error", err)
		return
	}
	b.publishRaw(b.topics.DeviceStatus(id), data, true)
}

func (b *Bridge) publishRaw(topic string, payload []byte, retained bool) {
	if err := b.client.Publish(topic, payload, b.qos, retained); err != nil {
		b.logger.Warn("bridge publish failed", "topic", topic, "error", err)
	}
}

// commandPayload is what automations send on a device command topic.
// DeviceID is optional: topic levels are sanitised, so an identity
// containing reserved topic characters must be carried in the payload.
type commandPayload struct {
	DeviceID           string         `json:"device_id,omitempty"`
	Action             string         `json:"action"`
	Args               map[string]any `json:"args,omitempty"`
	AcknowledgeHazards bool           `json:"acknowledge_hazards,omitempty"`
	CorrelationID      string         `json:"correlation_id,omitempty"`
}

// resultPayload is the outcome published on the result topic.
type resultPayload struct {
	CorrelationID string `json:"correlation_id"`
	dispatch.Outcome
}

// handleCommand runs for every message on <prefix>/devices/+/command.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	id, leaf, ok := b.topics.ParseDeviceTopic(topic)
	if !ok || leaf != "command" {
		b.logger.Warn("command on unexpected topic", "topic", topic)
		return nil
	}

	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishResult(id, uuid.NewString(), &dispatch.Outcome{
			Status:   dispatch.StatusFailed,
			DeviceID: id,
			Error:    fmt.Sprintf("malformed command payload: %v", err),
		})
		return nil
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}
	if cmd.DeviceID != "" {
		// The payload identity wins over the sanitised topic level.
		id = cmd.DeviceID
	}
	if cmd.Action == "" {
		b.publishResult(id, cmd.CorrelationID, &dispatch.Outcome{
			Status:   dispatch.StatusFailed,
			DeviceID: id,
			Error:    "command payload missing action",
		})
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	outcome, err := b.dispatcher.Dispatch(ctx, dispatch.Request{
		DeviceID:           id,
		Action:             cmd.Action,
		Args:               cmd.Args,
		AcknowledgeHazards: cmd.AcknowledgeHazards,
	})
	if outcome == nil {
		outcome = &dispatch.Outcome{
			Status:   dispatch.StatusFailed,
			DeviceID: id,
			Action:   cmd.Action,
		}
		if err != nil {
			outcome.Error = err.Error()
		}
	}

	// The command.result gateway event also reaches HandleEvent, but
	// without the correlation ID; this publication is the one the
	// issuing automation correlates on.
	b.publishResult(id, cmd.CorrelationID, outcome)
	return nil
}

func (b *Bridge) publishResult(id, correlationID string, outcome *dispatch.Outcome) {
	data, err := json.Marshal(resultPayload{
		CorrelationID: correlationID,
		Outcome:       *outcome,
	})
	if err != nil {
		b.logger.Error("marshalling dispatch result", "device_id", id, "error", err)
		return
	}
	b.publishRaw(b.topics.DeviceResult(id), data, false)
}
