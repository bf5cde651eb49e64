package api

import (
	"encoding/json"
	"testing"

	"github.com/ascotlab/ascot-gateway/internal/device"
	"github.com/ascotlab/ascot-gateway/internal/gateway"
	"github.com/ascotlab/ascot-gateway/internal/infrastructure/config"
	"github.com/ascotlab/ascot-gateway/internal/infrastructure/logging"
)

func newTestClient(h *Hub, channels ...string) *WSClient {
	c := &WSClient{
		hub:           h,
		send:          make(chan []byte, 8),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	return c
}

func receiveMessage(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	default:
		t.Fatal("no message queued")
	}
	return WSMessage{}
}

func TestHubBroadcastRespectsSubscriptions(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())

	subscribed := newTestClient(h, ChannelDevices)
	other := newTestClient(h, ChannelCommands)
	h.Register(subscribed)
	h.Register(other)

	h.Broadcast(ChannelDevices, "device.appeared", map[string]string{"id": "lamp-1"})

	msg := receiveMessage(t, subscribed)
	if msg.Type != WSTypeEvent || msg.EventType != "device.appeared" {
		t.Errorf("message = %+v, want event device.appeared", msg)
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client received broadcast")
	default:
	}
}

func TestHubHandleEventRouting(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())

	devClient := newTestClient(h, ChannelDevices)
	cmdClient := newTestClient(h, ChannelCommands)
	h.Register(devClient)
	h.Register(cmdClient)

	h.HandleEvent(gateway.Event{
		Type:     gateway.EventDeviceResolved,
		DeviceID: "lamp-1",
		Device:   &device.Device{ID: "lamp-1", Health: device.HealthFresh},
	})
	h.HandleEvent(gateway.Event{
		Type:     gateway.EventCommandResult,
		DeviceID: "lamp-1",
	})

	devMsg := receiveMessage(t, devClient)
	if devMsg.EventType != string(gateway.EventDeviceResolved) {
		t.Errorf("device channel event = %q, want device.resolved", devMsg.EventType)
	}

	cmdMsg := receiveMessage(t, cmdClient)
	if cmdMsg.EventType != string(gateway.EventCommandResult) {
		t.Errorf("command channel event = %q, want command.result", cmdMsg.EventType)
	}

	// Neither client should see the other channel's event.
	select {
	case <-devClient.send:
		t.Error("device subscriber received command event")
	default:
	}
}

func TestHubUnregisterClosesSendOnce(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())
	c := newTestClient(h, ChannelDevices)

	h.Register(c)
	if got := h.ClientCount(); got != 1 {
		t.Fatalf("clients = %d, want 1", got)
	}

	h.Unregister(c)
	h.Unregister(c) // second call must not panic

	if got := h.ClientCount(); got != 0 {
		t.Errorf("clients = %d, want 0", got)
	}

	// Broadcasting after unregister must not panic on the closed channel.
	h.Broadcast(ChannelDevices, "device.updated", nil)
}

func TestClientSubscribeUnsubscribe(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())
	c := newTestClient(h)
	h.Register(c)

	c.handleMessage([]byte(`{"type":"subscribe","id":"1","payload":{"channels":["devices"]}}`))

	resp := receiveMessage(t, c)
	if resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Errorf("response = %+v, want response id=1", resp)
	}
	if !c.isSubscribed(ChannelDevices) {
		t.Error("client not subscribed after subscribe message")
	}

	c.handleMessage([]byte(`{"type":"unsubscribe","id":"2","payload":{"channels":["devices"]}}`))
	receiveMessage(t, c)
	if c.isSubscribed(ChannelDevices) {
		t.Error("client still subscribed after unsubscribe")
	}
}

func TestClientPing(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())
	c := newTestClient(h)

	c.handleMessage([]byte(`{"type":"ping","id":"7"}`))

	resp := receiveMessage(t, c)
	if resp.Type != WSTypePong || resp.ID != "7" {
		t.Errorf("response = %+v, want pong id=7", resp)
	}
}

func TestClientRejectsMalformedMessage(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())
	c := newTestClient(h)

	c.handleMessage([]byte(`{not json`))

	resp := receiveMessage(t, c)
	if resp.Type != WSTypeError {
		t.Errorf("response type = %q, want error", resp.Type)
	}

	c.handleMessage([]byte(`{"type":"teleport","id":"9"}`))
	resp = receiveMessage(t, c)
	if resp.Type != WSTypeError || resp.ID != "9" {
		t.Errorf("response = %+v, want error id=9", resp)
	}
}
