// Package bridge connects the gateway to home automations over MQTT.
//
// The bridge is an optional, config-gated side channel. It mirrors the
// registry onto retained status topics, publishes dispatch outcomes, and
// accepts commands from automations on per-device command topics:
//
//	ascot/gateway/status             gateway presence (retained, LWT)
//	ascot/devices/<id>/status        device record snapshot (retained)
//	ascot/devices/<id>/command      ← {"action", "args", "acknowledge_hazards", "correlation_id", "device_id"}
//	ascot/devices/<id>/result       → dispatch outcome, correlation ID echoed
//
// Commands received over MQTT go through exactly the same dispatcher as
// panel commands: the manifest gates, argument validation and the hazard
// acknowledgment requirement all apply. A malformed command payload is
// answered on the result topic rather than dropped silently. Device
// identity levels are sanitised (reserved MQTT characters become
// underscores), so a command for such a device carries its exact
// identity in the optional device_id payload field, which overrides the
// topic level.
//
// The bridge consumes gateway events through a bounded queue; a slow or
// disconnected broker drops events with a log line instead of stalling
// the gateway's event fan-out.
package bridge
