// Package gateway wires discovery, the device registry, manifest
// resolution and command dispatch into one orchestrator.
//
// The flow is event driven: announcements from the discovery listener
// update the registry and schedule background manifest fetches (bounded
// by a semaphore so an announcement storm cannot spawn unbounded work);
// departures remove devices; a periodic sweep marks devices stale when
// their announcements stop arriving. Commands pass straight through to
// the dispatcher.
//
// Every state change is fanned out as a gateway.Event to the attached
// sinks. Sinks are optional and narrow, so the WebSocket hub, the MQTT
// bridge and the time-series recorder all plug in the same way without
// the orchestrator knowing any of them.
package gateway
