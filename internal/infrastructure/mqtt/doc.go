// Package mqtt provides MQTT client connectivity for the Ascot gateway.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The gateway itself only needs the local device HTTP contract; MQTT is
// the optional side channel external automations integrate over. The
// automation bridge (internal/bridge) publishes device status and
// dispatch results through this client and receives commands on the
// device command topics.
//
//	Ascot gateway ↔ MQTT broker ↔ home automations
//
// # Security Considerations
//
//   - TLS is recommended for anything beyond a trusted LAN (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
//
//	// Subscribe to every device's command topic
//	err = client.Subscribe(topics.DeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a retained device status snapshot
//	client.Publish(topics.DeviceStatus("kitchen-light"), payload, 1, true)
package mqtt
