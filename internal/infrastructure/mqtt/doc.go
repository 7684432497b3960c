// Package mqtt provides MQTT client connectivity for the event relay.
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
// The relay is optional. When enabled, device lifecycle events and
// telemetry observed by the connection registry are republished to the
// broker so external integrations (dashboards, automations) can consume
// them without holding an HTTP or WebSocket session. The broker also
// carries an inbound command channel: messages on
// nodemcu/devices/+/command are dispatched to the named device, with
// the outcome published on the matching command/result topic.
//
//	Control Plane <-> MQTT Broker <-> External Consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device telemetry
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a lifecycle event
//	topic := mqtt.Topics{}.Event("deviceConnected")
//	client.Publish(topic, []byte(`{"deviceId":"esp8266-001"}`), 1, false)
package mqtt
