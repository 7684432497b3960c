// Package device provides the connection registry and command correlation
// engine for a fleet of NodeMCU units.
//
// Devices hold persistent WebSocket connections to the control plane. This
// package tracks which device is reachable over which connection, keeps a
// last-known record per device, matches asynchronous command responses back
// to their waiting callers, and fans out lifecycle events to subscribers.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────────┐
//	│                              Manager                                     │
//	│                                                                          │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌──────────────────┐   │
//	│  │   Registry       │    │   Correlator     │    │    Event Hub     │   │
//	│  │  (manager.go)    │    │ (correlator.go)  │    │   (events.go)    │   │
//	│  │                  │    │                  │    │                  │   │
//	│  │ • Device records │    │ • Pending table  │    │ • Subscriptions  │   │
//	│  │ • Live transports│    │ • Timeouts       │    │ • Ordered worker │   │
//	│  │ • Ownership      │    │ • Exactly-once   │    │ • Panic recovery │   │
//	│  └──────────────────┘    └──────────────────┘    └──────────────────┘   │
//	│           ▲                       ▲                        │             │
//	└───────────│───────────────────────│────────────────────────│─────────────┘
//	            │                       │                        ▼
//	┌──────────────────────┐   ┌──────────────────────┐  ┌──────────────────┐
//	│  WebSocket listener  │   │  REST API / MCP      │  │   Observers      │
//	│  • register/status   │   │  • send command      │  │  • MQTT relay    │
//	│  • telemetry         │   │  • update config     │  │  • InfluxDB sink │
//	│  • commandResponse   │   └──────────────────────┘  └──────────────────┘
//	└──────────────────────┘
//
// # Key Types
//
//   - Device: the last-known record for a registered unit
//   - Transport: a live connection capable of delivering frames to a device
//   - Manager: registry, correlator, and hub behind one thread-safe facade
//   - Event / Observer: lifecycle notifications (connect, disconnect,
//     command sent, telemetry received)
//
// # Usage
//
//	manager := device.NewManager()
//	manager.SetLogger(log)
//
//	// Transport side (WebSocket listener)
//	manager.Register("esp8266-001", conn, info)
//	manager.IngestTelemetry("esp8266-001", readings)
//
//	// Caller side (REST API, MCP adapter)
//	reply, err := manager.Send(ctx, "esp8266-001", "restart", nil, 0)
//	if errors.Is(err, device.ErrCommandTimeout) {
//	    // device did not answer in time
//	}
//
// # Concurrency
//
// All Manager methods are safe for concurrent use. A caller blocked in Send
// holds no locks while waiting, so registrations, telemetry, and commands
// for other devices proceed unimpeded. Command responses resolve exactly
// once: whichever of reply, timeout, disconnect, or cancellation claims the
// pending entry first wins, and the others become no-ops.
package device
