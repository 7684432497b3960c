package device

import "time"

// Device is the last-known record for a NodeMCU unit. Records outlive
// connections: a device that disconnects stays listed as offline until it
// is explicitly removed.
//
// JSON field names are camelCase to match the device firmware's wire
// protocol and the existing HTTP clients.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`

	// Connection state
	Status   Status    `json:"status"`
	IP       string    `json:"ip,omitempty"`
	Firmware string    `json:"firmware,omitempty"`
	LastSeen time.Time `json:"lastSeen"`

	// Last reported payloads
	Config        Config         `json:"config,omitempty"`
	StatusData    map[string]any `json:"statusData,omitempty"`
	LastTelemetry map[string]any `json:"lastTelemetry,omitempty"`
}

// DeepCopy creates a complete independent copy of the Device.
// All map fields are cloned so modifications to the copy do not affect
// the original. This is essential for registry isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	cpy.Config = deepCopyMap(d.Config)
	cpy.StatusData = deepCopyMap(d.StatusData)
	cpy.LastTelemetry = deepCopyMap(d.LastTelemetry)

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// Config holds device configuration as a JSON map.
//
// Examples:
//   - {"reportInterval": 30, "debugMode": false}
//   - {"relayPin": 4, "sensorPoll": 10}
type Config map[string]any

// Status represents the connection state of a device record.
type Status string

// Status constants.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Info carries the self-description a device sends when it registers.
// Empty fields leave the existing record values untouched, so a device
// that reconnects with a minimal frame keeps its earlier metadata.
type Info struct {
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	IP       string `json:"ip,omitempty"`
	Firmware string `json:"firmware,omitempty"`
	Config   Config `json:"config,omitempty"`
}

// Transport is a live connection capable of delivering JSON frames to a
// device. The WebSocket listener provides the production implementation.
//
// Implementations must be safe for concurrent Send calls. Close must be
// idempotent.
type Transport interface {
	Send(v any) error
	Close() error
}

// Wire message types exchanged with devices over a Transport.
const (
	MsgTypeRegister        = "register"
	MsgTypeRegisterAck     = "registerAck"
	MsgTypeStatus          = "status"
	MsgTypeTelemetry       = "telemetry"
	MsgTypeCommand         = "command"
	MsgTypeCommandResponse = "commandResponse"
	MsgTypeConfig          = "config"
)

// CommandMessage is the frame written to a device transport for each
// outbound command. CommandID correlates the eventual response.
type CommandMessage struct {
	Type      string         `json:"type"`
	CommandID string         `json:"commandId"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
}
