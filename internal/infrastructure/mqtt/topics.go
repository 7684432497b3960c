package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the NodeMCU MQTT relay.
//
// All topics use the scheme: nodemcu/{category}/...
const (
	// TopicPrefix is the base for all relay topics.
	TopicPrefix = "nodemcu"

	// TopicPrefixDevices is the base for per-device topics.
	TopicPrefixDevices = "nodemcu/devices"

	// TopicPrefixEvents is the base for lifecycle event topics.
	TopicPrefixEvents = "nodemcu/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "nodemcu/system"
)

// Topics provides builders for NodeMCU MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.DeviceTelemetry("esp8266-001")
//	// Returns: "nodemcu/devices/esp8266-001/telemetry"
type Topics struct{}

// Event returns the topic for a fleet-wide lifecycle event.
//
// Example: nodemcu/events/deviceConnected
func (Topics) Event(kind string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvents, kind)
}

// DeviceEvent returns the topic for a lifecycle event scoped to one device.
//
// Example: nodemcu/devices/esp8266-001/events/deviceDisconnected
func (Topics) DeviceEvent(deviceID, kind string) string {
	return fmt.Sprintf("%s/%s/events/%s", TopicPrefixDevices, deviceID, kind)
}

// DeviceStatus returns the topic for device status updates.
//
// Example: nodemcu/devices/esp8266-001/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixDevices, deviceID)
}

// DeviceTelemetry returns the topic for device telemetry readings.
//
// Example: nodemcu/devices/esp8266-001/telemetry
func (Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/telemetry", TopicPrefixDevices, deviceID)
}

// DeviceCommand returns the topic on which commands for a device arrive.
//
// Example: nodemcu/devices/esp8266-001/command
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixDevices, deviceID)
}

// DeviceCommandResult returns the topic carrying the outcome of a
// command submitted over MQTT.
//
// Example: nodemcu/devices/esp8266-001/command/result
func (Topics) DeviceCommandResult(deviceID string) string {
	return fmt.Sprintf("%s/%s/command/result", TopicPrefixDevices, deviceID)
}

// SystemStatus returns the control plane status topic.
// This carries online/offline announcements including the LWT.
//
// Example: nodemcu/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEvents returns a pattern matching all fleet-wide lifecycle events.
//
// Pattern: nodemcu/events/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/+", TopicPrefixEvents)
}

// AllDeviceStatus returns a pattern matching all device status topics.
//
// Pattern: nodemcu/devices/+/status
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixDevices)
}

// AllDeviceTelemetry returns a pattern matching all device telemetry topics.
//
// Pattern: nodemcu/devices/+/telemetry
func (Topics) AllDeviceTelemetry() string {
	return fmt.Sprintf("%s/+/telemetry", TopicPrefixDevices)
}

// AllDeviceCommands returns a pattern matching every device command
// topic. The command channel subscribes to this.
//
// Pattern: nodemcu/devices/+/command
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/+/command", TopicPrefixDevices)
}

// AllTopics returns a pattern matching all NodeMCU topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: nodemcu/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseDeviceCommand extracts the device ID from a command topic. The
// second return is false when the topic is not a device command topic,
// which covers result topics and anything with extra path segments.
func ParseDeviceCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixDevices+"/")
	if !ok {
		return "", false
	}
	deviceID, ok := strings.CutSuffix(rest, "/command")
	if !ok || deviceID == "" || strings.Contains(deviceID, "/") {
		return "", false
	}
	return deviceID, true
}
