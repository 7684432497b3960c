package device

import (
	"fmt"
	"regexp"
)

// Validation constants.
const (
	maxDeviceIDLength = 64
	deviceIDPattern   = `^[A-Za-z0-9][A-Za-z0-9._-]*$`

	// Size limits for JSON payloads to prevent memory exhaustion from a
	// misbehaving or hostile device.
	maxConfigKeys    = 50
	maxStatusKeys    = 100
	maxTelemetryKeys = 100
)

var deviceIDRegex = regexp.MustCompile(deviceIDPattern)

// ValidateDeviceID checks a device identifier for length and character set.
// IDs appear in MQTT topics and URLs, so the accepted set is deliberately
// narrow.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: device id is empty", ErrInvalidArgument)
	}
	if len(id) > maxDeviceIDLength {
		return fmt.Errorf("%w: device id exceeds %d characters", ErrInvalidArgument, maxDeviceIDLength)
	}
	if !deviceIDRegex.MatchString(id) {
		return fmt.Errorf("%w: device id contains invalid characters", ErrInvalidArgument)
	}
	return nil
}

// validatePayloadSize rejects JSON maps with an unreasonable key count.
func validatePayloadSize(payload map[string]any, maxKeys int, what string) error {
	if len(payload) > maxKeys {
		return fmt.Errorf("%w: %s exceeds %d keys", ErrInvalidArgument, what, maxKeys)
	}
	return nil
}
