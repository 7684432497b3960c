package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrInvalidArgument is returned when an identifier, command, or config
	// payload fails validation before any work is attempted.
	ErrInvalidArgument = errors.New("device: invalid argument")

	// ErrDeviceNotFound is returned when a device ID has no record.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrNotConnected is returned when a command targets a device with no
	// live transport.
	ErrNotConnected = errors.New("device: not connected")

	// ErrCommandTimeout is returned when a device does not answer a command
	// within the deadline.
	ErrCommandTimeout = errors.New("device: command timed out")

	// ErrDeviceDisconnected is returned to callers whose commands were still
	// pending when the device's transport went away.
	ErrDeviceDisconnected = errors.New("device: disconnected")
)
