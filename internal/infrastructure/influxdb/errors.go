package influxdb

import "errors"

// Errors reported by the telemetry sink. Write failures do not appear
// here: the write API is asynchronous and surfaces them through the
// error callback instead.
var (
	// ErrDisabled means the sink is switched off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed means the server could not be reached, or
	// reported itself unhealthy, during connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected means the client was closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")
)
