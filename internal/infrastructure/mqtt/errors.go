package mqtt

import "errors"

// Errors reported by the broker client. Callers branch on these with
// errors.Is; call sites attach detail through %w wrapping.
var (
	// ErrConnectionFailed means the broker could not be reached during
	// the initial connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected means the client was closed or the broker link is
	// currently down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidQoS rejects QoS levels outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrPublishFailed wraps broker-side publish failures.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps broker-side subscribe failures.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed wraps broker-side unsubscribe failures.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
)
