package mqtt

import "errors"

// Domain-specific errors for MQTT session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected session.
	ErrNotConnected = errors.New("mqtt: session not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionLost is delivered to outstanding requests when the
	// broker connection drops. The session reconnects on its own, but
	// requests in flight at the moment of loss cannot be trusted to
	// complete and are failed immediately.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrSessionClosed is returned after Close() has been called.
	ErrSessionClosed = errors.New("mqtt: session closed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrDuplicateRequest is returned when a request id is already awaiting
	// a response on this session.
	ErrDuplicateRequest = errors.New("mqtt: request id already in flight")

	// ErrRequestTimeout is returned when no correlated response arrives
	// within the request deadline.
	ErrRequestTimeout = errors.New("mqtt: request timed out")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
