package fleet

import "errors"

// Sentinel errors for fleet operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a DUID is not in the active inventory.
	ErrDeviceNotFound = errors.New("fleet: device not found")

	// ErrNotConnected is returned by Send when the device has no live
	// transport. Retryable once the device reconnects.
	ErrNotConnected = errors.New("fleet: device not connected")

	// ErrConnectivity marks transport-level failures. Retryable; the
	// connection keeps retrying in the background on its own.
	ErrConnectivity = errors.New("fleet: connectivity failure")

	// ErrRequestTimeout is returned when a command receives no correlated
	// response within its deadline. Retryable by the caller.
	ErrRequestTimeout = errors.New("fleet: request timed out")

	// ErrProtocolViolation marks malformed or unexpected device frames.
	// Not retried automatically.
	ErrProtocolViolation = errors.New("fleet: protocol violation")

	// ErrConnClosed is returned when using a device connection after Close.
	ErrConnClosed = errors.New("fleet: connection closed")

	// ErrManagerClosed is returned when using the manager after Close.
	ErrManagerClosed = errors.New("fleet: manager closed")

	// ErrAlreadyLoaded is returned when Load is called twice.
	ErrAlreadyLoaded = errors.New("fleet: manager already loaded")
)
