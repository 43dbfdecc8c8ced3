package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport package.
var (
	// ErrNotConnected indicates no open connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected indicates Open was called on an open transport.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrConnectionClosed indicates the connection was closed unexpectedly.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrMissingEndpoint indicates no endpoint was configured.
	ErrMissingEndpoint = errors.New("transport: endpoint is required")
)

// Connection failure reasons.
const (
	// ReasonRefused marks a dial that never produced a connection.
	ReasonRefused = "refused"

	// ReasonHandshake marks a failure sending the session config message.
	ReasonHandshake = "handshake"

	// ReasonSend marks a mid-call write failure.
	ReasonSend = "send"

	// ReasonTimeout marks heartbeat grace expiry with no inbound traffic.
	ReasonTimeout = "timeout"

	// ReasonRead marks a mid-call read failure.
	ReasonRead = "read"

	// ReasonClosed marks a clean remote close.
	ReasonClosed = "closed"
)

// ConnectionError describes a connection-level failure.
type ConnectionError struct {
	// Reason is one of the Reason constants.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates whether a fresh call could succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("transport: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether a fresh call could succeed.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsNotConnected reports whether the error indicates a missing or dead
// connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed)
}

// IsRetryable reports whether the failure is worth retrying with a new
// call.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}

// BackendError is a structured error payload received from the remote
// side over an otherwise healthy connection.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: %s", e.Message)
}

// NewBackendError creates a BackendError.
func NewBackendError(message string) *BackendError {
	return &BackendError{Message: message}
}

// IsBackendError reports whether the error is a remote backend error.
func IsBackendError(err error) bool {
	var backendErr *BackendError
	return errors.As(err, &backendErr)
}
