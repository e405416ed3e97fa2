package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection state checks.
var (
	// ErrNotConnected is returned when an operation requires a live socket.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("realtime: connection closed")

	// ErrNoMessage is returned by Recv when no event arrived within the
	// poll interval. It is a timeout, not a failure.
	ErrNoMessage = errors.New("realtime: no message available")

	// ErrSessionTimeout is returned when the provider never confirms the
	// session within the configured deadline.
	ErrSessionTimeout = errors.New("realtime: session creation timed out")
)

// ConnectionError describes a failed or lost provider connection.
type ConnectionError struct {
	Reason    string
	Cause     error
	Retryable bool
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime: connection %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("realtime: connection %s", e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// APIError describes an error event returned by the provider.
type APIError struct {
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: api error %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: api error %s: %s", e.Type, e.Message)
}

// IsRetryable reports whether err is a connection error worth retrying.
func IsRetryable(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Retryable
}
