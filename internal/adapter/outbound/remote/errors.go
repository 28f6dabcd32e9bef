package remote

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrRemoteUnreachable is returned when the management service cannot be contacted.
	ErrRemoteUnreachable = errors.New("management service unreachable")

	// ErrRegistrationRejected is returned when the service refuses to enroll the agent.
	ErrRegistrationRejected = errors.New("registration rejected")

	// ErrNoAgentID is returned by agent-scoped calls on a client without an agent ID.
	ErrNoAgentID = errors.New("agent id not configured")
)

// Error is returned for non-2xx responses from the management service.
type Error struct {
	// Code is a machine-readable error code, e.g. "HTTP_404".
	Code string
	// Status is the HTTP status code.
	Status int
	// Err is the underlying error.
	Err error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote [%s]: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("remote [%s]", e.Code)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether a retry on the next cycle may succeed.
func (e *Error) Transient() bool {
	return e.Status >= 500 || e.Status == 408 || e.Status == 429
}

// UnreachableError wraps a transport-level failure.
type UnreachableError struct {
	// Cause is the underlying error that caused the service to be unreachable.
	Cause error
}

// Error returns a human-readable description of the failure.
func (e *UnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("management service unreachable: %v", e.Cause)
	}
	return "management service unreachable"
}

// Unwrap returns the underlying error cause.
func (e *UnreachableError) Unwrap() error {
	return e.Cause
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrRemoteUnreachable).
func (e *UnreachableError) Is(target error) bool {
	return target == ErrRemoteUnreachable
}

// IsConnectionError reports whether err is a transport-level failure
// rather than an HTTP status returned by the service.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrRemoteUnreachable)
}
