package auth

import "fmt"

// State represents the lifecycle state of the authentication manager.
type State string

const (
	// StateInitializing means stored credentials are being loaded and checked.
	StateInitializing State = "initializing"
	// StateUnauthenticated means no usable credentials are held.
	StateUnauthenticated State = "unauthenticated"
	// StateAuthenticating means an authorization attempt is in progress.
	StateAuthenticating State = "authenticating"
	// StateAuthenticated means valid credentials are held and requests may
	// be executed on their behalf.
	StateAuthenticated State = "authenticated"
	// StateError is a transient state recording a failure; the manager
	// immediately cascades into StateUnauthenticated afterwards.
	StateError State = "error"
)

// ErrorKind classifies authentication failures in a provider agnostic format.
type ErrorKind string

const (
	// ErrorKindUnknown covers failures with no more specific classification.
	ErrorKindUnknown ErrorKind = "unknown"
	// ErrorKindNetwork covers transport-level failures reaching the server.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindInvalidCredentials covers rejected authorization codes or tokens.
	ErrorKindInvalidCredentials ErrorKind = "invalidCredentials"
	// ErrorKindRefreshFailed covers failed refresh-token exchanges.
	ErrorKindRefreshFailed ErrorKind = "refreshFailed"
	// ErrorKindUserCancelled covers authorization attempts the user aborted.
	ErrorKindUserCancelled ErrorKind = "userCancelled"
)

// Error describes an authentication failure. It is a value object replaced
// wholesale on each new error condition, not an accumulating log.
type Error struct {
	// Kind is the machine readable classification.
	Kind ErrorKind
	// Message is a human readable description of the failure.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
