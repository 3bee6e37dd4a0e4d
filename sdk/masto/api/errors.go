// Package api executes HTTP operations against a Mastodon-compatible REST
// API with uniform transport selection and error classification. The thin
// per-endpoint wrappers in Client are all built on the same Execute and
// CheckResponse primitives.
package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies request execution failures.
type ErrorKind string

const (
	// ErrorKindNetwork covers transport-level failures before a response
	// was received.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindAuthentication covers missing or rejected credentials
	// (including HTTP 401/403).
	ErrorKindAuthentication ErrorKind = "authentication"
	// ErrorKindServer covers HTTP 5xx responses.
	ErrorKindServer ErrorKind = "server"
	// ErrorKindClient covers HTTP 4xx responses other than 401/403.
	ErrorKindClient ErrorKind = "client"
	// ErrorKindUnknown covers everything else.
	ErrorKindUnknown ErrorKind = "unknown"
)

// Error describes a failed API call. It is constructed fresh per failure and
// never persisted.
type Error struct {
	// Kind is the machine readable classification.
	Kind ErrorKind
	// StatusCode is the HTTP status when a response was received, else 0.
	StatusCode int
	// Message is a human readable description of the failure.
	Message string
	// Body is the raw response payload when one was read.
	Body string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("masto api: %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("masto api: %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// AsError extracts an *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
