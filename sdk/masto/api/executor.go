package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/fedikit/masto/internal/logging"
)

// maxErrorBodyBytes bounds how much of a failed response is retained on the
// returned error.
const maxErrorBodyBytes = 64 * 1024

// CredentialSource is what the executor reads from the authentication layer.
// It never mutates auth state through it.
type CredentialSource interface {
	// IsAuthenticated reports whether authenticated requests can be made.
	IsAuthenticated() bool
	// AuthenticatedClient returns the client carrying the bearer token, or
	// nil when unauthenticated.
	AuthenticatedClient() *http.Client
}

// RequestFunc is a caller-supplied request operation. It receives a ready
// transport and returns its decoded result.
type RequestFunc[T any] func(ctx context.Context, transport Transport) (T, error)

// ExecuteOptions tunes a single Execute call.
type ExecuteOptions struct {
	// RequireAuth rejects the call up front when unauthenticated, without
	// any network activity.
	RequireAuth bool
	// RetryOnAuthError is reserved for refresh-and-retry behavior. The
	// current implementation re-raises authentication errors unchanged
	// regardless of this flag; it exists so callers can already express
	// intent without a future API break. This is a documented limitation.
	RetryOnAuthError bool
}

// DefaultExecuteOptions returns the options used when nil is passed to
// Execute: authentication required, retry flag set.
func DefaultExecuteOptions() *ExecuteOptions {
	return &ExecuteOptions{RequireAuth: true, RetryOnAuthError: true}
}

// Executor runs request closures with the correct transport and classifies
// failures into typed errors. Transport preference order: the authenticated
// client when authenticated, then an injected factory, then a default
// anonymous transport. Only the default transport is owned (and closed) by
// the executor; the other two have externally managed lifetimes.
type Executor struct {
	auth          CredentialSource
	factory       TransportFactory
	transportOpts TransportOptions
}

// ExecutorOption customises Executor construction.
type ExecutorOption func(*Executor)

// WithTransportFactory injects a factory for anonymous transports. Factory
// transports are never closed by the executor.
func WithTransportFactory(factory TransportFactory) ExecutorOption {
	return func(e *Executor) {
		e.factory = factory
	}
}

// WithTransportOptions configures the default anonymous transport built when
// no factory is injected.
func WithTransportOptions(opts TransportOptions) ExecutorOption {
	return func(e *Executor) {
		e.transportOpts = opts
	}
}

// NewExecutor creates a request executor reading authentication state from
// source.
func NewExecutor(source CredentialSource, opts ...ExecutorOption) *Executor {
	e := &Executor{auth: source}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs fn with a transport selected per the executor's preference
// order and returns its result, or a typed *Error.
//
// When opts is nil, DefaultExecuteOptions applies. With RequireAuth set and
// no authentication present, the call fails immediately with an
// authentication error and fn is never invoked.
func Execute[T any](ctx context.Context, e *Executor, fn RequestFunc[T], opts *ExecuteOptions) (T, error) {
	var zero T
	if opts == nil {
		opts = DefaultExecuteOptions()
	}

	requestID := logging.GenerateRequestID()
	ctx = logging.WithRequestID(ctx, requestID)
	logger := log.WithField("request_id", requestID)

	authenticated := e.auth != nil && e.auth.IsAuthenticated()
	if opts.RequireAuth && !authenticated {
		logger.Debug("rejecting request: authentication required")
		return zero, &Error{Kind: ErrorKindAuthentication, Message: "Authentication required"}
	}

	transport, owned := e.obtainTransport(authenticated)
	if transport == nil {
		return zero, &Error{Kind: ErrorKindUnknown, Message: "no transport available"}
	}
	if owned {
		defer transport.Close()
	}

	result, err := fn(ctx, transport)
	if err != nil {
		return zero, classifyExecuteError(err, logger)
	}
	return result, nil
}

// obtainTransport picks the transport for one call and reports whether the
// executor owns its lifetime.
func (e *Executor) obtainTransport(authenticated bool) (Transport, bool) {
	if authenticated {
		if client := e.auth.AuthenticatedClient(); client != nil {
			return WrapClient(client), false
		}
	}
	if e.factory != nil {
		transport, err := e.factory()
		if err != nil {
			log.Warnf("transport factory failed, falling back to default transport: %v", err)
		} else if transport != nil {
			return transport, false
		}
	}
	return NewDefaultTransport(e.transportOpts), true
}

// classifyExecuteError maps a closure failure onto the typed error taxonomy.
// An *Error raised by the closure propagates unchanged.
func classifyExecuteError(err error, logger *log.Entry) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return err
	}
	if isNetworkError(err) {
		logger.Debugf("network failure: %v", err)
		return &Error{Kind: ErrorKindNetwork, Message: err.Error(), Cause: err}
	}
	logger.Debugf("unclassified failure: %v", err)
	return &Error{Kind: ErrorKindUnknown, Message: err.Error(), Cause: err}
}

// isNetworkError reports whether err is a transport-level failure.
func isNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// CheckResponse classifies a non-2xx response into a typed *Error and
// returns nil for successful statuses. On failure the body is consumed: a
// JSON `error` field becomes the message, falling back to the HTTP status
// text. Status mapping: 401/403 → authentication, 5xx → server, other 4xx →
// client, anything else → unknown.
//
// Callers that want a boolean check instead of an error value simply test
// the result against nil.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	message := http.StatusText(resp.StatusCode)
	if gjson.ValidBytes(body) {
		if errField := gjson.GetBytes(body, "error").String(); errField != "" {
			message = errField
		}
	}

	kind := ErrorKindUnknown
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = ErrorKindAuthentication
	case resp.StatusCode >= 500 && resp.StatusCode < 600:
		kind = ErrorKindServer
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		kind = ErrorKindClient
	}

	return &Error{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Message:    message,
		Body:       string(body),
	}
}
