package auth

import (
	"errors"
	"fmt"
)

// ErrInvalidState indicates a token exchange was attempted without a prior
// authorization URL having been built, so no PKCE verifier exists.
var ErrInvalidState = errors.New("masto auth: no pending authorization attempt")

// ErrNoRefreshToken indicates a refresh was requested for credentials that
// carry no refresh token.
var ErrNoRefreshToken = errors.New("masto auth: credentials have no refresh token")

// ErrIntegrityCheck indicates the encrypted credential file failed its
// integrity verification. Unlike a malformed plain file, this is surfaced as
// an error because it signals tampering rather than absence.
var ErrIntegrityCheck = errors.New("masto auth: credential file failed integrity check")

// TokenExchangeError reports a non-2xx response from the token endpoint
// during a code or refresh exchange.
type TokenExchangeError struct {
	// StatusCode is the HTTP status returned by the token endpoint.
	StatusCode int
	// Body is the raw response payload, kept for diagnostics.
	Body string
}

// Error returns a string representation of the token exchange failure.
func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("masto auth: token exchange failed with status %d: %s", e.StatusCode, e.Body)
}

// RegistrationError reports a non-2xx response from the application
// registration endpoint.
type RegistrationError struct {
	// StatusCode is the HTTP status returned by the apps endpoint.
	StatusCode int
	// Body is the raw response payload, kept for diagnostics.
	Body string
}

// Error returns a string representation of the registration failure.
func (e *RegistrationError) Error() string {
	return fmt.Sprintf("masto auth: application registration failed with status %d: %s", e.StatusCode, e.Body)
}

// IsTokenExchangeError checks if an error is a token exchange failure.
func IsTokenExchangeError(err error) bool {
	var exchangeErr *TokenExchangeError
	return errors.As(err, &exchangeErr)
}
