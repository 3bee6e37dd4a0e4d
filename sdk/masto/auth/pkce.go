// Package auth implements the OAuth2 authentication and credential lifecycle
// for Mastodon-compatible instances. It covers PKCE-based authorization-code
// flows, credential persistence, automatic token refresh, and a finite-state
// model of authentication that downstream request execution consumes.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCECodes holds a PKCE code verifier and its derived challenge.
// The verifier is single-use: a fresh pair is generated for every
// authorization attempt.
type PKCECodes struct {
	// CodeVerifier is the random secret sent during the token exchange.
	CodeVerifier string
	// CodeChallenge is the S256 digest of the verifier sent in the
	// authorization URL.
	CodeChallenge string
}

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636 specifications for OAuth 2.0 PKCE extension.
// This ensures that only the client that initiated the request can exchange
// the authorization code.
//
// Returns:
//   - *PKCECodes: A struct containing the code verifier and challenge
//   - error: An error if the generation fails, nil otherwise
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: generateCodeChallenge(codeVerifier),
	}, nil
}

// generateCodeVerifier creates a cryptographically random string of 128
// characters using URL-safe base64 encoding. 96 random bytes encode to 128
// characters, which satisfies the RFC 7636 43-128 character constraint.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, 96)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// generateCodeChallenge creates a SHA256 hash of the code verifier and
// encodes it using URL-safe base64 encoding without padding.
func generateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
