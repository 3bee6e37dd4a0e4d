package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// OAuth endpoint paths, relative to the instance base URL.
const (
	authorizePath = "/oauth/authorize"
	tokenPath     = "/oauth/token"
	appsPath      = "/api/v1/apps"
)

// Doer executes a single HTTP request. *http.Client satisfies it; tests
// inject fakes instead of subclassing flow behavior.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// tokenResponse represents the response structure from the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
}

// AppCredentials holds the client identifier and secret returned by
// application registration.
type AppCredentials struct {
	ClientID     string
	ClientSecret string
}

// Flow performs the stateless-per-call OAuth2 protocol operations against an
// instance's authorization server: building authorization URLs, exchanging
// authorization codes, and refreshing tokens. The only state it retains is
// the PKCE verifier of the current authorization attempt, which is
// regenerated on every BuildAuthorizationURL call and consumed by the next
// ExchangeCode.
type Flow struct {
	httpClient   Doer
	instanceURL  string
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string

	mu   sync.Mutex
	pkce *PKCECodes
}

// FlowConfig carries the registration parameters a Flow operates with.
type FlowConfig struct {
	// InstanceURL is the base URL of the instance, without a trailing slash.
	InstanceURL string
	// ClientID identifies the registered application.
	ClientID string
	// ClientSecret authenticates the registered application.
	ClientSecret string
	// RedirectURI is where the authorization server sends the user back to.
	RedirectURI string
	// Scopes lists the scopes to request, in order.
	Scopes []string
	// HTTPClient executes the flow's network calls. Defaults to
	// http.DefaultClient when nil.
	HTTPClient Doer
}

// NewFlow creates an OAuth flow for the given instance and application.
func NewFlow(cfg FlowConfig) *Flow {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Flow{
		httpClient:   httpClient,
		instanceURL:  strings.TrimRight(cfg.InstanceURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		scopes:       cfg.Scopes,
	}
}

// TokenEndpoint returns the absolute token endpoint URL.
func (f *Flow) TokenEndpoint() string {
	return f.instanceURL + tokenPath
}

// BuildAuthorizationURL generates a fresh PKCE pair and constructs the
// authorization URL the user must visit. The verifier is retained for the
// next ExchangeCode call and each invocation replaces any previous pending
// attempt.
//
// Returns:
//   - string: The complete authorization URL
//   - error: An error if PKCE generation fails
func (f *Flow) BuildAuthorizationURL() (string, error) {
	pkceCodes, err := GeneratePKCECodes()
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.pkce = pkceCodes
	f.mu.Unlock()

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {f.clientID},
		"redirect_uri":          {f.redirectURI},
		"code_challenge":        {pkceCodes.CodeChallenge},
		"code_challenge_method": {"S256"},
		"scope":                 {strings.Join(f.scopes, " ")},
	}
	return fmt.Sprintf("%s%s?%s", f.instanceURL, authorizePath, params.Encode()), nil
}

// ExchangeCode exchanges an authorization code for credentials using the
// PKCE verifier from the preceding BuildAuthorizationURL call. Calling it
// without a pending attempt fails with ErrInvalidState; the verifier is
// consumed on success.
//
// Parameters:
//   - ctx: The context for the request
//   - code: The authorization code received from the OAuth callback
//
// Returns:
//   - *Credentials: The granted tokens with an absolute expiration
//   - error: ErrInvalidState, a *TokenExchangeError, or a transport error
func (f *Flow) ExchangeCode(ctx context.Context, code string) (*Credentials, error) {
	f.mu.Lock()
	pkceCodes := f.pkce
	f.mu.Unlock()
	if pkceCodes == nil {
		return nil, ErrInvalidState
	}

	form := url.Values{
		"client_id":     {f.clientID},
		"client_secret": {f.clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {f.redirectURI},
		"scope":         {strings.Join(f.scopes, " ")},
		"code_verifier": {pkceCodes.CodeVerifier},
	}

	creds, err := f.postToken(ctx, form)
	if err != nil {
		return nil, err
	}

	// The verifier is single-use: a new authorization attempt must build a
	// new URL.
	f.mu.Lock()
	f.pkce = nil
	f.mu.Unlock()

	return creds, nil
}

// Refresh exchanges the refresh token for new credentials. When the server
// omits a rotated refresh token from its response, the prior one is carried
// forward, since rotation is optional per server.
//
// Parameters:
//   - ctx: The context for the request
//   - creds: The current credentials holding the refresh token
//
// Returns:
//   - *Credentials: The refreshed tokens
//   - error: ErrNoRefreshToken, a *TokenExchangeError, or a transport error
func (f *Flow) Refresh(ctx context.Context, creds *Credentials) (*Credentials, error) {
	if creds == nil || creds.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	form := url.Values{
		"client_id":     {f.clientID},
		"client_secret": {f.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
		"scope":         {strings.Join(f.scopes, " ")},
	}

	refreshed, err := f.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = creds.RefreshToken
	}
	return refreshed, nil
}

// postToken POSTs a form to the token endpoint and converts the response
// into credentials.
func (f *Flow) postToken(ctx context.Context, form url.Values) (*Credentials, error) {
	endpoint := f.TokenEndpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokenResp tokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	creds := &Credentials{
		AccessToken:   tokenResp.AccessToken,
		RefreshToken:  tokenResp.RefreshToken,
		TokenEndpoint: endpoint,
		Scopes:        grantedScopes(tokenResp.Scope, f.scopes),
	}
	if tokenResp.ExpiresIn > 0 {
		creds.Expiration = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return creds, nil
}

// grantedScopes splits the server-reported scope string, preserving server
// order. When the server reports none, the requested scopes are assumed
// granted.
func grantedScopes(reported string, requested []string) []string {
	if fields := strings.Fields(reported); len(fields) > 0 {
		return fields
	}
	return append([]string(nil), requested...)
}

// RegisterApplication registers a new OAuth application with an instance and
// returns its client credentials. It is a free function taking all
// dependencies as explicit parameters; registration needs no flow state.
// The response body may be JSON or form-encoded depending on the server:
// JSON is tried first, with form decoding as the fallback.
//
// Parameters:
//   - ctx: The context for the request
//   - httpClient: The transport used for the registration call
//   - instanceURL: The instance base URL
//   - name: The client_name presented to users on the consent screen
//   - redirectURIs: The allowed redirect URIs
//   - scopes: The scopes the application will request
//   - website: An optional application website
//
// Returns:
//   - *AppCredentials: The registered client id and secret
//   - error: A *RegistrationError on non-2xx responses, or a transport error
func RegisterApplication(ctx context.Context, httpClient Doer, instanceURL, name string, redirectURIs, scopes []string, website string) (*AppCredentials, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	form := url.Values{
		"client_name":   {name},
		"redirect_uris": {strings.Join(redirectURIs, "\n")},
		"scopes":        {strings.Join(scopes, " ")},
	}
	if website != "" {
		form.Set("website", website)
	}

	endpoint := strings.TrimRight(instanceURL, "/") + appsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RegistrationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	app := parseAppCredentials(body)
	if app == nil {
		return nil, &RegistrationError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return app, nil
}

// parseAppCredentials extracts client_id/client_secret from a JSON body,
// falling back to form decoding for servers that answer form-encoded.
func parseAppCredentials(body []byte) *AppCredentials {
	if gjson.ValidBytes(body) {
		clientID := gjson.GetBytes(body, "client_id").String()
		clientSecret := gjson.GetBytes(body, "client_secret").String()
		if clientID != "" {
			return &AppCredentials{ClientID: clientID, ClientSecret: clientSecret}
		}
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil
	}
	clientID := values.Get("client_id")
	if clientID == "" {
		return nil
	}
	return &AppCredentials{ClientID: clientID, ClientSecret: values.Get("client_secret")}
}
