package auth

import (
	"encoding/json"
	"time"
)

// DefaultRefreshBuffer is how far ahead of expiration a proactive refresh is
// attempted.
const DefaultRefreshBuffer = 5 * time.Minute

// Credentials holds the OAuth tokens granted for a single account session.
// A zero Expiration means the token never triggers a proactive refresh.
type Credentials struct {
	// AccessToken is the bearer credential authorizing API calls.
	AccessToken string
	// RefreshToken is used to obtain a new access token without
	// re-prompting the user. Optional; not every server issues one.
	RefreshToken string
	// TokenEndpoint is the URL the tokens were obtained from.
	TokenEndpoint string
	// Scopes lists the granted scopes in the order the server returned them.
	Scopes []string
	// Expiration is the absolute expiry time of the access token.
	// The zero value means the server reported no expiry.
	Expiration time.Time
}

// credentialFile is the persisted JSON schema. Expiration is stored as epoch
// milliseconds; optional fields are omitted when unset.
type credentialFile struct {
	AccessToken   string   `json:"accessToken"`
	RefreshToken  string   `json:"refreshToken,omitempty"`
	TokenEndpoint string   `json:"tokenEndpoint,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	Expiration    *int64   `json:"expiration,omitempty"`
}

// Clone returns a deep copy of the credentials.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}
	copyCreds := *c
	if len(c.Scopes) > 0 {
		copyCreds.Scopes = append([]string(nil), c.Scopes...)
	}
	return &copyCreds
}

// HasExpiration reports whether the server provided an expiry time.
func (c *Credentials) HasExpiration() bool {
	return c != nil && !c.Expiration.IsZero()
}

// ShouldRefresh reports whether the access token is within buffer of its
// expiration at the given instant. Credentials without an expiration never
// request a proactive refresh.
func (c *Credentials) ShouldRefresh(buffer time.Duration, now time.Time) bool {
	if !c.HasExpiration() {
		return false
	}
	return !now.Before(c.Expiration.Add(-buffer))
}

// EncodeCredentials serializes credentials into the persisted JSON schema.
func EncodeCredentials(c *Credentials) ([]byte, error) {
	file := credentialFile{
		AccessToken:   c.AccessToken,
		RefreshToken:  c.RefreshToken,
		TokenEndpoint: c.TokenEndpoint,
		Scopes:        c.Scopes,
	}
	if c.HasExpiration() {
		ms := c.Expiration.UnixMilli()
		file.Expiration = &ms
	}
	return json.Marshal(&file)
}

// DecodeCredentials parses the persisted JSON schema back into credentials.
// Payloads that do not match the schema, or that lack an access token, decode
// to nil without an error: a store that cannot recognise its contents treats
// them as absent rather than failing.
func DecodeCredentials(data []byte) *Credentials {
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil
	}
	if file.AccessToken == "" {
		return nil
	}
	creds := &Credentials{
		AccessToken:   file.AccessToken,
		RefreshToken:  file.RefreshToken,
		TokenEndpoint: file.TokenEndpoint,
		Scopes:        file.Scopes,
	}
	if file.Expiration != nil && *file.Expiration > 0 {
		creds.Expiration = time.UnixMilli(*file.Expiration)
	}
	return creds
}
