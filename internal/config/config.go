// Package config provides configuration management for the Mastodon client
// library and the example CLI. It handles loading and parsing YAML
// configuration files, and provides structured access to instance settings,
// registered application credentials, credential storage, and proxy options.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultScopes are requested when the configuration does not name any.
var DefaultScopes = []string{"read", "write", "follow"}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// InstanceURL is the base URL of the Mastodon instance, e.g. "https://mastodon.social".
	InstanceURL string `yaml:"instance-url" json:"instance-url"`

	// ClientID is the OAuth client identifier obtained from app registration.
	ClientID string `yaml:"client-id" json:"client-id"`

	// ClientSecret is the OAuth client secret obtained from app registration.
	ClientSecret string `yaml:"client-secret" json:"client-secret"`

	// RedirectURI is where the authorization server sends the user back to.
	// Defaults to the local callback listener.
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`

	// Scopes lists the OAuth scopes to request, in order.
	Scopes []string `yaml:"scopes" json:"scopes"`

	// AuthFile is the path of the persisted credential file.
	AuthFile string `yaml:"auth-file" json:"auth-file"`

	// EncryptionKey optionally enables the encrypted credential store.
	// When empty, credentials are stored as plain JSON.
	EncryptionKey string `yaml:"encryption-key,omitempty" json:"encryption-key,omitempty"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	// CallbackPort is the local port used by the OAuth callback listener.
	CallbackPort int `yaml:"callback-port,omitempty" json:"callback-port,omitempty"`

	// LogDir enables rotated file logging when set.
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// DefaultCallbackPort is used when the configuration does not set one.
const DefaultCallbackPort = 54545

// LoadConfig reads and parses the YAML configuration file at path.
//
// Parameters:
//   - path: The configuration file path
//
// Returns:
//   - *Config: The parsed configuration with defaults applied
//   - error: An error if reading or parsing fails
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s failed: %w", path, err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s failed: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.CallbackPort == 0 {
		c.CallbackPort = DefaultCallbackPort
	}
	if c.RedirectURI == "" {
		c.RedirectURI = fmt.Sprintf("http://localhost:%d/callback", c.CallbackPort)
	}
	if c.AuthFile == "" {
		c.AuthFile = "masto-auth.json"
	}
	c.InstanceURL = strings.TrimRight(strings.TrimSpace(c.InstanceURL), "/")
}

// Validate checks that the configuration names an instance.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.InstanceURL) == "" {
		return fmt.Errorf("config: instance-url is required")
	}
	if !strings.HasPrefix(c.InstanceURL, "http://") && !strings.HasPrefix(c.InstanceURL, "https://") {
		return fmt.Errorf("config: instance-url must include a scheme: %s", c.InstanceURL)
	}
	return nil
}

// Save writes the configuration back to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal failed: %w", err)
	}
	if err = os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s failed: %w", path, err)
	}
	return nil
}
