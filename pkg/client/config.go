package client

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration defaults.
const (
	DefaultResultTTL        = 5 * time.Minute
	DefaultCacheCapacity    = 1024
	DefaultMaxSubscriptions = 256
)

// ErrMissingURL indicates a configuration without a backend endpoint.
var ErrMissingURL = errors.New("config: url is required")

// Duration wraps time.Duration for YAML configs ("30s", "5m").
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config configures a Client.
type Config struct {
	// URL is the backend stream endpoint (ws:// or wss://).
	URL string `yaml:"url"`

	// AuthToken is sent as a bearer token during the handshake.
	AuthToken string `yaml:"authToken,omitempty"`

	// ResultTTL is the freshness window for cached query results.
	ResultTTL Duration `yaml:"resultTTL,omitempty"`

	// RollbackTimeout bounds how long an unconfirmed optimistic
	// mutation may live.
	RollbackTimeout Duration `yaml:"rollbackTimeout,omitempty"`

	// HeartbeatInterval is the interval between liveness pings.
	HeartbeatInterval Duration `yaml:"heartbeatInterval,omitempty"`

	// CacheCapacity bounds the number of cached query results.
	CacheCapacity int `yaml:"cacheCapacity,omitempty"`

	// MaxSubscriptions bounds concurrent subscription registrations.
	MaxSubscriptions int `yaml:"maxSubscriptions,omitempty"`

	// StatePath, if set, persists the offline mutation queue across
	// restarts.
	StatePath string `yaml:"statePath,omitempty"`
}

// DefaultConfig returns a config with defaults applied. The URL must
// still be set.
func DefaultConfig() *Config {
	return &Config{
		ResultTTL:        Duration(DefaultResultTTL),
		CacheCapacity:    DefaultCacheCapacity,
		MaxSubscriptions: DefaultMaxSubscriptions,
	}
}

// LoadConfig reads a YAML config file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the config for use with New.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}
	return nil
}

// fixup fills zero values with defaults.
func (c *Config) fixup() {
	if c.ResultTTL <= 0 {
		c.ResultTTL = Duration(DefaultResultTTL)
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = DefaultMaxSubscriptions
	}
}
