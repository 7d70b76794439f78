package client

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Duration is a time.Duration that reads and writes as "1.5s" in JSON and
// YAML files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// AuthConfig selects how the client authenticates to the job server. At most
// one of Token, HMACSecret and JWKFile is used, in that order.
type AuthConfig struct {
	Token      string   `json:"token,omitempty" yaml:"token,omitempty"`
	HMACSecret string   `json:"hmacSecret,omitempty" yaml:"hmacSecret,omitempty"`
	JWKFile    string   `json:"jwkFile,omitempty" yaml:"jwkFile,omitempty"`
	Subject    string   `json:"subject,omitempty" yaml:"subject,omitempty"`
	Audience   string   `json:"audience,omitempty" yaml:"audience,omitempty"`
	TTL        Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// RetryConfig controls reconnection attempts when dialing.
type RetryConfig struct {
	Attempts     int      `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	InitialDelay Duration `json:"initialDelay,omitempty" yaml:"initialDelay,omitempty"`
	MaxDelay     Duration `json:"maxDelay,omitempty" yaml:"maxDelay,omitempty"`
}

// Config is the client configuration file.
type Config struct {
	Endpoint       string      `json:"endpoint" yaml:"endpoint"`
	Path           string      `json:"path,omitempty" yaml:"path,omitempty"`
	Auth           AuthConfig  `json:"auth,omitempty" yaml:"auth,omitempty"`
	LogLevel       string      `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	LogFormat      string      `json:"logFormat,omitempty" yaml:"logFormat,omitempty"`
	RequestTimeout Duration    `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`
	ConnectTimeout Duration    `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	ResyncDelay    Duration    `json:"resyncDelay,omitempty" yaml:"resyncDelay,omitempty"`
	Retry          RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultPath           = "/jobs"
	DefaultRequestTimeout = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultResyncDelay    = time.Second
	DefaultTokenTTL       = 15 * time.Minute
	DefaultRetryAttempts  = 3
	DefaultRetryInitial   = 200 * time.Millisecond
	DefaultRetryMax       = 5 * time.Second
)

// DefaultConfig returns a configuration with every default applied and no
// endpoint.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if c.ResyncDelay == 0 {
		c.ResyncDelay = Duration(DefaultResyncDelay)
	}
	if c.Auth.TTL == 0 {
		c.Auth.TTL = Duration(DefaultTokenTTL)
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = DefaultRetryAttempts
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = Duration(DefaultRetryInitial)
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = Duration(DefaultRetryMax)
	}
}

// Validate checks the configuration is usable for dialing.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("invalid endpoint %q: scheme must be ws or wss", c.Endpoint)
	}
	if c.RequestTimeout < 0 || c.ConnectTimeout < 0 || c.ResyncDelay < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Retry.Attempts < 0 {
		return fmt.Errorf("retry attempts must not be negative")
	}
	return nil
}

// URL returns the endpoint joined with Path.
func (c *Config) URL() string {
	endpoint := strings.TrimRight(c.Endpoint, "/")
	if c.Path == "" {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err == nil && u.Path != "" {
		return endpoint
	}
	return endpoint + "/" + strings.TrimLeft(c.Path, "/")
}
