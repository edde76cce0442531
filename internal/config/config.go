// Package config loads the notifyd configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/clinic-notify/internal/logging"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notifyclient"
)

// Environment variables that override file values.
const (
	EnvEndpoint = "CLINIC_NOTIFY_ENDPOINT"
	EnvToken    = "CLINIC_NOTIFY_TOKEN"
)

var (
	ErrInvalidDoctorID        = errors.New("doctor id must be positive")
	ErrDuplicateDoctorID      = errors.New("doctor id listed more than once")
	ErrInvalidInboxCapacity   = errors.New("inbox capacity cannot be negative")
	ErrNegativeReconnectDelay = errors.New("reconnect delay cannot be negative")
)

// Config is the daemon configuration.
type Config struct {
	// Endpoint is the broker endpoint (default http://localhost:8080/ws)
	Endpoint string `yaml:"endpoint"`

	// ReconnectDelay is the fixed wait between reconnection attempts
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// HeartBeat is the STOMP heart-beat interval
	HeartBeat time.Duration `yaml:"heartbeat"`

	// Token is the bearer token sent to the broker
	Token string `yaml:"token"`

	// JWTSecret verifies tokens when set; tokens are parsed unverified otherwise
	JWTSecret string `yaml:"jwt_secret"`

	Doctors []DoctorConfig `yaml:"doctors"`
	HTTP    HTTPConfig     `yaml:"http"`
	GRPC    GRPCConfig     `yaml:"grpc"`
	Inbox   InboxConfig    `yaml:"inbox"`
	Logging logging.Config `yaml:"logging"`
}

// DoctorConfig is one doctor to listen for.
type DoctorConfig struct {
	ID      int64 `yaml:"id"`
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the listener should subscribe (default true).
func (d DoctorConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// HTTPConfig configures the status API.
type HTTPConfig struct {
	// Listen address; empty disables the HTTP server
	Listen string `yaml:"listen"`
}

// GRPCConfig configures the gRPC health service.
type GRPCConfig struct {
	// Listen address; empty disables the gRPC server
	Listen string `yaml:"listen"`
}

// InboxConfig bounds the recent-notification log.
type InboxConfig struct {
	// Capacity is the number of notifications kept per doctor
	Capacity int `yaml:"capacity"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults sets reasonable default values for unset fields
func (c *Config) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = notifyclient.DefaultEndpoint
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.HeartBeat == 0 {
		c.HeartBeat = 10 * time.Second
	}
	if c.Inbox.Capacity == 0 {
		c.Inbox.Capacity = 100
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.ReconnectDelay < 0 {
		return ErrNegativeReconnectDelay
	}
	if c.Inbox.Capacity < 0 {
		return ErrInvalidInboxCapacity
	}

	seen := make(map[int64]bool, len(c.Doctors))
	for _, d := range c.Doctors {
		if d.ID <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidDoctorID, d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateDoctorID, d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// ApplyEnv overrides file values with environment values found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvEndpoint); ok && v != "" {
		c.Endpoint = v
	}
	if v, ok := lookup(EnvToken); ok && v != "" {
		c.Token = v
	}
}

// Decode reads YAML from r, rejecting unknown keys. An empty document yields
// the zero configuration.
func Decode(r io.Reader) (*Config, error) {
	c := &Config{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Load reads the file at path (optional), applies the process environment and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	c := &Config{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()

		if c, err = Decode(f); err != nil {
			return nil, err
		}
	}

	c.ApplyEnv(os.LookupEnv)
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
