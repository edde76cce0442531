package connection

import (
	"errors"
	"time"
)

// DefaultReconnectDelay is the fixed delay between reconnection attempts.
const DefaultReconnectDelay = 5 * time.Second

// ErrNegativeReconnectAttempts is returned when MaxReconnectAttempts is negative.
var ErrNegativeReconnectAttempts = errors.New("max reconnect attempts cannot be negative")

// Config holds Connection Manager configuration
type Config struct {
	// ReconnectDelay is the fixed wait before every reconnection attempt
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = retry until disconnected)
	MaxReconnectAttempts int

	// HeartBeat is the STOMP heart-beat interval requested in both directions
	HeartBeat time.Duration

	// DisconnectTimeout bounds the graceful STOMP DISCONNECT before the transport is closed
	DisconnectTimeout time.Duration

	// Token is sent as a bearer Authorization header on the transport handshake and on CONNECT
	Token string

	// Login and Passcode are optional STOMP credentials
	Login    string
	Passcode string
}

// SetDefaults sets reasonable default values for unset fields
func (c *Config) SetDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HeartBeat <= 0 {
		c.HeartBeat = 10 * time.Second
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = 2 * time.Second
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.MaxReconnectAttempts < 0 {
		return ErrNegativeReconnectAttempts
	}
	return nil
}
