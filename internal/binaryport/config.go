// Package binaryport configures and dials the node's binary request port.
// Only connection establishment lives here; the request/response protocol
// spoken over the port is handled elsewhere.
package binaryport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rmacdonaldsmith/nodestream-go/pkg/reconnect"
)

// Defaults
const (
	DefaultAddress             = "127.0.0.1:28104"
	DefaultMaxMessageSize      = 4 * 1024 * 1024
	DefaultMessageTimeout      = 30 * time.Second
	DefaultClientAccessTimeout = 10 * time.Second
	DefaultRequestLimit        = 3
	DefaultRequestBufferSize   = 16

	DefaultBackoffInitialDelay = 1000 * time.Millisecond
	DefaultBackoffMaxDelay     = 64000 * time.Millisecond
	DefaultBackoffCoefficient  = 2
)

// ExponentialBackoff governs reconnects to the binary port.
type ExponentialBackoff struct {
	// InitialDelay before the first re-connect attempt
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	// MaxDelay between re-connect attempts
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	// Coefficient multiplies the previous delay
	Coefficient uint64                `mapstructure:"coefficient" yaml:"coefficient"`
	MaxAttempts reconnect.MaxAttempts `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// ProxyConfig describes how to reach the node's binary port.
type ProxyConfig struct {
	// Address of the node (host:port)
	Address string `mapstructure:"address" yaml:"address"`
	// MaxMessageSize in bytes
	MaxMessageSize uint32 `mapstructure:"max_message_size" yaml:"max_message_size"`
	// MessageTimeout bounds a single message transfer
	MessageTimeout time.Duration `mapstructure:"message_timeout" yaml:"message_timeout"`
	// ClientAccessTimeout bounds the wait for the shared client, and each dial
	ClientAccessTimeout time.Duration `mapstructure:"client_access_timeout" yaml:"client_access_timeout"`
	// RequestLimit is the maximum number of in-flight requests
	RequestLimit uint16 `mapstructure:"request_limit" yaml:"request_limit"`
	// RequestBufferSize is the number of requests that can be queued
	RequestBufferSize int `mapstructure:"request_buffer_size" yaml:"request_buffer_size"`

	ExponentialBackoff ExponentialBackoff `mapstructure:"exponential_backoff" yaml:"exponential_backoff"`
}

// DefaultProxyConfig returns the stock binary port settings.
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		Address:             DefaultAddress,
		MaxMessageSize:      DefaultMaxMessageSize,
		MessageTimeout:      DefaultMessageTimeout,
		ClientAccessTimeout: DefaultClientAccessTimeout,
		RequestLimit:        DefaultRequestLimit,
		RequestBufferSize:   DefaultRequestBufferSize,
		ExponentialBackoff: ExponentialBackoff{
			InitialDelay: DefaultBackoffInitialDelay,
			MaxDelay:     DefaultBackoffMaxDelay,
			Coefficient:  DefaultBackoffCoefficient,
			MaxAttempts:  reconnect.Infinite(),
		},
	}
}

// SetDefaults fills zero fields with defaults.
func (c *ProxyConfig) SetDefaults() {
	def := DefaultProxyConfig()
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.MessageTimeout == 0 {
		c.MessageTimeout = def.MessageTimeout
	}
	if c.ClientAccessTimeout == 0 {
		c.ClientAccessTimeout = def.ClientAccessTimeout
	}
	if c.RequestLimit == 0 {
		c.RequestLimit = def.RequestLimit
	}
	if c.RequestBufferSize == 0 {
		c.RequestBufferSize = def.RequestBufferSize
	}
	if c.ExponentialBackoff.InitialDelay == 0 {
		c.ExponentialBackoff.InitialDelay = def.ExponentialBackoff.InitialDelay
	}
	if c.ExponentialBackoff.MaxDelay == 0 {
		c.ExponentialBackoff.MaxDelay = def.ExponentialBackoff.MaxDelay
	}
	if c.ExponentialBackoff.Coefficient == 0 {
		c.ExponentialBackoff.Coefficient = def.ExponentialBackoff.Coefficient
	}
}

// Validate checks the configuration.
func (c ProxyConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("invalid address %q: %w", c.Address, err)
	}
	if c.MaxMessageSize == 0 {
		return errors.New("max message size must be positive")
	}
	if c.MessageTimeout <= 0 {
		return errors.New("message timeout must be positive")
	}
	if c.ClientAccessTimeout <= 0 {
		return errors.New("client access timeout must be positive")
	}
	if c.RequestLimit == 0 {
		return errors.New("request limit must be at least 1")
	}
	if c.RequestBufferSize < 0 {
		return errors.New("request buffer size cannot be negative")
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid exponential backoff: %w", err)
	}
	return nil
}

// Policy expresses the backoff settings as a reconnect policy.
func (c ProxyConfig) Policy() reconnect.Policy {
	b := c.ExponentialBackoff
	return reconnect.Policy{
		BackoffFactor:          float64(b.Coefficient),
		InitialDelay:           b.InitialDelay,
		MaxDelay:               b.MaxDelay,
		ReconnectOnStreamError: true,
		RetryInitialConnect:    true,
		MaxAttempts:            b.MaxAttempts,
	}
}
