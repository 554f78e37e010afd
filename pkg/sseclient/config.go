package sseclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/nodestream-go/internal/core"
	"github.com/rmacdonaldsmith/nodestream-go/internal/eventstream"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/reconnect"
)

// Defaults
const (
	DefaultURL           = "http://localhost:18101/events"
	DefaultCommandBuffer = core.DefaultCommandBuffer
	// DefaultMaxMessageSize caps one stream message in bytes
	DefaultMaxMessageSize = eventstream.DefaultMaxMessageSize
)

// Config configures a Client.
type Config struct {
	// URL of the node's event stream
	URL string

	// ClientID and SecretKey mint a short-lived HS256 bearer token for every
	// connect. Token sends a fixed bearer token instead. Leave all empty for
	// an unauthenticated stream.
	ClientID  string
	SecretKey string
	Token     string

	// HTTPClient for the stream request. It must not set a Timeout.
	HTTPClient *http.Client

	// CommandBuffer is the capacity of the actor's command channel
	CommandBuffer int

	// HandshakeTimeout bounds the wait for the first event (0 = no limit)
	HandshakeTimeout time.Duration

	// MaxMessageSize caps one stream message in bytes. A larger message ends
	// the connection with a ConnectionError wrapping ErrMessageTooLarge.
	MaxMessageSize int

	// StrictDecoding ends the connection on a malformed message instead of
	// skipping it
	StrictDecoding bool

	// Reconnect is the policy used by Supervise
	Reconnect reconnect.Policy

	// Logger defaults to a no-op logger
	Logger *zerolog.Logger

	// Registerer receives the client's prometheus collectors. Nil disables
	// metrics.
	Registerer prometheus.Registerer

	// OnHandlerFault is called on the actor goroutine when a handler panics
	OnHandlerFault func(HandlerFault)

	// OnStateChange is called on the actor goroutine on every state change
	OnStateChange func(State)

	// OnDecodeError is called on the actor goroutine for every malformed
	// message skipped. It is not called under StrictDecoding.
	OnDecodeError func(*DecodingError)
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = DefaultCommandBuffer
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Reconnect == (reconnect.Policy{}) {
		c.Reconnect = reconnect.DefaultPolicy()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("URL is required")
	}
	if c.Token != "" && (c.ClientID != "" || c.SecretKey != "") {
		return errors.New("token and client credentials are mutually exclusive")
	}
	if (c.ClientID == "") != (c.SecretKey == "") {
		return errors.New("client ID and secret key must be set together")
	}
	if c.HTTPClient != nil && c.HTTPClient.Timeout != 0 {
		return errors.New("HTTP client timeout would cut off the event stream")
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("handshake timeout cannot be negative")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size cannot be negative")
	}
	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("invalid reconnect policy: %w", err)
	}
	return nil
}
