// Package eventstream opens a node's server-sent event stream, validates the
// version handshake and pulls decoded envelopes from it.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blang/semver/v4"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
)

// State of a Manager's connection.
type State int

const (
	Disconnected State = iota
	Handshaking
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TokenSource supplies the bearer token sent with the stream request.
type TokenSource interface {
	Token() (string, error)
}

// Config configures a Manager.
type Config struct {
	// URL of the node's event stream endpoint
	URL string

	// HTTPClient used for the stream request. It must not set a Timeout, which
	// would cut off the long-lived response body.
	HTTPClient *http.Client

	// Tokens is optional. When set, every connect sends Authorization: Bearer.
	Tokens TokenSource

	// HandshakeTimeout bounds the wait for the first event (0 = no limit)
	HandshakeTimeout time.Duration

	// MaxMessageSize caps one stream message in bytes (0 = DefaultMaxMessageSize).
	// A larger message ends the connection with a *ConnectionError.
	MaxMessageSize int

	Logger zerolog.Logger
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("stream URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid stream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid stream URL scheme %q", u.Scheme)
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("handshake timeout cannot be negative")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size cannot be negative")
	}
	return nil
}

// Manager owns at most one live stream. It is not safe for concurrent use;
// the client actor is its only caller.
type Manager struct {
	cfg     Config
	state   State
	stream  *Stream
	version semver.Version
}

// NewManager validates cfg and returns a disconnected Manager.
func NewManager(cfg Config) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

func (m *Manager) State() State { return m.state }

func (m *Manager) URL() string { return m.cfg.URL }

// ProtocolVersion returns the version announced by the current connection's
// handshake, or the zero version while disconnected.
func (m *Manager) ProtocolVersion() semver.Version { return m.version }

// Stream returns the live stream handle, or nil while disconnected.
func (m *Manager) Stream() *Stream { return m.stream }

// Connect opens the stream and requires the first event to be ApiVersion.
// ctx bounds the handshake only; once connected the stream lives until
// Disconnect. On any failure the Manager is left Disconnected.
func (m *Manager) Connect(ctx context.Context) (events.Envelope, error) {
	if m.state != Disconnected {
		return events.Envelope{}, ErrAlreadyConnected
	}
	m.state = Handshaking

	stream, handshake, err := m.open(ctx)
	if err != nil {
		m.state = Disconnected
		m.cfg.Logger.Debug().Err(err).Str("url", m.cfg.URL).Msg("Connect failed")
		return events.Envelope{}, err
	}

	version, err := handshake.ProtocolVersion()
	if err != nil {
		stream.Close()
		m.state = Disconnected
		return events.Envelope{}, fmt.Errorf("%w: %w", ErrInvalidHandshake, err)
	}

	m.stream = stream
	m.version = version
	m.state = Connected
	m.cfg.Logger.Info().
		Str("url", m.cfg.URL).
		Str("protocol_version", version.String()).
		Msg("Event stream connected")
	return handshake, nil
}

func (m *Manager) open(ctx context.Context) (*Stream, events.Envelope, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopCtxWatch := context.AfterFunc(ctx, cancel)
	defer stopCtxWatch()

	var timedOut atomic.Bool
	if m.cfg.HandshakeTimeout > 0 {
		timer := time.AfterFunc(m.cfg.HandshakeTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	// classify maps a failure caused by our own cancellation to its cause
	classify := func(err error, status int) error {
		switch {
		case timedOut.Load():
			return &ConnectionError{URL: m.cfg.URL, Err: ErrHandshakeTimeout}
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return &ConnectionError{URL: m.cfg.URL, StatusCode: status, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, m.cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, events.Envelope{}, &ConnectionError{URL: m.cfg.URL, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if m.cfg.Tokens != nil {
		token, err := m.cfg.Tokens.Token()
		if err != nil {
			cancel()
			return nil, events.Envelope{}, &ConnectionError{URL: m.cfg.URL, Err: fmt.Errorf("bearer token: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return nil, events.Envelope{}, classify(err, 0)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, events.Envelope{}, classify(
			fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))), resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		m.cfg.Logger.Warn().Str("content_type", ct).Msg("Stream response has unexpected content type")
	}

	stream := &Stream{
		url:    m.cfg.URL,
		body:   resp.Body,
		dec:    NewDecoder(resp.Body, m.cfg.MaxMessageSize),
		cancel: cancel,
	}

	msg, err := stream.dec.Decode()
	if err != nil {
		stream.Close()
		if errors.Is(err, io.EOF) && !timedOut.Load() && ctx.Err() == nil {
			return nil, events.Envelope{}, ErrUnexpectedEndOfStream
		}
		return nil, events.Envelope{}, classify(err, 0)
	}

	handshake, err := events.Decode(msg.Data)
	if err != nil {
		stream.Close()
		return nil, events.Envelope{}, fmt.Errorf("%w: %w", ErrInvalidHandshake, err)
	}
	if handshake.Type() != events.ApiVersion {
		stream.Close()
		return nil, events.Envelope{}, fmt.Errorf("%w: first event was %s", ErrInvalidHandshake, handshake.Name())
	}
	return stream, handshake, nil
}

// Next pulls the next envelope from the live stream. It blocks until one
// arrives. See Stream.Next for the error mapping.
func (m *Manager) Next() (events.Envelope, error) {
	if m.state != Connected || m.stream == nil {
		return events.Envelope{}, ErrNotConnected
	}
	return m.stream.Next()
}

// Disconnect closes the live stream and returns to Disconnected.
func (m *Manager) Disconnect() error {
	if m.state != Connected || m.stream == nil {
		return ErrNotConnected
	}
	m.stream.Close()
	m.stream = nil
	m.version = semver.Version{}
	m.state = Disconnected
	m.cfg.Logger.Info().Str("url", m.cfg.URL).Msg("Event stream disconnected")
	return nil
}

// Stream is a live, post-handshake event stream. Next may be called from one
// goroutine while Close is called from another.
type Stream struct {
	url    string
	body   io.ReadCloser
	dec    *Decoder
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    atomic.Bool
}

// Next blocks for the next envelope. It returns ErrStreamExhausted when the
// node ends the response, a *ConnectionError for transport failures and a
// *events.DecodingError for a malformed message. Only a DecodingError leaves
// the stream usable.
func (s *Stream) Next() (events.Envelope, error) {
	msg, err := s.dec.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) && !s.closed.Load() {
			return events.Envelope{}, ErrStreamExhausted
		}
		return events.Envelope{}, &ConnectionError{URL: s.url, Err: err}
	}
	return events.Decode(msg.Data)
}

// Close releases the transport. It is idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.body.Close()
	})
}
