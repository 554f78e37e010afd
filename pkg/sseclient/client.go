package sseclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/nodestream-go/internal/auth"
	"github.com/rmacdonaldsmith/nodestream-go/internal/core"
	"github.com/rmacdonaldsmith/nodestream-go/internal/eventstream"
	"github.com/rmacdonaldsmith/nodestream-go/internal/metrics"
	"github.com/rmacdonaldsmith/nodestream-go/internal/registry"
	"github.com/rmacdonaldsmith/nodestream-go/internal/supervisor"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
)

type (
	// Handler is called on the client's actor goroutine for every matching
	// event. It must not block; hand slow work to another goroutine.
	Handler = registry.Handler
	// HandlerFault describes a handler that panicked
	HandlerFault = registry.HandlerFault
	State        = eventstream.State
	Status       = core.Status
)

// Connection states
const (
	Disconnected = eventstream.Disconnected
	Handshaking  = eventstream.Handshaking
	Connected    = eventstream.Connected
)

// Client is a handle on a node event stream. All methods are safe for
// concurrent use; they talk to a single actor goroutine that owns the
// connection and the registered handlers.
type Client struct {
	cfg     Config
	id      string
	log     zerolog.Logger
	metrics *metrics.Collectors
	actor   *core.Actor

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a client and starts its actor. The client is disconnected
// until Connect or Supervise is called. Call Close to release it.
func New(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	id := uuid.NewString()
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("client_instance", id).Logger()

	var m *metrics.Collectors
	if cfg.Registerer != nil {
		m = metrics.New(cfg.Registerer)
	}

	var tokens eventstream.TokenSource
	switch {
	case cfg.Token != "":
		tokens = auth.StaticToken(cfg.Token)
	case cfg.ClientID != "":
		signer, err := auth.NewSigner(cfg.ClientID, cfg.SecretKey, auth.DefaultTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create token signer: %w", err)
		}
		tokens = signer
	}

	manager, err := eventstream.NewManager(eventstream.Config{
		URL:              cfg.URL,
		HTTPClient:       cfg.HTTPClient,
		Tokens:           tokens,
		HandshakeTimeout: cfg.HandshakeTimeout,
		MaxMessageSize:   cfg.MaxMessageSize,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	actor, err := core.NewActor(core.Config{
		Manager:        manager,
		CommandBuffer:  cfg.CommandBuffer,
		StrictDecoding: cfg.StrictDecoding,
		Logger:         logger,
		Metrics:        m,
		OnHandlerFault: cfg.OnHandlerFault,
		OnStateChange:  cfg.OnStateChange,
		OnDecodeError:  cfg.OnDecodeError,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := actor.Start(ctx); err != nil {
		cancel()
		return nil, err
	}

	return &Client{
		cfg:     cfg,
		id:      id,
		log:     logger,
		metrics: m,
		actor:   actor,
		cancel:  cancel,
	}, nil
}

// InstanceID identifies this client in logs and tokens.
func (c *Client) InstanceID() string { return c.id }

// Connect opens the stream and validates the handshake. Without a
// HandshakeTimeout it may block until ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	return c.actor.Connect(ctx)
}

// On registers h for events of type t and returns the handler id. Handlers
// may be registered before connecting and survive reconnects.
func (c *Client) On(ctx context.Context, t events.EventType, h Handler) (uint64, error) {
	return c.actor.Register(ctx, t, h)
}

// RemoveHandler removes a handler by id and reports whether it existed.
func (c *Client) RemoveHandler(ctx context.Context, id uint64) (bool, error) {
	return c.actor.Remove(ctx, id)
}

// Disconnect closes the live stream. Pending WaitForEvent calls return
// ErrDisconnected.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.actor.Disconnect(ctx)
}

// Status returns a snapshot of the connection and registry.
func (c *Client) Status(ctx context.Context) (Status, error) {
	return c.actor.Status(ctx)
}

// ConnectionLost yields the error that ended the latest connection when the
// node or transport ended it.
func (c *Client) ConnectionLost() <-chan error { return c.actor.ConnectionLost() }

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.actor.Done() }

// Supervise keeps the stream connected per Config.Reconnect until ctx ends
// or the policy gives up. Disconnect on a supervised client ends Supervise
// with ErrDisconnected instead of triggering a reconnect. See
// supervisor.Supervisor.Run for the other returned errors.
func (c *Client) Supervise(ctx context.Context) error {
	return supervisor.New(c.actor, c.cfg.Reconnect,
		supervisor.WithLogger(c.log),
		supervisor.WithMetrics(c.metrics),
	).Run(ctx)
}

// WaitForEvent blocks until an event of type t satisfies predicate (nil
// matches any event), timeout elapses, ctx ends or the connection fails.
// A zero timeout waits indefinitely. On timeout it returns false and a nil
// error. The transient handler it registers is always removed before it
// returns.
func (c *Client) WaitForEvent(ctx context.Context, t events.EventType, predicate func(events.Envelope) bool, timeout time.Duration) (events.Envelope, bool, error) {
	matched := make(chan events.Envelope, 1)
	terminated := make(chan error, 1)

	handler := func(env events.Envelope) {
		if predicate != nil && !predicate(env) {
			return
		}
		// never block the actor; only the first match is kept
		select {
		case matched <- env:
		default:
		}
	}
	hook := registry.WithTerminationHook(func(err error) {
		select {
		case terminated <- err:
		default:
		}
	})

	id, err := c.actor.Register(ctx, t, handler, hook)
	if err != nil {
		return events.Envelope{}, false, err
	}
	defer func() {
		if _, err := c.actor.Remove(context.WithoutCancel(ctx), id); err != nil {
			c.log.Debug().Err(err).Uint64("handler_id", id).Msg("Transient handler not removed")
		}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case env := <-matched:
		return env, true, nil
	case err := <-terminated:
		select {
		case env := <-matched:
			return env, true, nil
		default:
		}
		return events.Envelope{}, false, err
	case <-expired:
		return events.Envelope{}, false, nil
	case <-ctx.Done():
		return events.Envelope{}, false, ctx.Err()
	case <-c.actor.Done():
		return events.Envelope{}, false, ErrClientClosed
	}
}

// Close stops the actor, closing any live stream. Pending WaitForEvent calls
// return ErrClientClosed; later calls return ErrCommandChannelClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.actor.Done()
	})
	return nil
}
