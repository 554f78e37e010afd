// Package core implements the event stream client actor: a single goroutine
// that owns the connection manager and handler registry and applies commands
// sent by any number of callers.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/nodestream-go/internal/eventstream"
	"github.com/rmacdonaldsmith/nodestream-go/internal/metrics"
	"github.com/rmacdonaldsmith/nodestream-go/internal/registry"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
)

// DefaultCommandBuffer is the command channel capacity when none is set.
const DefaultCommandBuffer = 32

// Config configures an Actor.
type Config struct {
	// Manager is the connection manager the actor will own. Required.
	Manager *eventstream.Manager

	// CommandBuffer is the command channel capacity. A full channel makes
	// callers wait; commands are never dropped.
	CommandBuffer int

	// StrictDecoding makes a malformed stream message fatal for the
	// connection instead of being skipped.
	StrictDecoding bool

	Logger  zerolog.Logger
	Metrics *metrics.Collectors

	// OnHandlerFault, OnStateChange and OnDecodeError run on the actor
	// goroutine and must not block or call back into the actor.
	OnHandlerFault func(registry.HandlerFault)
	OnStateChange  func(eventstream.State)
	// OnDecodeError receives messages skipped because they could not be
	// decoded. Under StrictDecoding the error ends the connection instead.
	OnDecodeError func(*events.DecodingError)
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = DefaultCommandBuffer
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Manager == nil {
		return errors.New("connection manager is required")
	}
	return nil
}

// Status is a snapshot of the actor's state.
type Status struct {
	State            eventstream.State
	ProtocolVersion  string
	Handlers         int
	EventsDispatched uint64
	ConnectedAt      time.Time
	LastError        error
}

// Actor serializes every mutation of connection and registry state through
// its command channel. Public methods may be called from any goroutine.
type Actor struct {
	cfg      Config
	log      zerolog.Logger
	metrics  *metrics.Collectors
	manager  *eventstream.Manager
	registry *registry.Registry

	commands chan command
	done     chan struct{}
	lost     chan error
	// signalled by an explicit Disconnect of a live stream
	disconnected chan struct{}
	started      atomic.Bool

	// owned by the run loop
	pump        *pump
	dispatched  uint64
	connectedAt time.Time
	lastErr     error
}

// NewActor creates an actor. Call Start to run it.
func NewActor(cfg Config) (*Actor, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid actor config: %w", err)
	}

	return &Actor{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "actor").Logger(),
		metrics:  cfg.Metrics,
		manager:  cfg.Manager,
		registry: registry.New(),
		commands: make(chan command, cfg.CommandBuffer),
		done:     make(chan struct{}),
		lost:     make(chan error, 1),

		disconnected: make(chan struct{}, 1),
	}, nil
}

// Start runs the actor loop until ctx is cancelled.
func (a *Actor) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go a.run(ctx)
	return nil
}

// Done is closed once the actor has stopped.
func (a *Actor) Done() <-chan struct{} { return a.done }

// ConnectionLost yields the error that ended the most recent connection when
// it ended on its own (not via Disconnect). Only the latest loss is kept.
func (a *Actor) ConnectionLost() <-chan error { return a.lost }

// Disconnected receives a value when Disconnect closes a live stream. A
// signal not taken before the next successful Connect is discarded.
func (a *Actor) Disconnected() <-chan struct{} { return a.disconnected }

// Connect opens the stream and validates the handshake. It blocks for the
// whole handshake; ctx can abort it.
func (a *Actor) Connect(ctx context.Context) error {
	ack := make(chan error, 1)
	err, callErr := call(ctx, a, connectCmd{ctx: ctx, ack: ack}, ack)
	if callErr != nil {
		return callErr
	}
	return err
}

// Register adds a handler and returns its id. Registrations survive
// reconnects. If ctx ends after the command was queued, the registration is
// removed again once the actor gets to it.
func (a *Actor) Register(ctx context.Context, t events.EventType, h registry.Handler, opts ...registry.Option) (uint64, error) {
	ack := make(chan uint64, 1)
	cmd := registerCmd{eventType: t, handler: h, opts: opts, ack: ack}
	if err := a.send(ctx, cmd); err != nil {
		return 0, err
	}
	id, err := await(ctx, a, ack)
	if err != nil && ctx.Err() != nil {
		go a.rollback(ack)
	}
	return id, err
}

func (a *Actor) rollback(ack <-chan uint64) {
	select {
	case id := <-ack:
		_, _ = a.Remove(context.Background(), id)
	case <-a.done:
	}
}

// Remove deletes a handler. It reports whether the id was registered.
func (a *Actor) Remove(ctx context.Context, id uint64) (bool, error) {
	ack := make(chan bool, 1)
	return call(ctx, a, removeCmd{id: id, ack: ack}, ack)
}

// Disconnect closes the live stream. Termination hooks receive
// ErrDisconnected; ConnectionLost does not fire.
func (a *Actor) Disconnect(ctx context.Context) error {
	ack := make(chan error, 1)
	err, callErr := call(ctx, a, disconnectCmd{ack: ack}, ack)
	if callErr != nil {
		return callErr
	}
	return err
}

// Status returns a snapshot of the actor's state.
func (a *Actor) Status(ctx context.Context) (Status, error) {
	ack := make(chan Status, 1)
	return call(ctx, a, statusCmd{ack: ack}, ack)
}

func call[T any](ctx context.Context, a *Actor, cmd command, ack <-chan T) (T, error) {
	if err := a.send(ctx, cmd); err != nil {
		var zero T
		return zero, err
	}
	return await(ctx, a, ack)
}

func (a *Actor) send(ctx context.Context, cmd command) error {
	select {
	case <-a.done:
		return ErrCommandChannelClosed
	default:
	}

	select {
	case a.commands <- cmd:
		return nil
	case <-a.done:
		return ErrCommandChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, a *Actor, ack <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ack:
		return v, nil
	case <-a.done:
		// the final command may have been acked just before shutdown
		select {
		case v := <-ack:
			return v, nil
		default:
			return zero, ErrAckLost
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (a *Actor) run(ctx context.Context) {
	defer a.shutdown()
	a.log.Debug().Msg("Actor started")

	for {
		// nil while disconnected, so only commands are serviced
		var items <-chan item
		if a.pump != nil {
			items = a.pump.items
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-a.commands:
			cmd.apply(ctx, a)
		case it := <-items:
			a.handleItem(it)
		}
	}
}

func (a *Actor) connect(runCtx, callerCtx context.Context) error {
	if a.manager.State() != eventstream.Disconnected {
		return eventstream.ErrAlreadyConnected
	}

	// signals from an earlier connection are stale once we reconnect
	select {
	case <-a.lost:
	default:
	}
	select {
	case <-a.disconnected:
	default:
	}

	ctx, cancel := context.WithCancel(callerCtx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	a.notifyState(eventstream.Handshaking)
	if _, err := a.manager.Connect(ctx); err != nil {
		a.metrics.ConnectAttempt(metrics.ResultFailure)
		a.lastErr = err
		a.notifyState(eventstream.Disconnected)
		a.log.Warn().Err(err).Str("url", a.manager.URL()).Msg("Connect failed")
		return err
	}

	a.pump = startPump(a.manager.Stream())
	a.connectedAt = time.Now()
	a.lastErr = nil
	a.metrics.ConnectAttempt(metrics.ResultSuccess)
	a.metrics.SetConnected(true)
	a.notifyState(eventstream.Connected)
	return nil
}

func (a *Actor) disconnect() error {
	if a.manager.State() != eventstream.Connected {
		return eventstream.ErrNotConnected
	}
	a.closeConnection()
	a.registry.Terminate(ErrDisconnected)
	a.metrics.ConnectionLost(Reason(ErrDisconnected))

	select {
	case a.disconnected <- struct{}{}:
	default:
	}
	return nil
}

func (a *Actor) handleItem(it item) {
	if it.err != nil {
		var derr *events.DecodingError
		if errors.As(it.err, &derr) {
			a.metrics.DecodeError()
			if !a.cfg.StrictDecoding {
				a.log.Warn().Err(it.err).Msg("Skipping malformed stream message")
				if a.cfg.OnDecodeError != nil {
					a.cfg.OnDecodeError(derr)
				}
				return
			}
		}
		a.fail(it.err)
		return
	}

	env := it.env
	t := env.Type()
	a.metrics.EventReceived(t.String())

	switch t {
	case events.ApiVersion:
		a.fail(fmt.Errorf("%w: %s", ErrUnexpectedHandshake, env))
	case events.Shutdown:
		a.fail(ErrNodeShutdown)
	default:
		a.dispatch(t, env)
	}
}

func (a *Actor) dispatch(t events.EventType, env events.Envelope) {
	n := a.registry.CountFor(t)
	faults := a.registry.Dispatch(t, env)
	a.dispatched++
	a.metrics.HandlersInvoked(t.String(), n)

	for _, fault := range faults {
		a.metrics.HandlerPanicked(t.String())
		a.log.Error().
			Uint64("handler_id", fault.ID).
			Str("event_type", t.String()).
			Interface("panic", fault.Panic).
			Msg("Handler panicked")
		if a.cfg.OnHandlerFault != nil {
			a.cfg.OnHandlerFault(fault)
		}
	}
}

// fail ends the current connection after a fatal stream condition. The actor
// keeps running and accepts a new Connect.
func (a *Actor) fail(err error) {
	a.closeConnection()
	a.lastErr = err
	a.registry.Terminate(err)
	a.metrics.ConnectionLost(Reason(err))
	a.log.Warn().Err(err).Str("url", a.manager.URL()).Msg("Event stream lost")

	// keep only the latest loss
	select {
	case <-a.lost:
	default:
	}
	a.lost <- err
}

func (a *Actor) closeConnection() {
	if a.pump != nil {
		a.pump.halt()
		a.pump = nil
	}
	if a.manager.State() == eventstream.Connected {
		_ = a.manager.Disconnect()
	}
	a.connectedAt = time.Time{}
	a.metrics.SetConnected(false)
	a.notifyState(eventstream.Disconnected)
}

func (a *Actor) status() Status {
	s := Status{
		State:            a.manager.State(),
		Handlers:         a.registry.Len(),
		EventsDispatched: a.dispatched,
		ConnectedAt:      a.connectedAt,
		LastError:        a.lastErr,
	}
	if s.State == eventstream.Connected {
		s.ProtocolVersion = a.manager.ProtocolVersion().String()
	}
	return s
}

func (a *Actor) notifyState(s eventstream.State) {
	if a.cfg.OnStateChange != nil {
		a.cfg.OnStateChange(s)
	}
}

func (a *Actor) shutdown() {
	if a.manager.State() == eventstream.Connected {
		a.closeConnection()
	}
	a.registry.Terminate(ErrClientClosed)
	a.registry.Clear()
	a.metrics.SetHandlers(0)
	close(a.done)
	a.log.Debug().Msg("Actor stopped")
}
