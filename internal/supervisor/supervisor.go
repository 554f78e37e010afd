// Package supervisor keeps an event stream connected according to a
// reconnect.Policy.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/nodestream-go/internal/core"
	"github.com/rmacdonaldsmith/nodestream-go/internal/eventstream"
	"github.com/rmacdonaldsmith/nodestream-go/internal/metrics"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/reconnect"
)

// Connector is the part of the client the supervisor drives.
type Connector interface {
	Connect(ctx context.Context) error
	ConnectionLost() <-chan error
	Disconnected() <-chan struct{}
	Done() <-chan struct{}
}

// RetriesExhaustedError is returned when a finite MaxAttempts is used up.
type RetriesExhaustedError struct {
	Attempts uint64
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d connection attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithSleep replaces the wait between attempts. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// Supervisor runs the reconnect loop.
type Supervisor struct {
	conn    Connector
	policy  reconnect.Policy
	log     zerolog.Logger
	metrics *metrics.Collectors
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Supervisor for conn.
func New(conn Connector, policy reconnect.Policy, opts ...Option) *Supervisor {
	s := &Supervisor{
		conn:   conn,
		policy: policy,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "supervisor").Logger()
	return s
}

// Run connects and reconnects until ctx ends, the stream is disconnected
// explicitly or the policy gives up. It always returns a non-nil error: the
// context error, core.ErrDisconnected, the client's closed error, the failure
// the policy refused to retry, or *RetriesExhaustedError.
func (s *Supervisor) Run(ctx context.Context) error {
	b := s.policy.NewBackOff()
	var attempts uint64
	connectedOnce := false

	for {
		attempts++
		err := s.conn.Connect(ctx)
		if errors.Is(err, eventstream.ErrAlreadyConnected) {
			err = nil
		}

		if err == nil {
			connectedOnce = true
			attempts = 0
			b.Reset()
			s.log.Info().Msg("Stream connected")

			lost, err := s.waitForLoss(ctx)
			if err != nil {
				return err
			}
			if !s.policy.ReconnectOnStreamError {
				return lost
			}

			delay := b.NextBackOff()
			s.log.Warn().Err(lost).Dur("delay", delay).Msg("Stream lost, reconnecting")
			if err := s.wait(ctx, delay); err != nil {
				return err
			}
			continue
		}

		if terminal(ctx, err) {
			return err
		}
		if !connectedOnce && !s.policy.RetryInitialConnect {
			return err
		}
		if !s.policy.MaxAttempts.CanAttempt(attempts + 1) {
			s.log.Error().Err(err).Uint64("attempt", attempts).Msg("Giving up on stream")
			return &RetriesExhaustedError{Attempts: attempts, Last: err}
		}

		delay := b.NextBackOff()
		s.log.Warn().Err(err).Uint64("attempt", attempts).Dur("delay", delay).Msg("Connect failed, retrying")
		if err := s.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Supervisor) waitForLoss(ctx context.Context) (lost error, stop error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.conn.Done():
		return nil, core.ErrCommandChannelClosed
	case <-s.conn.Disconnected():
		s.log.Info().Msg("Stream disconnected, supervision stopped")
		return nil, core.ErrDisconnected
	case lost := <-s.conn.ConnectionLost():
		return lost, nil
	}
}

func (s *Supervisor) wait(ctx context.Context, d time.Duration) error {
	s.metrics.ObserveBackoff(d)
	return s.sleep(ctx, d)
}

// terminal errors end the loop regardless of policy
func terminal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, core.ErrCommandChannelClosed) ||
		errors.Is(err, core.ErrAckLost)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
