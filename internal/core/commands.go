package core

import (
	"context"

	"github.com/rmacdonaldsmith/nodestream-go/internal/registry"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
)

// command is applied by the actor goroutine. Every command carries a
// buffered(1) ack channel so applying it never blocks the actor.
type command interface {
	apply(ctx context.Context, a *Actor)
}

type connectCmd struct {
	ctx context.Context
	ack chan error
}

func (c connectCmd) apply(ctx context.Context, a *Actor) {
	c.ack <- a.connect(ctx, c.ctx)
}

type registerCmd struct {
	eventType events.EventType
	handler   registry.Handler
	opts      []registry.Option
	ack       chan uint64
}

func (c registerCmd) apply(_ context.Context, a *Actor) {
	id := a.registry.Register(c.eventType, c.handler, c.opts...)
	a.metrics.SetHandlers(a.registry.Len())
	a.log.Debug().Uint64("handler_id", id).Str("event_type", c.eventType.String()).Msg("Handler registered")
	c.ack <- id
}

type removeCmd struct {
	id  uint64
	ack chan bool
}

func (c removeCmd) apply(_ context.Context, a *Actor) {
	removed := a.registry.Remove(c.id)
	a.metrics.SetHandlers(a.registry.Len())
	if removed {
		a.log.Debug().Uint64("handler_id", c.id).Msg("Handler removed")
	}
	c.ack <- removed
}

type disconnectCmd struct {
	ack chan error
}

func (c disconnectCmd) apply(_ context.Context, a *Actor) {
	c.ack <- a.disconnect()
}

type statusCmd struct {
	ack chan Status
}

func (c statusCmd) apply(_ context.Context, a *Actor) {
	c.ack <- a.status()
}
