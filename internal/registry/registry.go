// Package registry maps event types to ordered handler registrations.
//
// A Registry is not safe for concurrent use. It is owned by the client actor
// and only touched from the actor's goroutine.
package registry

import (
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
)

// Handler receives a dispatched envelope.
type Handler func(events.Envelope)

// HandlerFault describes a handler that panicked during dispatch. The panic is
// contained; remaining handlers for the same event still run.
type HandlerFault struct {
	ID    uint64
	Type  events.EventType
	Panic any
	Stack []byte
}

func (f HandlerFault) Error() string {
	return fmt.Sprintf("handler %d for %s panicked: %v", f.ID, f.Type, f.Panic)
}

// Unwrap exposes the panic value when it was an error.
func (f HandlerFault) Unwrap() error {
	if err, ok := f.Panic.(error); ok {
		return err
	}
	return nil
}

type registration struct {
	id      uint64
	handler Handler
	onTerm  func(error)
}

// Option customises a single registration.
type Option func(*registration)

// WithTerminationHook attaches a callback that runs when the registry is
// terminated with an error, e.g. because the connection the handler was
// waiting on failed. The hook must not block.
func WithTerminationHook(fn func(error)) Option {
	return func(r *registration) {
		r.onTerm = fn
	}
}

// Registry holds handler registrations keyed by event type, plus an id->type
// index so removal does not scan every type.
type Registry struct {
	byType map[events.EventType][]*registration
	byID   map[uint64]events.EventType
	lastID uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byType: make(map[events.EventType][]*registration),
		byID:   make(map[uint64]events.EventType),
	}
}

// Register appends a handler for t and returns its id. Ids start at 1, grow
// strictly and are never reused, even after Remove or Clear.
func (r *Registry) Register(t events.EventType, h Handler, opts ...Option) uint64 {
	r.lastID++
	reg := &registration{id: r.lastID, handler: h}
	for _, opt := range opts {
		opt(reg)
	}
	r.byType[t] = append(r.byType[t], reg)
	r.byID[reg.id] = t
	return reg.id
}

// Remove deletes the registration with the given id. It reports whether a
// registration existed; removing twice returns false the second time.
func (r *Registry) Remove(id uint64) bool {
	t, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	regs := r.byType[t]
	for i, reg := range regs {
		if reg.id != id {
			continue
		}
		// copy so a dispatch snapshot taken earlier is not disturbed
		next := make([]*registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(r.byType, t)
		} else {
			r.byType[t] = next
		}
		break
	}
	return true
}

// Dispatch invokes every handler registered for t, in registration order.
// Handlers registered or removed by a running handler take effect from the
// next dispatch. Panics are recovered per handler and returned as faults.
func (r *Registry) Dispatch(t events.EventType, env events.Envelope) []HandlerFault {
	regs := r.byType[t]
	var faults []HandlerFault
	for _, reg := range regs {
		if fault, ok := invoke(t, reg, env); !ok {
			faults = append(faults, fault)
		}
	}
	return faults
}

func invoke(t events.EventType, reg *registration, env events.Envelope) (fault HandlerFault, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			fault = HandlerFault{ID: reg.id, Type: t, Panic: p, Stack: debug.Stack()}
			ok = false
		}
	}()
	reg.handler(env)
	return HandlerFault{}, true
}

// Terminate runs every registration's termination hook with err. The
// registrations themselves are kept.
func (r *Registry) Terminate(err error) {
	for _, regs := range r.byType {
		for _, reg := range regs {
			if reg.onTerm != nil {
				reg.onTerm(err)
			}
		}
	}
}

// Len returns the number of live registrations.
func (r *Registry) Len() int { return len(r.byID) }

// CountFor returns the number of registrations for t.
func (r *Registry) CountFor(t events.EventType) int { return len(r.byType[t]) }

// Has reports whether id is registered.
func (r *Registry) Has(id uint64) bool {
	_, ok := r.byID[id]
	return ok
}

// IDs returns the live registration ids in ascending order.
func (r *Registry) IDs() []uint64 {
	ids := make([]uint64, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear drops every registration. The id sequence continues.
func (r *Registry) Clear() {
	r.byType = make(map[events.EventType][]*registration)
	r.byID = make(map[uint64]events.EventType)
}
