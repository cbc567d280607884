// Package hooks is the typed event bus the agent loop and multi-agent
// executors dispatch lifecycle events through. Callbacks subscribe per event
// type; a callback error aborts the dispatch and surfaces to the caller.
package hooks

import (
	"context"
	"reflect"
	"sync"
)

// Event is a lifecycle event. Implementations are pointer types so before*
// callbacks can mutate the event in place.
type Event interface {
	isHookEvent()
}

// ReverseCallbacks marks events whose callbacks run in reverse registration
// order. After* events implement it so paired before/after providers nest.
type ReverseCallbacks interface {
	ReverseCallbacks() bool
}

// Callback handles one event type. Returning an error aborts the dispatch
// and propagates to the operation that raised the event.
type Callback[E Event] func(ctx context.Context, event E) error

// Provider registers a set of callbacks. Tools and session managers
// implement it to attach themselves to an agent.
type Provider interface {
	RegisterHooks(r *Registry)
}

// Registry holds callbacks keyed by event type.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[reflect.Type][]func(ctx context.Context, event Event) error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[reflect.Type][]func(ctx context.Context, event Event) error)}
}

// On subscribes cb to events of type E. Callbacks for one event type run in
// registration order unless the event reverses it.
func On[E Event](r *Registry, cb Callback[E]) {
	var zero E
	key := reflect.TypeOf(zero)
	wrapped := func(ctx context.Context, event Event) error {
		return cb(ctx, event.(E))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[key] = append(r.callbacks[key], wrapped)
}

// AddProvider lets p register its callbacks.
func (r *Registry) AddProvider(p Provider) {
	if p == nil {
		return
	}
	p.RegisterHooks(r)
}

// Count reports how many callbacks are subscribed to the event's type.
func (r *Registry) Count(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks[reflect.TypeOf(event)])
}

// Dispatch invokes the callbacks subscribed to the event's type and stops
// at the first error.
func (r *Registry) Dispatch(ctx context.Context, event Event) error {
	r.mu.RLock()
	registered := r.callbacks[reflect.TypeOf(event)]
	cbs := make([]func(ctx context.Context, event Event) error, len(registered))
	copy(cbs, registered)
	r.mu.RUnlock()

	if rev, ok := event.(ReverseCallbacks); ok && rev.ReverseCallbacks() {
		for i := len(cbs) - 1; i >= 0; i-- {
			if err := cbs[i](ctx, event); err != nil {
				return err
			}
		}
		return nil
	}
	for _, cb := range cbs {
		if err := cb(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
