// Package session persists serialized executor state between runs.
//
// A Manager stores opaque state blobs under caller-chosen keys. Graph and
// swarm executors save their state after every node completion and at the
// end of a run, so an interrupted run can be reloaded and resumed later.
// Managers are hook providers so an implementation can also observe the
// lifecycle of the executors it persists.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/haasonsaas/loom/pkg/hooks"
)

// ErrNotFound is returned by Load when no state exists under the key.
var ErrNotFound = errors.New("session: state not found")

// Manager stores serialized executor state.
type Manager interface {
	hooks.Provider

	// Save persists state under key, replacing any previous value.
	Save(ctx context.Context, key string, state json.RawMessage) error

	// Load returns the state stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) (json.RawMessage, error)
}

// InMemory is a map-backed Manager for tests and local runs.
type InMemory struct {
	mu     sync.RWMutex
	states map[string]json.RawMessage
}

// NewInMemory creates an empty in-memory manager.
func NewInMemory() *InMemory {
	return &InMemory{states: map[string]json.RawMessage{}}
}

// RegisterHooks implements hooks.Provider. The in-memory manager observes
// nothing; executors call Save directly.
func (m *InMemory) RegisterHooks(*hooks.Registry) {}

func (m *InMemory) Save(ctx context.Context, key string, state json.RawMessage) error {
	if key == "" {
		return errors.New("session: key is required")
	}
	clone := make(json.RawMessage, len(state))
	copy(clone, state)
	m.mu.Lock()
	m.states[key] = clone
	m.mu.Unlock()
	return nil
}

func (m *InMemory) Load(ctx context.Context, key string) (json.RawMessage, error) {
	m.mu.RLock()
	state, ok := m.states[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	clone := make(json.RawMessage, len(state))
	copy(clone, state)
	return clone, nil
}

// Delete removes the state stored under key, if any.
func (m *InMemory) Delete(key string) {
	m.mu.Lock()
	delete(m.states, key)
	m.mu.Unlock()
}

// Len reports how many states are stored.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
