package interrupt

import (
	"encoding/json"
	"fmt"
	"sync"
)

// State tracks pending interrupts and the paused turn's context for one
// agent. It activates on the first raise and clears only after a fully
// successful resume.
type State struct {
	mu         sync.Mutex
	activated  bool
	interrupts map[string]*Interrupt
	order      []string
	context    map[string]json.RawMessage
}

// NewState returns an empty interrupt state.
func NewState() *State {
	return &State{
		interrupts: make(map[string]*Interrupt),
		context:    make(map[string]json.RawMessage),
	}
}

// Activated reports whether interrupts are awaiting responses.
func (s *State) Activated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activated
}

// Raise records an interrupt and activates the state. Raising an ID that
// already exists keeps the existing entry (idempotent replay).
func (s *State) Raise(in *Interrupt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = true
	if _, ok := s.interrupts[in.ID]; ok {
		return
	}
	s.interrupts[in.ID] = in.Clone()
	s.order = append(s.order, in.ID)
}

// Get returns a copy of the interrupt with the given ID.
func (s *State) Get(id string) (*Interrupt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.interrupts[id]
	if !ok {
		return nil, false
	}
	return in.Clone(), true
}

// Pending returns copies of unanswered interrupts in raise order.
func (s *State) Pending() []*Interrupt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Interrupt
	for _, id := range s.order {
		if in := s.interrupts[id]; in.Response == nil {
			out = append(out, in.Clone())
		}
	}
	return out
}

// Resolve records the caller's response for a pending interrupt.
func (s *State) Resolve(id string, response json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.interrupts[id]
	if !ok {
		return &UnknownIDError{ID: id}
	}
	in.Response = append(json.RawMessage(nil), response...)
	if in.Response == nil {
		// A JSON null response still counts as answered.
		in.Response = json.RawMessage("null")
	}
	return nil
}

// ResponseFor returns the recorded response for an ID, if answered.
func (s *State) ResponseFor(id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.interrupts[id]
	if !ok || in.Response == nil {
		return nil, false
	}
	return append(json.RawMessage(nil), in.Response...), true
}

// SetContext preserves an opaque value for the paused turn, keyed by the
// pause point (for example tool_result:<toolUseId>).
func (s *State) SetContext(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context[key] = append(json.RawMessage(nil), value...)
}

// Context returns a preserved value.
func (s *State) Context(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.context[key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), v...), true
}

// Reset clears everything after a fully successful resume.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = false
	s.interrupts = make(map[string]*Interrupt)
	s.order = nil
	s.context = make(map[string]json.RawMessage)
}

type stateSnapshot struct {
	Activated  bool                       `json:"activated"`
	Interrupts map[string]*Interrupt      `json:"interrupts,omitempty"`
	Order      []string                   `json:"order,omitempty"`
	Context    map[string]json.RawMessage `json:"context,omitempty"`
}

// Snapshot serializes the state for multi-agent persistence.
func (s *State) Snapshot() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := stateSnapshot{
		Activated:  s.activated,
		Interrupts: s.interrupts,
		Order:      s.order,
		Context:    s.context,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot interrupt state: %w", err)
	}
	return data, nil
}

// Restore replaces the state with a snapshot.
func (s *State) Restore(data json.RawMessage) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("restore interrupt state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = snap.Activated
	s.interrupts = snap.Interrupts
	if s.interrupts == nil {
		s.interrupts = make(map[string]*Interrupt)
	}
	s.order = snap.Order
	s.context = snap.Context
	if s.context == nil {
		s.context = make(map[string]json.RawMessage)
	}
	return nil
}
