// Package interrupt implements the pause and resume protocol: tools and
// hooks raise named interrupts with deterministic IDs, the loop pauses the
// turn, and a later resume replays the same execution path with recorded
// responses.
package interrupt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// Origin identifies where an interrupt was raised.
type Origin string

const (
	OriginToolCall       Origin = "tool_call"
	OriginBeforeToolCall Origin = "before_tool_call"
	OriginBeforeNodeCall Origin = "before_node_call"
)

// Interrupt is a named pause point. Response stays nil until the caller
// resumes with an answer.
type Interrupt struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Reason   string          `json:"reason,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Clone copies the interrupt.
func (i *Interrupt) Clone() *Interrupt {
	if i == nil {
		return nil
	}
	out := *i
	out.Response = append(json.RawMessage(nil), i.Response...)
	return &out
}

// NewID derives the deterministic interrupt ID
// v1:<origin>:<key>:<hex(sha256(origin|key|ordinal|payload))>. The key must
// pin the logical pause point (tool-use ID or node ID) and the ordinal the
// call position within that point, so replays regenerate identical IDs.
func NewID(origin Origin, key string, ordinal int, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(origin))
	h.Write([]byte{'|'})
	h.Write([]byte(key))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(ordinal)))
	h.Write([]byte{'|'})
	h.Write(payload)
	return fmt.Sprintf("v1:%s:%s:%s", origin, key, hex.EncodeToString(h.Sum(nil)))
}

// Raised signals a fresh interrupt up the call stack. Tools and hooks must
// return it unchanged; the loop collects it and pauses the turn.
type Raised struct {
	Interrupt *Interrupt
}

func (r *Raised) Error() string {
	return fmt.Sprintf("interrupt %q raised: %s", r.Interrupt.Name, r.Interrupt.Reason)
}

// UnknownIDError reports a resume response for an ID that is not pending.
type UnknownIDError struct {
	ID string
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("unknown interrupt id %q", e.ID)
}

// Response is one resume item supplied by the caller.
type Response struct {
	InterruptID string          `json:"interruptId"`
	Response    json.RawMessage `json:"response"`
}

// Raiser issues interrupts for one pause point, numbering successive calls
// so replayed executions regenerate the same IDs in the same order.
type Raiser struct {
	state   *State
	origin  Origin
	key     string
	ordinal int
}

// NewRaiser binds a raiser to a pause point. Create a fresh raiser per
// execution attempt; the ordinal restarts with it.
func NewRaiser(state *State, origin Origin, key string) *Raiser {
	return &Raiser{state: state, origin: origin, key: key}
}

// Interrupt returns the recorded response when this pause point was already
// answered, or registers a new interrupt and returns *Raised.
func (r *Raiser) Interrupt(name, reason string) (json.RawMessage, error) {
	ordinal := r.ordinal
	r.ordinal++
	payload := append(append([]byte(name), 0), []byte(reason)...)
	id := NewID(r.origin, r.key, ordinal, payload)
	if resp, ok := r.state.ResponseFor(id); ok {
		return resp, nil
	}
	in := &Interrupt{ID: id, Name: name, Reason: reason}
	r.state.Raise(in)
	return nil, &Raised{Interrupt: in}
}
