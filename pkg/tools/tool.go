// Package tools defines the tool contract and the registry the agent loop
// draws from. A tool execution is a stream of progress events plus exactly
// one terminal tool result; plain functions adapt through Func.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
)

// InterruptFunc pauses the invocation for a human response. It either
// returns the recorded response (resume replay) or an error the tool must
// return unchanged.
type InterruptFunc func(name, reason string) (json.RawMessage, error)

// Invocation carries one tool call.
type Invocation struct {
	// ToolUse is the model's request, including the parsed input.
	ToolUse *message.ToolUseBlock
	// State is caller-supplied invocation state, opaque to the runtime.
	// Multi-agent executors expose shared context here.
	State map[string]any
	// Interrupt raises a human-in-the-loop pause. Nil when the runtime
	// does not support interrupts at this call site.
	Interrupt InterruptFunc
	// Logger is a child logger scoped to the tool call.
	Logger *slog.Logger
}

// Input unmarshals the tool-use input into v.
func (inv *Invocation) Input(v any) error {
	raw := inv.ToolUse.Input
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode input for tool %q: %w", inv.ToolUse.Name, err)
	}
	return nil
}

// Tool is one callable capability advertised to the model.
type Tool interface {
	Name() string
	Description() string
	Spec() model.ToolSpec
	// Stream starts the execution. Progress arrives on Stream.Events();
	// the terminal result via Stream.Result() once the channel closes.
	Stream(ctx context.Context, inv *Invocation) *Stream
}

// EventType discriminates tool stream events.
type EventType string

// EventProgress is an intermediate progress report.
const EventProgress EventType = "progress"

// Event is one entry in a tool stream.
type Event struct {
	Type     EventType `json:"type"`
	Progress *Progress `json:"progress,omitempty"`
}

// Progress is a human-readable progress update with optional payload.
type Progress struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ProgressEvent builds a progress event.
func ProgressEvent(msg string, data json.RawMessage) Event {
	return Event{Type: EventProgress, Progress: &Progress{Message: msg, Data: data}}
}

// Stream is a tool execution in flight: a push channel of events plus a
// terminal slot. The producer sends events, then calls Close exactly once;
// consumers drain Events and read Result afterwards.
type Stream struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	result    *message.ToolResultBlock
	err       error
}

// NewStream returns a stream with the given event buffer.
func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Events is the progress channel. It closes when the execution ends.
func (s *Stream) Events() <-chan Event { return s.events }

// Send delivers a progress event, giving up when ctx ends or the stream is
// already closed. Send and Close belong to the producer goroutine and must
// not run concurrently with each other.
func (s *Stream) Send(ctx context.Context, ev Event) error {
	select {
	case <-s.done:
		return fmt.Errorf("tool stream closed")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.events <- ev:
		return nil
	}
}

// Close records the terminal outcome and closes the event channel. Exactly
// one of result and err should be set. Later calls are ignored.
func (s *Stream) Close(result *message.ToolResultBlock, err error) {
	s.closeOnce.Do(func() {
		s.result = result
		s.err = err
		close(s.done)
		close(s.events)
	})
}

// Result blocks until the execution ends, then returns the terminal.
func (s *Stream) Result() (*message.ToolResultBlock, error) {
	<-s.done
	return s.result, s.err
}

// Collect drains a stream, passing each event to onEvent, and returns the
// terminal. A nil onEvent discards events.
func Collect(ctx context.Context, s *Stream, onEvent func(Event) error) (*message.ToolResultBlock, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				return s.Result()
			}
			if onEvent != nil {
				if err := onEvent(ev); err != nil {
					return nil, err
				}
			}
		}
	}
}

// FuncHandler is a plain tool body.
type FuncHandler func(ctx context.Context, inv *Invocation) (*message.ToolResultBlock, error)

type funcTool struct {
	name        string
	description string
	inputSchema json.RawMessage
	fn          FuncHandler
}

// Func adapts a plain function into a Tool. Most tools without progress
// reporting use this.
func Func(name, description string, inputSchema json.RawMessage, fn FuncHandler) Tool {
	return &funcTool{name: name, description: description, inputSchema: inputSchema, fn: fn}
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.description }

func (t *funcTool) Spec() model.ToolSpec {
	schema := t.inputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return model.ToolSpec{Name: t.name, Description: t.description, InputSchema: schema}
}

func (t *funcTool) Stream(ctx context.Context, inv *Invocation) *Stream {
	s := NewStream(0)
	go func() {
		result, err := t.fn(ctx, inv)
		s.Close(result, err)
	}()
	return s
}
