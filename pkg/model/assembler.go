package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/loom/pkg/message"
)

// Assembler folds a provider event stream into an assembled message and
// normalized stop reason. Push it every event in arrival order, then call
// Finish. Blocks are emitted in the order they were opened; interleaved
// deltas are routed by block index.
type Assembler struct {
	role       message.Role
	open       []*blockState
	byIndex    map[int]*blockState
	stopReason string
	usage      *Usage
	latencyMs  int64
	ttfbMs     int64
	err        error
}

type blockState struct {
	index     int
	kind      message.BlockKind
	text      strings.Builder
	signature string
	redacted  []byte
	toolName  string
	toolUseID string
	toolInput strings.Builder
	sealed    bool
	input     json.RawMessage
}

// NewAssembler returns an empty assembler for one model turn.
func NewAssembler() *Assembler {
	return &Assembler{
		role:    message.RoleAssistant,
		byIndex: make(map[int]*blockState),
	}
}

// Push folds one event. The first malformed event poisons the assembler;
// subsequent pushes return the same error.
func (a *Assembler) Push(ev Event) error {
	if a.err != nil {
		return a.err
	}
	a.err = a.push(ev)
	return a.err
}

func (a *Assembler) push(ev Event) error {
	switch ev.Type {
	case EventMessageStart:
		if ev.MessageStart != nil && ev.MessageStart.Role != "" {
			a.role = ev.MessageStart.Role
		}
	case EventBlockStart:
		if ev.BlockStart == nil {
			return fmt.Errorf("block_start event without payload")
		}
		st := &blockState{index: ev.BlockStart.Index}
		if tu := ev.BlockStart.ToolUse; tu != nil {
			st.kind = message.BlockToolUse
			st.toolName = tu.Name
			st.toolUseID = tu.ToolUseID
		}
		a.open = append(a.open, st)
		a.byIndex[st.index] = st
	case EventBlockDelta:
		if ev.BlockDelta == nil {
			return fmt.Errorf("block_delta event without payload")
		}
		return a.applyDelta(ev.BlockDelta)
	case EventBlockStop:
		if ev.BlockStop == nil {
			return fmt.Errorf("block_stop event without payload")
		}
		st, ok := a.byIndex[ev.BlockStop.Index]
		if !ok {
			return fmt.Errorf("block_stop for unopened block %d", ev.BlockStop.Index)
		}
		return a.seal(st)
	case EventMessageStop:
		if ev.MessageStop == nil {
			return fmt.Errorf("message_stop event without payload")
		}
		a.stopReason = ev.MessageStop.StopReason
	case EventMetadata:
		if ev.Metadata != nil {
			if ev.Metadata.Usage != nil {
				if a.usage == nil {
					a.usage = &Usage{}
				}
				a.usage.Add(*ev.Metadata.Usage)
			}
			if ev.Metadata.LatencyMs > 0 {
				a.latencyMs = ev.Metadata.LatencyMs
			}
			if ev.Metadata.TTFBMs > 0 {
				a.ttfbMs = ev.Metadata.TTFBMs
			}
		}
	case EventError:
		if ev.Err == nil {
			return fmt.Errorf("error event without error")
		}
		return ev.Err
	default:
		return fmt.Errorf("unknown stream event type %q", ev.Type)
	}
	return nil
}

func (a *Assembler) applyDelta(d *BlockDelta) error {
	st, ok := a.byIndex[d.Index]
	if !ok || st.sealed {
		// Providers that skip block_start for text and reasoning get a
		// block opened on first delta.
		if d.ToolInput != "" {
			return fmt.Errorf("tool input delta for block %d without a tool use start", d.Index)
		}
		st = &blockState{index: d.Index}
		a.open = append(a.open, st)
		a.byIndex[d.Index] = st
	}
	switch {
	case d.ToolInput != "":
		if st.kind != message.BlockToolUse {
			return fmt.Errorf("tool input delta for block %d without a tool use start", d.Index)
		}
		st.toolInput.WriteString(d.ToolInput)
	case d.ReasoningText != "" || d.ReasoningSignature != "" || len(d.RedactedReasoning) > 0:
		if st.kind == "" {
			st.kind = message.BlockReasoning
		}
		if st.kind != message.BlockReasoning {
			return fmt.Errorf("reasoning delta for %s block %d", st.kind, d.Index)
		}
		st.text.WriteString(d.ReasoningText)
		if d.ReasoningSignature != "" {
			st.signature = d.ReasoningSignature
		}
		if len(d.RedactedReasoning) > 0 {
			st.redacted = append(st.redacted, d.RedactedReasoning...)
		}
	default:
		if st.kind == "" {
			st.kind = message.BlockText
		}
		if st.kind != message.BlockText {
			return fmt.Errorf("text delta for %s block %d", st.kind, d.Index)
		}
		st.text.WriteString(d.Text)
	}
	return nil
}

func (a *Assembler) seal(st *blockState) error {
	if st.sealed {
		return nil
	}
	st.sealed = true
	if st.kind == message.BlockToolUse {
		input, err := parseToolInput(st.toolInput.String())
		if err != nil {
			return fmt.Errorf("parse input for tool %q: %w", st.toolName, err)
		}
		st.input = input
	}
	return nil
}

func parseToolInput(buf string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(buf)
	if trimmed == "" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("accumulated input is not valid JSON: %q", trimmed)
	}
	return json.RawMessage(trimmed), nil
}

// Usage returns token usage reported so far, or nil.
func (a *Assembler) Usage() *Usage { return a.usage }

// LatencyMs returns the provider-reported turn latency, or 0.
func (a *Assembler) LatencyMs() int64 { return a.latencyMs }

// TTFBMs returns the provider-reported time to first byte, or 0.
func (a *Assembler) TTFBMs() int64 { return a.ttfbMs }

// Finish seals any still-open blocks and returns the assembled turn. A
// missing message_stop normalizes to endTurn. Empty text blocks are
// dropped.
func (a *Assembler) Finish() (*Turn, error) {
	if a.err != nil {
		return nil, a.err
	}
	msg := message.Message{Role: a.role}
	for _, st := range a.open {
		if !st.sealed {
			if err := a.seal(st); err != nil {
				a.err = err
				return nil, err
			}
		}
		switch st.kind {
		case message.BlockToolUse:
			msg.Content = append(msg.Content, message.NewToolUseBlock(st.toolUseID, st.toolName, st.input))
		case message.BlockReasoning:
			block := message.ContentBlock{Kind: message.BlockReasoning, Reasoning: &message.ReasoningBlock{
				Text:          st.text.String(),
				Signature:     st.signature,
				RedactedBytes: st.redacted,
			}}
			msg.Content = append(msg.Content, block)
		case message.BlockText:
			if st.text.Len() == 0 {
				continue
			}
			msg.Content = append(msg.Content, message.NewTextBlock(st.text.String()))
		default:
			// Opened by block_start and never typed by a delta: an empty
			// text block. Dropped.
		}
	}
	return &Turn{Message: msg, StopReason: NormalizeStopReason(a.stopReason)}, nil
}

// Consume drains a provider stream through the assembler, forwarding every
// event before folding it. It stops on ctx cancellation, a forward error,
// or a malformed stream, and never returns a partial turn alongside an
// error.
func Consume(ctx context.Context, events <-chan Event, forward func(Event) error) (*Assembler, *Turn, error) {
	asm := NewAssembler()
	for {
		select {
		case <-ctx.Done():
			return asm, nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				turn, err := asm.Finish()
				return asm, turn, err
			}
			if forward != nil {
				if err := forward(ev); err != nil {
					return asm, nil, err
				}
			}
			if err := asm.Push(ev); err != nil {
				return asm, nil, err
			}
		}
	}
}
