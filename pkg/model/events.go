package model

import "github.com/haasonsaas/loom/pkg/message"

// EventType discriminates provider stream events.
type EventType string

const (
	EventMessageStart EventType = "message_start"
	EventBlockStart   EventType = "block_start"
	EventBlockDelta   EventType = "block_delta"
	EventBlockStop    EventType = "block_stop"
	EventMessageStop  EventType = "message_stop"
	EventMetadata     EventType = "metadata"
	EventError        EventType = "error"
)

// Event is one entry in a provider stream. Type selects the payload.
type Event struct {
	Type         EventType     `json:"type"`
	MessageStart *MessageStart `json:"messageStart,omitempty"`
	BlockStart   *BlockStart   `json:"blockStart,omitempty"`
	BlockDelta   *BlockDelta   `json:"blockDelta,omitempty"`
	BlockStop    *BlockStop    `json:"blockStop,omitempty"`
	MessageStop  *MessageStop  `json:"messageStop,omitempty"`
	Metadata     *Metadata     `json:"metadata,omitempty"`
	Err          error         `json:"-"`
}

// MessageStart opens a model turn.
type MessageStart struct {
	Role message.Role `json:"role"`
}

// ToolUseStart announces an upcoming tool use block.
type ToolUseStart struct {
	Name      string `json:"name"`
	ToolUseID string `json:"toolUseId"`
}

// BlockStart opens a content block. ToolUse is nil for text and reasoning
// blocks, whose kind is decided by the first delta.
type BlockStart struct {
	Index   int           `json:"index"`
	ToolUse *ToolUseStart `json:"toolUse,omitempty"`
}

// BlockDelta extends the block at Index. Exactly one delta field is set.
// Tool input fragments only ever follow a BlockStart that announced the
// tool use.
type BlockDelta struct {
	Index              int    `json:"index"`
	Text               string `json:"text,omitempty"`
	ReasoningText      string `json:"reasoningText,omitempty"`
	ReasoningSignature string `json:"reasoningSignature,omitempty"`
	RedactedReasoning  []byte `json:"redactedReasoning,omitempty"`
	ToolInput          string `json:"toolInput,omitempty"`
}

// BlockStop seals the block at Index.
type BlockStop struct {
	Index int `json:"index"`
}

// MessageStop ends the turn with the provider's raw stop reason.
type MessageStop struct {
	StopReason       string         `json:"stopReason"`
	AdditionalFields map[string]any `json:"additionalFields,omitempty"`
}

// Metadata reports usage and latency. It never affects the assembled
// message.
type Metadata struct {
	Usage     *Usage `json:"usage,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
	TTFBMs    int64  `json:"ttfbMs,omitempty"`
}

// NewMessageStartEvent builds a message_start event.
func NewMessageStartEvent(role message.Role) Event {
	return Event{Type: EventMessageStart, MessageStart: &MessageStart{Role: role}}
}

// NewBlockStartEvent builds a block_start event for a text or reasoning
// block.
func NewBlockStartEvent(index int) Event {
	return Event{Type: EventBlockStart, BlockStart: &BlockStart{Index: index}}
}

// NewToolUseStartEvent builds a block_start event announcing a tool use.
func NewToolUseStartEvent(index int, name, toolUseID string) Event {
	return Event{Type: EventBlockStart, BlockStart: &BlockStart{
		Index:   index,
		ToolUse: &ToolUseStart{Name: name, ToolUseID: toolUseID},
	}}
}

// NewTextDeltaEvent builds a text delta.
func NewTextDeltaEvent(index int, text string) Event {
	return Event{Type: EventBlockDelta, BlockDelta: &BlockDelta{Index: index, Text: text}}
}

// NewReasoningDeltaEvent builds a reasoning delta.
func NewReasoningDeltaEvent(index int, text, signature string) Event {
	return Event{Type: EventBlockDelta, BlockDelta: &BlockDelta{
		Index:              index,
		ReasoningText:      text,
		ReasoningSignature: signature,
	}}
}

// NewToolInputDeltaEvent builds a tool input fragment delta.
func NewToolInputDeltaEvent(index int, fragment string) Event {
	return Event{Type: EventBlockDelta, BlockDelta: &BlockDelta{
		Index:     index,
		ToolInput: fragment,
	}}
}

// NewBlockStopEvent builds a block_stop event.
func NewBlockStopEvent(index int) Event {
	return Event{Type: EventBlockStop, BlockStop: &BlockStop{Index: index}}
}

// NewMessageStopEvent builds a message_stop event with the provider's raw
// stop reason token.
func NewMessageStopEvent(stopReason string) Event {
	return Event{Type: EventMessageStop, MessageStop: &MessageStop{StopReason: stopReason}}
}

// NewMetadataEvent builds a metadata event.
func NewMetadataEvent(usage *Usage, latencyMs int64) Event {
	return Event{Type: EventMetadata, Metadata: &Metadata{Usage: usage, LatencyMs: latencyMs}}
}

// NewErrorEvent carries a transport failure as the terminal stream entry.
func NewErrorEvent(err error) Event {
	return Event{Type: EventError, Err: err}
}
