// Package model defines the contract between the agent runtime and LLM
// providers: the streaming event vocabulary, the request shape, stop-reason
// normalization, and the assembler that folds raw events into messages.
// Concrete provider adapters live outside the runtime and implement
// Provider against whatever API they wrap.
package model

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/loom/pkg/message"
)

// Provider is one model backend. Stream starts a single model turn and
// returns a channel the provider closes when the turn ends or ctx is done.
// Transport failures surface either from Stream itself or as the terminal
// Error event on the channel.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (<-chan Event, error)
	UpdateConfig(cfg map[string]any)
	Config() map[string]any
}

// Request carries everything a provider needs for one turn.
type Request struct {
	Messages   []message.Message
	System     string
	ToolSpecs  []ToolSpec
	ToolChoice *ToolChoice
}

// ToolSpec advertises a tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolChoiceMode selects how strongly the model is steered toward tools.
type ToolChoiceMode string

const (
	// ToolChoiceAuto lets the model decide whether to call a tool.
	ToolChoiceAuto ToolChoiceMode = "auto"
	// ToolChoiceAny forces the model to call some tool.
	ToolChoiceAny ToolChoiceMode = "any"
	// ToolChoiceTool forces the model to call the named tool.
	ToolChoiceTool ToolChoiceMode = "tool"
)

// ToolChoice steers tool selection. Name is set only for ToolChoiceTool.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Name string         `json:"name,omitempty"`
}

// Turn is the assembled outcome of one model call.
type Turn struct {
	Message    message.Message
	StopReason StopReason
}
