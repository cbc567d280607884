package agent

import (
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/tools"
)

// EventType discriminates the events emitted on a Run's channel.
type EventType string

const (
	EventInvocationStart EventType = "invocation_start"
	EventCycleStart      EventType = "cycle_start"
	EventModelCallStart  EventType = "model_call_start"
	EventModelStream     EventType = "model_stream"
	EventModelCallStop   EventType = "model_call_stop"
	EventToolsStart      EventType = "tools_start"
	EventToolProgress    EventType = "tool_progress"
	EventToolResult      EventType = "tool_result"
	EventToolsStop       EventType = "tools_stop"
	EventInvocationStop  EventType = "invocation_stop"
)

// Event is a single item on a Run's event channel. Type selects which
// payload field is set; all other payload fields are nil.
type Event struct {
	Type            EventType             `json:"type"`
	InvocationStart *InvocationStartEvent `json:"invocationStart,omitempty"`
	CycleStart      *CycleStartEvent      `json:"cycleStart,omitempty"`
	ModelCallStart  *ModelCallStartEvent  `json:"modelCallStart,omitempty"`
	ModelStream     *model.Event          `json:"modelStream,omitempty"`
	ModelCallStop   *ModelCallStopEvent   `json:"modelCallStop,omitempty"`
	ToolsStart      *ToolsStartEvent      `json:"toolsStart,omitempty"`
	ToolProgress    *ToolProgressEvent    `json:"toolProgress,omitempty"`
	ToolResult      *ToolResultEvent      `json:"toolResult,omitempty"`
	ToolsStop       *ToolsStopEvent       `json:"toolsStop,omitempty"`
	InvocationStop  *InvocationStopEvent  `json:"invocationStop,omitempty"`
}

// InvocationStartEvent opens every run.
type InvocationStartEvent struct {
	AgentName    string `json:"agentName"`
	InvocationID string `json:"invocationId"`
}

// CycleStartEvent opens each model-call/tool-execution cycle. Cycles are
// numbered from 1 within an invocation.
type CycleStartEvent struct {
	Cycle int `json:"cycle"`
}

// ModelCallStartEvent carries a snapshot of the conversation sent to the
// provider. Mutating the snapshot does not affect the request.
type ModelCallStartEvent struct {
	Messages []message.Message `json:"messages"`
}

// ModelCallStopEvent carries the assembled assistant message for the turn.
type ModelCallStopEvent struct {
	Message    *message.Message `json:"message"`
	StopReason model.StopReason `json:"stopReason"`
}

// ToolsStartEvent lists the tool uses about to execute, in block order.
type ToolsStartEvent struct {
	ToolUses []*message.ToolUseBlock `json:"toolUses"`
}

// ToolProgressEvent forwards a progress report from a running tool.
type ToolProgressEvent struct {
	ToolUseID string          `json:"toolUseId"`
	Progress  *tools.Progress `json:"progress"`
}

// ToolResultEvent carries the result of one tool use.
type ToolResultEvent struct {
	ToolUseID string                   `json:"toolUseId"`
	Result    *message.ToolResultBlock `json:"result"`
}

// ToolsStopEvent carries the user message holding this turn's tool results.
type ToolsStopEvent struct {
	Message *message.Message `json:"message"`
}

// InvocationStopEvent closes every run that reaches a terminal result.
type InvocationStopEvent struct {
	Result *Result `json:"result"`
}
