package hooks

import (
	"encoding/json"

	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
)

// BeforeInvocation fires once when an agent invocation starts, before the
// first cycle.
type BeforeInvocation struct {
	AgentName    string
	InvocationID string
}

func (*BeforeInvocation) isHookEvent() {}

// AfterInvocation fires once when an invocation ends, on every exit path
// including errors and panics. Err carries the failure, if any.
type AfterInvocation struct {
	AgentName    string
	InvocationID string
	Err          error
}

func (*AfterInvocation) isHookEvent() {}

// ReverseCallbacks reverses callback order so paired before/after providers
// unwind like a stack.
func (*AfterInvocation) ReverseCallbacks() bool { return true }

// BeforeModelCall fires before each model request. Messages is a snapshot of
// the request; mutating it does not change what is sent.
type BeforeModelCall struct {
	AgentName    string
	InvocationID string
	Messages     []message.Message
}

func (*BeforeModelCall) isHookEvent() {}

// AfterModelCall fires after the model turn is assembled or fails.
type AfterModelCall struct {
	AgentName    string
	InvocationID string
	Message      *message.Message
	StopReason   model.StopReason
	Err          error
}

func (*AfterModelCall) isHookEvent() {}

func (*AfterModelCall) ReverseCallbacks() bool { return true }

// BeforeToolCall fires before a tool executes. Callbacks may rewrite
// ToolUse.Input in place, raise an interrupt through Interrupt, or veto the
// call with Cancel.
type BeforeToolCall struct {
	AgentName    string
	InvocationID string
	ToolUse      *message.ToolUseBlock
	// Interrupt pauses the invocation for a human response. Nil outside a
	// live tool dispatch.
	Interrupt func(name, reason string) (json.RawMessage, error)

	cancelled    bool
	cancelReason string
}

func (*BeforeToolCall) isHookEvent() {}

// Cancel vetoes the tool call. The loop records an error tool result with
// the given reason instead of executing the tool.
func (e *BeforeToolCall) Cancel(reason string) {
	e.cancelled = true
	e.cancelReason = reason
}

// Cancelled reports whether a callback vetoed the call, and why.
func (e *BeforeToolCall) Cancelled() (bool, string) {
	return e.cancelled, e.cancelReason
}

// AfterToolCall fires after a tool finishes. Result is nil when the tool
// returned a Go error, which Err then carries.
type AfterToolCall struct {
	AgentName    string
	InvocationID string
	ToolUse      *message.ToolUseBlock
	Result       *message.ToolResultBlock
	Err          error
}

func (*AfterToolCall) isHookEvent() {}

func (*AfterToolCall) ReverseCallbacks() bool { return true }

// MultiAgentInitialized fires exactly once per executor, on its first
// invocation. Later invocations of the same executor skip it.
type MultiAgentInitialized struct {
	ExecutorType string
	Name         string
}

func (*MultiAgentInitialized) isHookEvent() {}

// BeforeMultiAgentInvocation fires at the start of every executor run,
// including resumes.
type BeforeMultiAgentInvocation struct {
	ExecutorType string
	Name         string
}

func (*BeforeMultiAgentInvocation) isHookEvent() {}

// AfterMultiAgentInvocation fires when an executor run ends.
type AfterMultiAgentInvocation struct {
	ExecutorType string
	Name         string
	Status       string
}

func (*AfterMultiAgentInvocation) isHookEvent() {}

func (*AfterMultiAgentInvocation) ReverseCallbacks() bool { return true }

// BeforeNodeCall fires before a graph or swarm node executes.
type BeforeNodeCall struct {
	ExecutorType string
	Name         string
	NodeID       string
}

func (*BeforeNodeCall) isHookEvent() {}

// AfterNodeCall fires when a node finishes, with its terminal status.
type AfterNodeCall struct {
	ExecutorType string
	Name         string
	NodeID       string
	Status       string
	Err          error
}

func (*AfterNodeCall) isHookEvent() {}

func (*AfterNodeCall) ReverseCallbacks() bool { return true }
