package multiagent

import (
	"github.com/haasonsaas/loom/pkg/agent"
	"github.com/haasonsaas/loom/pkg/interrupt"
)

// EventType discriminates the events emitted on an executor Run's channel.
type EventType string

const (
	EventNodeStart     EventType = "node_start"
	EventNodeInput     EventType = "node_input"
	EventNodeStream    EventType = "node_stream"
	EventNodeStop      EventType = "node_stop"
	EventNodeCancel    EventType = "node_cancel"
	EventNodeInterrupt EventType = "node_interrupt"
	EventHandoff       EventType = "handoff"
	EventExecutorStop  EventType = "executor_stop"
)

// Event is a single item on an executor Run's event channel. Type selects
// which payload field is set; all other payload fields are nil.
//
// Events from concurrently executing nodes interleave in no particular
// order, but events of a single node keep their order.
type Event struct {
	Type          EventType           `json:"type"`
	NodeStart     *NodeStartEvent     `json:"nodeStart,omitempty"`
	NodeInput     *NodeInputEvent     `json:"nodeInput,omitempty"`
	NodeStream    *NodeStreamEvent    `json:"nodeStream,omitempty"`
	NodeStop      *NodeStopEvent      `json:"nodeStop,omitempty"`
	NodeCancel    *NodeCancelEvent    `json:"nodeCancel,omitempty"`
	NodeInterrupt *NodeInterruptEvent `json:"nodeInterrupt,omitempty"`
	Handoff       *HandoffEvent       `json:"handoff,omitempty"`
	ExecutorStop  *ExecutorStopEvent  `json:"executorStop,omitempty"`
}

// NodeStartEvent opens every node execution.
type NodeStartEvent struct {
	NodeID string `json:"nodeId"`
}

// NodeInputEvent carries the synthesized text input a node was started
// with. Nodes fed non-text input emit no input event.
type NodeInputEvent struct {
	NodeID string `json:"nodeId"`
	Text   string `json:"text"`
}

// NodeStreamEvent forwards one event from a node's own stream. Agent is
// set for agent nodes, Nested for nested executor nodes.
type NodeStreamEvent struct {
	NodeID string       `json:"nodeId"`
	Agent  *agent.Event `json:"agent,omitempty"`
	Nested *Event       `json:"nested,omitempty"`
}

// NodeStopEvent carries a node's terminal result, completed or failed.
type NodeStopEvent struct {
	NodeID string      `json:"nodeId"`
	Result *NodeResult `json:"result"`
}

// NodeCancelEvent reports a node stopped by run cancellation rather than
// by its own outcome.
type NodeCancelEvent struct {
	NodeID string `json:"nodeId"`
	Reason string `json:"reason"`
}

// NodeInterruptEvent reports a node pausing on pending interrupts.
type NodeInterruptEvent struct {
	NodeID     string                 `json:"nodeId"`
	Interrupts []*interrupt.Interrupt `json:"interrupts"`
}

// HandoffEvent reports control passing between swarm agents.
type HandoffEvent struct {
	From    []string `json:"from"`
	To      []string `json:"to"`
	Message string   `json:"message,omitempty"`
}

// ExecutorStopEvent closes every run that reaches a terminal result.
type ExecutorStopEvent struct {
	Result *Result `json:"result"`
}
