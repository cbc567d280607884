// Package multiagent coordinates multiple agents behind a single executor.
//
// Two executors are provided. Graph runs nodes once the nodes they depend
// on have completed, feeding each node the results of its dependencies.
// Swarm runs one agent at a time and lets the active agent pass control to
// a peer through a coordination tool. Both implement Executor, so a graph
// node can itself be a swarm and the other way around.
package multiagent

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/haasonsaas/loom/pkg/agent"
	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/model"
)

// Task is the caller's input to an executor run: a Prompt, Blocks, or a
// Resume carrying interrupt responses.
type Task = agent.Input

// Status describes where an executor or one of its nodes is in its
// lifecycle.
type Status string

const (
	StatusPending     Status = "pending"
	StatusExecuting   Status = "executing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Executor runs a multi-agent topology.
type Executor interface {
	// Name identifies the executor in events, hooks, and session keys.
	Name() string

	// Invoke runs the task and returns the terminal result.
	Invoke(ctx context.Context, task Task) (*Result, error)

	// Stream runs the task, emitting events while it executes. The caller
	// must drain Events; Result blocks until the run ends.
	Stream(ctx context.Context, task Task) (*Run, error)

	// SerializeState snapshots execution state for persistence.
	SerializeState() (json.RawMessage, error)

	// DeserializeState restores a snapshot taken from an executor of the
	// same type.
	DeserializeState(data json.RawMessage) error
}

// NodeResult records one node's outcome. Exactly one of AgentResult and
// NestedResult is set once the node has executed.
type NodeResult struct {
	Status          Status        `json:"status"`
	ExecutionTimeMs int64         `json:"executionTimeMs"`
	ExecutionCount  int           `json:"executionCount"`
	AgentResult     *agent.Result `json:"agentResult,omitempty"`
	NestedResult    *Result       `json:"nestedResult,omitempty"`
	Err             string        `json:"error,omitempty"`
}

// Text renders the node's output for display and for synthesizing the
// input of downstream nodes.
func (nr *NodeResult) Text() string {
	switch {
	case nr == nil:
		return ""
	case nr.AgentResult != nil:
		return nr.AgentResult.String()
	case nr.NestedResult != nil:
		return nr.NestedResult.text()
	}
	return ""
}

// Interrupts returns the pending interrupts of a paused node.
func (nr *NodeResult) Interrupts() []*interrupt.Interrupt {
	switch {
	case nr == nil:
		return nil
	case nr.AgentResult != nil:
		return nr.AgentResult.Interrupts
	case nr.NestedResult != nil:
		return nr.NestedResult.Interrupts
	}
	return nil
}

// Result is the terminal outcome of an executor run.
type Result struct {
	Status Status `json:"status"`

	// Results holds the latest outcome of every node that has executed.
	Results map[string]*NodeResult `json:"results"`

	// AccumulatedUsage sums token usage across every node execution of
	// the run, nested executors included.
	AccumulatedUsage model.Usage `json:"accumulatedUsage"`

	// ExecutionCount is the total number of node executions, counting
	// re-executions of the same node.
	ExecutionCount int `json:"executionCount"`

	ExecutionTimeMs int64 `json:"executionTimeMs"`

	// FailureReason is set when Status is failed.
	FailureReason string `json:"failureReason,omitempty"`

	// Interrupts lists what an interrupted run is waiting on.
	Interrupts []*interrupt.Interrupt `json:"interrupts,omitempty"`
}

// text flattens node outputs for embedding in a parent node's input,
// sorted by node ID so nested results render deterministically.
func (r *Result) text() string {
	if r == nil || len(r.Results) == 0 {
		return ""
	}
	ids := make([]string, 0, len(r.Results))
	for id := range r.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var parts []string
	for _, id := range ids {
		if t := r.Results[id].Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// usageDelta reports how much after grew past before, field by field.
// Agent metrics accumulate across invocations, so a node that runs twice
// must only contribute the growth of each run.
func usageDelta(before, after model.Usage) model.Usage {
	return model.Usage{
		InputTokens:           after.InputTokens - before.InputTokens,
		OutputTokens:          after.OutputTokens - before.OutputTokens,
		TotalTokens:           after.TotalTokens - before.TotalTokens,
		CacheReadInputTokens:  after.CacheReadInputTokens - before.CacheReadInputTokens,
		CacheWriteInputTokens: after.CacheWriteInputTokens - before.CacheWriteInputTokens,
	}
}
