package multiagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/loom/pkg/agent"
	"github.com/haasonsaas/loom/pkg/hooks"
	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
)

// node wraps one executable unit of a graph or swarm: an agent, or a
// nested executor for composed topologies.
type node struct {
	id       string
	agent    *agent.Agent
	executor Executor

	// seed is the agent's conversation at registration time, restored
	// before re-execution when the owning graph resets on revisit.
	seed []message.Message

	// prevNestedUsage is the nested executor's accumulated usage after
	// its previous execution, so repeated executions contribute deltas.
	prevNestedUsage model.Usage
}

// newNode wraps v, which must be an *agent.Agent or an Executor.
func newNode(id string, v any) (*node, error) {
	switch x := v.(type) {
	case *agent.Agent:
		return &node{id: id, agent: x, seed: x.Messages()}, nil
	case Executor:
		return &node{id: id, executor: x}, nil
	default:
		return nil, fmt.Errorf("unsupported executor type for node %q", id)
	}
}

// reset restores an agent node's conversation to its registration-time
// snapshot. Nested executors keep their own state.
func (n *node) reset() {
	if n.agent != nil {
		n.agent.SetMessages(n.seed)
	}
}

// nodeOutcome is what one node execution produced before the owning
// executor folds it into a NodeResult.
type nodeOutcome struct {
	agentResult  *agent.Result
	nestedResult *Result
	interrupts   []*interrupt.Interrupt
	usage        model.Usage
}

// execute runs the wrapped agent or executor, forwarding its stream events.
func (n *node) execute(ctx context.Context, task Task, forward func(Event)) (*nodeOutcome, error) {
	if n.agent != nil {
		return n.executeAgent(ctx, task, forward)
	}
	return n.executeNested(ctx, task, forward)
}

func (n *node) executeAgent(ctx context.Context, task Task, forward func(Event)) (*nodeOutcome, error) {
	before := n.agent.Metrics().Usage

	run, err := n.agent.Stream(ctx, task)
	if err != nil {
		return nil, err
	}
	for ev := range run.Events() {
		ev := ev
		forward(Event{Type: EventNodeStream, NodeStream: &NodeStreamEvent{NodeID: n.id, Agent: &ev}})
	}
	res, err := run.Result()
	if err != nil {
		return nil, err
	}

	out := &nodeOutcome{agentResult: res}
	if res.Metrics != nil {
		out.usage = usageDelta(before, res.Metrics.Usage)
	}
	if res.StopReason == model.StopInterrupt {
		out.interrupts = res.Interrupts
	}
	return out, nil
}

func (n *node) executeNested(ctx context.Context, task Task, forward func(Event)) (*nodeOutcome, error) {
	run, err := n.executor.Stream(ctx, task)
	if err != nil {
		return nil, err
	}
	for ev := range run.Events() {
		ev := ev
		forward(Event{Type: EventNodeStream, NodeStream: &NodeStreamEvent{NodeID: n.id, Nested: &ev}})
	}
	res, err := run.Result()
	if err != nil {
		return nil, err
	}
	if res.Status == StatusFailed {
		return nil, errors.New(res.FailureReason)
	}

	out := &nodeOutcome{
		nestedResult: res,
		usage:        usageDelta(n.prevNestedUsage, res.AccumulatedUsage),
	}
	n.prevNestedUsage = res.AccumulatedUsage
	if res.Status == StatusInterrupted {
		out.interrupts = res.Interrupts
	}
	return out, nil
}

// nodeRun parameterizes one node execution run by a graph or swarm.
type nodeRun struct {
	executorType string
	executorName string
	hooks        *hooks.Registry
	node         *node
	task         Task
	execCount    int
	nodeTimeout  time.Duration
	emit         func(Event)
}

// runNode executes one node with lifecycle hooks and events and folds the
// outcome into a NodeResult. usage is the token growth this execution
// contributed. timedOut reports that the node's own timeout fired, as
// opposed to the run being cancelled or failing on its own.
func runNode(ctx context.Context, p nodeRun) (result *NodeResult, usage model.Usage, timedOut bool) {
	nodeCtx := ctx
	if p.nodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, p.nodeTimeout)
		defer cancel()
	}

	start := time.Now()
	fail := func(err error) *NodeResult {
		return &NodeResult{
			Status:          StatusFailed,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			ExecutionCount:  p.execCount,
			Err:             err.Error(),
		}
	}

	if err := p.hooks.Dispatch(ctx, &hooks.BeforeNodeCall{
		ExecutorType: p.executorType,
		Name:         p.executorName,
		NodeID:       p.node.id,
	}); err != nil {
		res := fail(err)
		p.emit(Event{Type: EventNodeStop, NodeStop: &NodeStopEvent{NodeID: p.node.id, Result: res}})
		return res, model.Usage{}, false
	}

	p.emit(Event{Type: EventNodeStart, NodeStart: &NodeStartEvent{NodeID: p.node.id}})
	if text := taskText(p.task); text != "" {
		p.emit(Event{Type: EventNodeInput, NodeInput: &NodeInputEvent{NodeID: p.node.id, Text: text}})
	}

	outcome, err := p.node.execute(nodeCtx, p.task, p.emit)

	result = &NodeResult{
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		ExecutionCount:  p.execCount,
	}
	switch {
	case err != nil:
		result.Status = StatusFailed
		switch {
		case p.nodeTimeout > 0 && nodeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			result.Err = fmt.Sprintf("Execution timed out after %s", p.nodeTimeout)
			timedOut = true
		default:
			result.Err = err.Error()
		}
	case outcome.interrupts != nil:
		result.Status = StatusInterrupted
		result.AgentResult = outcome.agentResult
		result.NestedResult = outcome.nestedResult
		usage = outcome.usage
	default:
		result.Status = StatusCompleted
		result.AgentResult = outcome.agentResult
		result.NestedResult = outcome.nestedResult
		usage = outcome.usage
	}

	if hookErr := p.hooks.Dispatch(ctx, &hooks.AfterNodeCall{
		ExecutorType: p.executorType,
		Name:         p.executorName,
		NodeID:       p.node.id,
		Status:       string(result.Status),
		Err:          errOrNil(result.Err),
	}); hookErr != nil && result.Status != StatusFailed {
		result.Status = StatusFailed
		result.Err = hookErr.Error()
	}

	switch {
	case result.Status == StatusInterrupted:
		p.emit(Event{Type: EventNodeInterrupt, NodeInterrupt: &NodeInterruptEvent{
			NodeID:     p.node.id,
			Interrupts: outcome.interrupts,
		}})
	case result.Status == StatusFailed && errors.Is(err, context.Canceled) && ctx.Err() != nil:
		p.emit(Event{Type: EventNodeCancel, NodeCancel: &NodeCancelEvent{
			NodeID: p.node.id,
			Reason: "execution cancelled",
		}})
	default:
		p.emit(Event{Type: EventNodeStop, NodeStop: &NodeStopEvent{NodeID: p.node.id, Result: result}})
	}
	return result, usage, timedOut
}

// taskText extracts the displayable text of a task for NodeInput events.
func taskText(task Task) string {
	switch v := task.(type) {
	case agent.Prompt:
		return string(v)
	case agent.Blocks:
		var parts []string
		for _, block := range v {
			if block.Text != nil {
				parts = append(parts, block.Text.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func errOrNil(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
