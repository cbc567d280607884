package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/loom/pkg/agent"
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/tools"
)

// scriptedProvider replays one canned event script per model call, in
// order, and records the requests it saw.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]model.Event
	calls    int
	requests []*model.Request
	startErr error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req *model.Request) (<-chan model.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return nil, p.startErr
	}
	p.requests = append(p.requests, &model.Request{
		Messages: message.CloneMessages(req.Messages),
		System:   req.System,
	})
	if p.calls >= len(p.scripts) {
		return nil, fmt.Errorf("unexpected model call %d", p.calls+1)
	}
	script := p.scripts[p.calls]
	p.calls++

	ch := make(chan model.Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) UpdateConfig(map[string]any) {}
func (p *scriptedProvider) Config() map[string]any      { return nil }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) request(i int) *model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// cyclingProvider replays its scripts in a cycle, for runs whose turn
// count the test does not pin down.
type cyclingProvider struct {
	mu      sync.Mutex
	scripts [][]model.Event
	calls   int
}

func (p *cyclingProvider) Name() string { return "cycling" }

func (p *cyclingProvider) Stream(ctx context.Context, req *model.Request) (<-chan model.Event, error) {
	p.mu.Lock()
	script := p.scripts[p.calls%len(p.scripts)]
	p.calls++
	p.mu.Unlock()

	ch := make(chan model.Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *cyclingProvider) UpdateConfig(map[string]any) {}
func (p *cyclingProvider) Config() map[string]any      { return nil }

// textTurn scripts a plain completion ending with end_turn.
func textTurn(text string) []model.Event {
	return []model.Event{
		model.NewMessageStartEvent(message.RoleAssistant),
		model.NewBlockStartEvent(0),
		model.NewTextDeltaEvent(0, text),
		model.NewBlockStopEvent(0),
		model.NewMessageStopEvent("end_turn"),
		model.NewMetadataEvent(&model.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, 20),
	}
}

// toolUseSpec is one tool call scripted into a turn.
type toolUseSpec struct {
	name  string
	id    string
	input string
}

// toolTurn scripts a turn that requests the given tool calls and stops
// with tool_use.
func toolTurn(uses ...toolUseSpec) []model.Event {
	events := []model.Event{model.NewMessageStartEvent(message.RoleAssistant)}
	for i, use := range uses {
		events = append(events,
			model.NewToolUseStartEvent(i, use.name, use.id),
			model.NewToolInputDeltaEvent(i, use.input),
			model.NewBlockStopEvent(i),
		)
	}
	events = append(events,
		model.NewMessageStopEvent("tool_use"),
		model.NewMetadataEvent(&model.Usage{InputTokens: 8, OutputTokens: 4, TotalTokens: 12}, 15),
	)
	return events
}

// handoffTurn scripts a turn that calls the swarm coordination tool.
func handoffTurn(id, target, msg string) []model.Event {
	input, _ := json.Marshal(handoffRequest{AgentName: target, Message: msg})
	return toolTurn(toolUseSpec{name: HandoffToolName, id: id, input: string(input)})
}

// gateTool pauses its first execution on an interrupt and returns a
// result once resumed with a response.
func gateTool(name string) tools.Tool {
	return tools.Func(name, "asks for approval", nil, func(_ context.Context, inv *tools.Invocation) (*message.ToolResultBlock, error) {
		if _, err := inv.Interrupt(name, "confirm"); err != nil {
			return nil, err
		}
		return message.SuccessTextResult(inv.ToolUse.ToolUseID, "opened"), nil
	})
}

// waitTool blocks until release is closed or the context ends. It signals
// entry by closing entered when one is supplied.
func waitTool(name string, entered, release chan struct{}) tools.Tool {
	return tools.Func(name, "waits to be released", nil, func(ctx context.Context, inv *tools.Invocation) (*message.ToolResultBlock, error) {
		if entered != nil {
			close(entered)
		}
		select {
		case <-release:
			return message.SuccessTextResult(inv.ToolUse.ToolUseID, "released"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func testAgent(t *testing.T, name string, p model.Provider, ts ...tools.Tool) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{Name: name, Provider: p, Tools: ts})
	require.NoError(t, err)
	return a
}

// runAndCollect streams the task, drains every event, and returns them
// alongside the terminal result.
func runAndCollect(t *testing.T, ex Executor, task Task) ([]Event, *Result, error) {
	t.Helper()
	run, err := ex.Stream(context.Background(), task)
	require.NoError(t, err)
	var events []Event
	for ev := range run.Events() {
		events = append(events, ev)
	}
	res, err := run.Result()
	return events, res, err
}

// lastUserText renders the text of the last message of a recorded request,
// which is the input the node was started with.
func lastUserText(t *testing.T, req *model.Request) string {
	t.Helper()
	require.NotEmpty(t, req.Messages)
	msg := req.Messages[len(req.Messages)-1]
	return msg.TextContent()
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRunEndsWithExecutorStop(t *testing.T) {
	p := &scriptedProvider{scripts: [][]model.Event{textTurn("done")}}
	g, err := NewGraphBuilder().AddNode("solo", testAgent(t, "solo", p)).Build()
	require.NoError(t, err)

	events, res, err := runAndCollect(t, g, agent.Prompt("go"))
	require.NoError(t, err)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, EventExecutorStop, last.Type)
	require.NotNil(t, last.ExecutorStop)
	assert.Equal(t, res.Status, last.ExecutorStop.Result.Status)
}

func TestStateTypeMismatch(t *testing.T) {
	g, err := NewGraphBuilder().
		AddNode("a", testAgent(t, "a", &scriptedProvider{})).
		Build()
	require.NoError(t, err)
	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "b", &scriptedProvider{})).
		Build()
	require.NoError(t, err)

	graphState, err := g.SerializeState()
	require.NoError(t, err)
	swarmState, err := s.SerializeState()
	require.NoError(t, err)

	var mismatch *StateTypeMismatchError
	err = g.DeserializeState(swarmState)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, executorTypeGraph, mismatch.Want)
	assert.Equal(t, executorTypeSwarm, mismatch.Got)

	err = s.DeserializeState(graphState)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, executorTypeSwarm, mismatch.Want)
	assert.Equal(t, executorTypeGraph, mismatch.Got)
}

func TestNodeResultText(t *testing.T) {
	assert.Equal(t, "", (*NodeResult)(nil).Text())

	nested := &Result{Results: map[string]*NodeResult{
		"b": {AgentResult: &agent.Result{Message: &message.Message{
			Role:    message.RoleAssistant,
			Content: []message.ContentBlock{message.NewTextBlock("beta")},
		}}},
		"a": {AgentResult: &agent.Result{Message: &message.Message{
			Role:    message.RoleAssistant,
			Content: []message.ContentBlock{message.NewTextBlock("alpha")},
		}}},
	}}
	nr := &NodeResult{NestedResult: nested}
	assert.Equal(t, "alpha\nbeta", nr.Text(), "nested outputs render sorted by node id")
}

func TestTaskText(t *testing.T) {
	assert.Equal(t, "plain", taskText(agent.Prompt("plain")))
	assert.Equal(t, "one\ntwo", taskText(agent.Blocks{
		message.NewTextBlock("one"),
		message.NewTextBlock("two"),
	}))
	assert.Equal(t, "", taskText(agent.Resume{}))
}
