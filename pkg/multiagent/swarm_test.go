package multiagent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/loom/pkg/agent"
	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/tools"
)

func TestSwarmSingleAgentCompletes(t *testing.T) {
	p := &scriptedProvider{scripts: [][]model.Event{textTurn("done")}}
	s, err := NewSwarmBuilder().
		WithName("crew").
		AddAgent(testAgent(t, "solo", p)).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Prompt("Handle the ticket"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.ExecutionCount)
	assert.Equal(t, "done", res.Results["solo"].Text())

	// No peers, no handoff: the turn input is just the task.
	assert.Equal(t, "Task: Handle the ticket", lastUserText(t, p.request(0)))
}

func TestSwarmHandoffMovesControl(t *testing.T) {
	triageProv := &scriptedProvider{scripts: [][]model.Event{
		handoffTurn("h1", "expert", "needs deep dive"),
		textTurn("passing along"),
	}}
	expertProv := &scriptedProvider{scripts: [][]model.Event{textTurn("resolved")}}

	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "triage", triageProv)).
		AddAgent(testAgent(t, "expert", expertProv)).
		Build()
	require.NoError(t, err)

	events, res, err := runAndCollect(t, s, agent.Prompt("Fix the login bug"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.ExecutionCount)
	assert.Equal(t, "passing along", res.Results["triage"].Text())
	assert.Equal(t, "resolved", res.Results["expert"].Text())

	handoffs := eventsOfType(events, EventHandoff)
	require.Len(t, handoffs, 1)
	assert.Equal(t, []string{"triage"}, handoffs[0].Handoff.From)
	assert.Equal(t, []string{"expert"}, handoffs[0].Handoff.To)
	assert.Equal(t, "needs deep dive", handoffs[0].Handoff.Message)

	// The entry turn advertises the peers; the handoff target sees the
	// task plus the handoff message.
	entryInput := lastUserText(t, triageProv.request(0))
	assert.Contains(t, entryInput, "Task: Fix the login bug")
	assert.Contains(t, entryInput, "You can hand off to: expert (use the handoff_to_agent tool).")

	expertInput := lastUserText(t, expertProv.request(0))
	assert.Contains(t, expertInput, "Task: Fix the login bug")
	assert.Contains(t, expertInput, "Handoff message: needs deep dive")
	assert.Contains(t, expertInput, "You can hand off to: triage")

	// The coordination tool reports the handoff back to the model.
	followUp := triageProv.request(1).Messages
	toolResult := followUp[len(followUp)-1].Content[0].ToolResult
	require.NotNil(t, toolResult)
	assert.Equal(t, message.ToolResultSuccess, toolResult.Status)
	assert.Equal(t, "Handed off to expert", toolResult.TextContent())
}

func TestSwarmHandoffSharesContext(t *testing.T) {
	input, err := json.Marshal(handoffRequest{
		AgentName: "expert",
		Message:   "take over",
		Context:   map[string]json.RawMessage{"ticket": json.RawMessage(`"T-123"`)},
	})
	require.NoError(t, err)

	triageProv := &scriptedProvider{scripts: [][]model.Event{
		toolTurn(toolUseSpec{name: HandoffToolName, id: "h1", input: string(input)}),
		textTurn("sent"),
	}}
	expertProv := &scriptedProvider{scripts: [][]model.Event{
		toolTurn(toolUseSpec{name: "lookup", id: "l1", input: "{}"}),
		textTurn("on it"),
	}}

	var seen map[string]json.RawMessage
	lookup := tools.Func("lookup", "reads the shared context", nil, func(_ context.Context, inv *tools.Invocation) (*message.ToolResultBlock, error) {
		seen, _ = inv.State[SharedContextStateKey].(map[string]json.RawMessage)
		return message.SuccessTextResult(inv.ToolUse.ToolUseID, "ok"), nil
	})

	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "triage", triageProv)).
		AddAgent(testAgent(t, "expert", expertProv, lookup)).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Prompt("Handle T-123"))
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)

	// The handoff context reaches the target both in its turn input and
	// through the tool invocation state.
	expertInput := lastUserText(t, expertProv.request(0))
	assert.Contains(t, expertInput, `Shared context: {"ticket":"T-123"}`)
	require.NotNil(t, seen)
	assert.Equal(t, json.RawMessage(`"T-123"`), seen["ticket"])
}

func TestSwarmUnknownHandoffTarget(t *testing.T) {
	triageProv := &scriptedProvider{scripts: [][]model.Event{
		handoffTurn("h1", "ghost", "take it"),
		textTurn("giving up"),
	}}
	expertProv := &scriptedProvider{}

	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "triage", triageProv)).
		AddAgent(testAgent(t, "expert", expertProv)).
		Build()
	require.NoError(t, err)

	events, res, err := runAndCollect(t, s, agent.Prompt("go"))
	require.NoError(t, err)

	// The rejected handoff surfaces as an error tool result; the turn
	// carries on and the run completes without a transfer.
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.ExecutionCount)
	assert.Empty(t, eventsOfType(events, EventHandoff))

	followUp := triageProv.request(1).Messages
	toolResult := followUp[len(followUp)-1].Content[0].ToolResult
	require.NotNil(t, toolResult)
	assert.Equal(t, message.ToolResultError, toolResult.Status)
	assert.Equal(t, "Target agent not found: ghost. Available agents: triage, expert", toolResult.TextContent())
}

func TestSwarmSelfHandoffRejected(t *testing.T) {
	triageProv := &scriptedProvider{scripts: [][]model.Event{
		handoffTurn("h1", "triage", "loop forever"),
		textTurn("fine, finishing myself"),
	}}

	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "triage", triageProv)).
		AddAgent(testAgent(t, "expert", &scriptedProvider{})).
		Build()
	require.NoError(t, err)

	events, res, err := runAndCollect(t, s, agent.Prompt("go"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, eventsOfType(events, EventHandoff))

	followUp := triageProv.request(1).Messages
	toolResult := followUp[len(followUp)-1].Content[0].ToolResult
	require.NotNil(t, toolResult)
	assert.Equal(t, message.ToolResultError, toolResult.Status)
	assert.Equal(t, "cannot hand off to self", toolResult.TextContent())
}

func TestSwarmMaxHandoffs(t *testing.T) {
	aProv := &cyclingProvider{scripts: [][]model.Event{
		handoffTurn("a1", "b", "your turn"),
		textTurn("a done"),
	}}
	bProv := &cyclingProvider{scripts: [][]model.Event{
		handoffTurn("b1", "a", "back to you"),
		textTurn("b done"),
	}}

	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "a", aProv)).
		AddAgent(testAgent(t, "b", bProv)).
		SetMaxHandoffs(2).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Prompt("ping pong"))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Max handoffs reached: 2", res.FailureReason)
	assert.Equal(t, 3, res.ExecutionCount)
}

func TestSwarmMaxIterations(t *testing.T) {
	aProv := &cyclingProvider{scripts: [][]model.Event{
		handoffTurn("a1", "b", "your turn"),
		textTurn("a done"),
	}}
	bProv := &cyclingProvider{scripts: [][]model.Event{
		handoffTurn("b1", "a", "back to you"),
		textTurn("b done"),
	}}

	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "a", aProv)).
		AddAgent(testAgent(t, "b", bProv)).
		SetMaxIterations(2).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Prompt("ping pong"))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Max iterations reached: 2", res.FailureReason)
	assert.Equal(t, 2, res.ExecutionCount)
}

func TestSwarmRepetitiveHandoffDetected(t *testing.T) {
	aProv := &cyclingProvider{scripts: [][]model.Event{
		handoffTurn("a1", "b", "your turn"),
		textTurn("a done"),
	}}
	bProv := &cyclingProvider{scripts: [][]model.Event{
		handoffTurn("b1", "a", "back to you"),
		textTurn("b done"),
	}}

	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "a", aProv)).
		AddAgent(testAgent(t, "b", bProv)).
		SetRepetitiveHandoffDetectionWindow(4).
		SetRepetitiveHandoffMinUniqueAgents(3).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Prompt("ping pong"))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Repetitive handoff detected: last 4 turns cycled between 2 agents", res.FailureReason)
}

func TestSwarmInterruptAndResume(t *testing.T) {
	triageProv := &scriptedProvider{scripts: [][]model.Event{
		handoffTurn("h1", "expert", "check this"),
		textTurn("sent to expert"),
	}}
	expertProv := &scriptedProvider{scripts: [][]model.Event{
		toolTurn(toolUseSpec{name: "gate", id: "t2", input: "{}"}),
		textTurn("resolved"),
	}}

	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "triage", triageProv)).
		AddAgent(testAgent(t, "expert", expertProv, gateTool("gate"))).
		Build()
	require.NoError(t, err)

	events, paused, err := runAndCollect(t, s, agent.Prompt("Fix it"))
	require.NoError(t, err)

	assert.Equal(t, StatusInterrupted, paused.Status)
	require.Len(t, paused.Interrupts, 1)
	assert.Equal(t, "gate", paused.Interrupts[0].Name)
	assert.Equal(t, StatusInterrupted, paused.Results["expert"].Status)
	assert.Equal(t, 2, paused.ExecutionCount)

	pauses := eventsOfType(events, EventNodeInterrupt)
	require.Len(t, pauses, 1)
	assert.Equal(t, "expert", pauses[0].NodeInterrupt.NodeID)

	res, err := s.Invoke(context.Background(), agent.Resume{{
		InterruptID: paused.Interrupts[0].ID,
		Response:    json.RawMessage(`"yes"`),
	}})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.ExecutionCount)
	assert.Equal(t, 2, res.Results["expert"].ExecutionCount)
	assert.Equal(t, "resolved", res.Results["expert"].Text())

	// The entry agent does not rerun; the paused turn replays without a
	// model call.
	assert.Equal(t, 2, triageProv.callCount())
	assert.Equal(t, 2, expertProv.callCount())
}

func TestSwarmPromptWhilePausedRejected(t *testing.T) {
	p := &scriptedProvider{scripts: [][]model.Event{
		toolTurn(toolUseSpec{name: "gate", id: "t1", input: "{}"}),
	}}
	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "solo", p, gateTool("gate"))).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Prompt("go"))
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)

	_, err = s.Invoke(context.Background(), agent.Prompt("another"))
	require.ErrorIs(t, err, ErrPendingInterrupts)
}

func TestSwarmResumeWithoutPauseRejected(t *testing.T) {
	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "solo", &scriptedProvider{})).
		Build()
	require.NoError(t, err)

	_, err = s.Invoke(context.Background(), agent.Resume{{InterruptID: "v1:none"}})
	require.ErrorIs(t, err, ErrNoPendingInterrupts)
}

func TestSwarmResumeUnknownInterruptID(t *testing.T) {
	p := &scriptedProvider{scripts: [][]model.Event{
		toolTurn(toolUseSpec{name: "gate", id: "t1", input: "{}"}),
	}}
	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "solo", p, gateTool("gate"))).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Prompt("go"))
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)

	_, err = s.Invoke(context.Background(), agent.Resume{{InterruptID: "v1:bogus"}})
	var unknown *interrupt.UnknownIDError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "v1:bogus", unknown.ID)
}

func TestSwarmStateRoundTripResumesOnFreshSwarm(t *testing.T) {
	p1 := &scriptedProvider{scripts: [][]model.Event{
		toolTurn(toolUseSpec{name: "gate", id: "t1", input: "{}"}),
	}}
	s1, err := NewSwarmBuilder().
		WithName("crew").
		AddAgent(testAgent(t, "solo", p1, gateTool("gate"))).
		Build()
	require.NoError(t, err)

	paused, err := s1.Invoke(context.Background(), agent.Prompt("Handle it"))
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, paused.Status)
	require.Len(t, paused.Interrupts, 1)

	state, err := s1.SerializeState()
	require.NoError(t, err)

	p2 := &scriptedProvider{scripts: [][]model.Event{textTurn("done after approval")}}
	s2, err := NewSwarmBuilder().
		WithName("crew").
		AddAgent(testAgent(t, "solo", p2, gateTool("gate"))).
		Build()
	require.NoError(t, err)
	require.NoError(t, s2.DeserializeState(state))

	res, err := s2.Invoke(context.Background(), agent.Resume{{
		InterruptID: paused.Interrupts[0].ID,
		Response:    json.RawMessage(`"yes"`),
	}})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.ExecutionCount)
	assert.Equal(t, "done after approval", res.Results["solo"].Text())
	assert.Equal(t, 1, p2.callCount(), "the replayed turn must not call the model again")
}

func TestSwarmDeserializeRejectsUnknownAgent(t *testing.T) {
	p := &scriptedProvider{scripts: [][]model.Event{textTurn("done")}}
	s1, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "known", p)).
		Build()
	require.NoError(t, err)
	_, err = s1.Invoke(context.Background(), agent.Prompt("go"))
	require.NoError(t, err)

	state, err := s1.SerializeState()
	require.NoError(t, err)

	s2, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "other", &scriptedProvider{})).
		Build()
	require.NoError(t, err)

	err = s2.DeserializeState(state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown agent "known"`)
}

func TestSwarmAgentCannotJoinTwoSwarms(t *testing.T) {
	a := testAgent(t, "a", &scriptedProvider{})
	_, err := NewSwarmBuilder().AddAgent(a).Build()
	require.NoError(t, err)

	_, err = NewSwarmBuilder().WithName("other").AddAgent(a).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `agent "a"`)
}

func TestSwarmBuildErrors(t *testing.T) {
	cases := []struct {
		name  string
		build func() (*Swarm, error)
		want  string
	}{
		{
			name:  "no agents",
			build: func() (*Swarm, error) { return NewSwarmBuilder().Build() },
			want:  "swarm has no agents",
		},
		{
			name: "nil agent",
			build: func() (*Swarm, error) {
				return NewSwarmBuilder().AddAgent(nil).Build()
			},
			want: "nil agent",
		},
		{
			name: "duplicate agent",
			build: func() (*Swarm, error) {
				return NewSwarmBuilder().
					AddAgent(testAgent(t, "a", &scriptedProvider{})).
					AddAgent(testAgent(t, "a", &scriptedProvider{})).
					Build()
			},
			want: `duplicate agent "a"`,
		},
		{
			name: "unknown entry point",
			build: func() (*Swarm, error) {
				return NewSwarmBuilder().
					AddAgent(testAgent(t, "a", &scriptedProvider{})).
					SetEntryPoint("ghost").
					Build()
			},
			want: `entry point references unknown agent "ghost"`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSwarmBlocksTaskPassesThrough(t *testing.T) {
	p := &scriptedProvider{scripts: [][]model.Event{textTurn("ok")}}
	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "solo", p)).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Blocks{message.NewTextBlock("raw payload")})
	require.NoError(t, err)

	// Blocks reach the entry agent untouched; only handoff turns get the
	// synthesized prompt.
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "raw payload", lastUserText(t, p.request(0)))
}

func TestSwarmNodeTimeout(t *testing.T) {
	p := &scriptedProvider{scripts: [][]model.Event{
		toolTurn(toolUseSpec{name: "hold", id: "h1", input: "{}"}),
	}}
	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "solo", p, waitTool("hold", nil, nil))).
		SetNodeTimeout(30 * time.Millisecond).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Prompt("go"))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Execution timed out after 30ms", res.FailureReason)
}

func TestSwarmExecutionTimeout(t *testing.T) {
	p := &scriptedProvider{scripts: [][]model.Event{
		toolTurn(toolUseSpec{name: "hold", id: "h1", input: "{}"}),
	}}
	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "solo", p, waitTool("hold", nil, nil))).
		SetExecutionTimeout(30 * time.Millisecond).
		Build()
	require.NoError(t, err)

	res, err := s.Invoke(context.Background(), agent.Prompt("go"))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Execution timed out after 30ms", res.FailureReason)
}

func TestSwarmConcurrentRunRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	p := &scriptedProvider{scripts: [][]model.Event{
		toolTurn(toolUseSpec{name: "hold", id: "h1", input: "{}"}),
		textTurn("done"),
	}}

	s, err := NewSwarmBuilder().
		AddAgent(testAgent(t, "solo", p, waitTool("hold", entered, release))).
		Build()
	require.NoError(t, err)

	run, err := s.Stream(context.Background(), agent.Prompt("go"))
	require.NoError(t, err)
	<-entered

	_, err = s.Stream(context.Background(), agent.Prompt("again"))
	var conflict *ConcurrentExecutionError
	require.ErrorAs(t, err, &conflict)

	close(release)
	for range run.Events() {
	}
	res, err := run.Result()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}
