package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/loom/pkg/hooks"
	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/metrics"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/tools"
)

// Interrupt-state context keys a paused turn is preserved under.
const (
	assistantMessageKey = "assistant_message"
	toolResultKeyPrefix = "tool_result:"
)

// invocation is the per-run state threaded through the loop phases.
type invocation struct {
	id     string
	logger *slog.Logger
	emit   func(Event) bool
	conv   []message.Message
}

func (a *Agent) run(parent context.Context, events chan<- Event, resuming bool) (result *Result, err error) {
	inv := &invocation{
		id:   uuid.NewString(),
		conv: a.Messages(),
	}
	inv.logger = a.logger.With("invocation_id", inv.id)
	inv.emit = func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-parent.Done():
			return false
		}
	}

	ctx, span := a.tracer.Start(parent, "agent.invoke", trace.WithAttributes(
		attribute.String("agent.name", a.name),
		attribute.String("invocation.id", inv.id),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			_ = a.hooks.Dispatch(ctx, &hooks.AfterInvocation{
				AgentName:    a.name,
				InvocationID: inv.id,
				Err:          fmt.Errorf("panic: %v", p),
			})
			panic(p)
		}
		after := &hooks.AfterInvocation{AgentName: a.name, InvocationID: inv.id, Err: err}
		if derr := a.hooks.Dispatch(ctx, after); derr != nil && err == nil {
			result, err = nil, derr
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			inv.logger.Warn("invocation failed", "error", err)
		} else {
			inv.logger.Debug("invocation completed", "stop_reason", string(result.StopReason))
		}
	}()

	inv.logger.Debug("invocation started", "resuming", resuming)

	if herr := a.hooks.Dispatch(ctx, &hooks.BeforeInvocation{AgentName: a.name, InvocationID: inv.id}); herr != nil {
		return nil, &LoopError{Phase: PhaseInit, Err: herr}
	}
	if !inv.emit(Event{Type: EventInvocationStart, InvocationStart: &InvocationStartEvent{
		AgentName:    a.name,
		InvocationID: inv.id,
	}}) {
		return nil, ctx.Err()
	}

	for cycle := 1; cycle <= a.maxCycles; cycle++ {
		res, done, cerr := a.runCycle(ctx, inv, cycle, resuming)
		resuming = false
		if cerr != nil {
			return nil, cerr
		}
		if done {
			if !inv.emit(Event{Type: EventInvocationStop, InvocationStop: &InvocationStopEvent{Result: res}}) {
				return nil, ctx.Err()
			}
			return res, nil
		}
	}
	return nil, &LoopError{
		Phase: PhaseMaxCycles,
		Cycle: a.maxCycles,
		Err:   fmt.Errorf("no terminal response after %d cycles", a.maxCycles),
	}
}

// runCycle runs one model-call/tool-execution cycle. It returns done=true
// with the terminal result when the invocation ends, done=false when the
// loop should call the model again. A resuming cycle skips the model call
// and replays the preserved turn.
func (a *Agent) runCycle(ctx context.Context, inv *invocation, cycle int, resuming bool) (*Result, bool, error) {
	cycleTrace, closeCycle := a.collector.StartCycle()
	attrs := make(map[string]any)
	defer func() { closeCycle(attrs) }()

	if !inv.emit(Event{Type: EventCycleStart, CycleStart: &CycleStartEvent{Cycle: cycle}}) {
		return nil, false, ctx.Err()
	}
	inv.logger.Debug("cycle started", "cycle", cycle)

	var assistant message.Message
	var stopReason model.StopReason
	if resuming {
		restored, err := a.restoreAssistantMessage()
		if err != nil {
			attrs["error"] = err.Error()
			return nil, false, &LoopError{Phase: PhaseResume, Cycle: cycle, Err: err}
		}
		assistant = restored
		stopReason = model.StopToolUse
	} else {
		turn, err := a.modelCall(ctx, inv, cycle)
		if err != nil {
			attrs["error"] = err.Error()
			return nil, false, err
		}
		assistant = turn.Message
		stopReason = turn.StopReason
	}
	attrs["stopReason"] = string(stopReason)

	// A structured output capture ends the invocation without executing
	// anything; the assistant message still commits.
	if a.responseSchema != nil {
		structured, ok, serr := a.captureStructured(&assistant)
		if serr != nil {
			attrs["error"] = serr.Error()
			return nil, false, &LoopError{Phase: PhaseModelCall, Cycle: cycle, Err: serr}
		}
		if ok {
			a.commit(assistant)
			inv.conv = append(inv.conv, assistant)
			closeCycle(attrs)
			res := &Result{
				StopReason: stopReason,
				Message:    &assistant,
				Structured: structured,
				Metrics:    a.collector.Metrics(),
			}
			return res, true, nil
		}
	}

	// A truncated turn must not commit; retrying would replay the same
	// request, so surface it to the caller instead.
	if stopReason == model.StopMaxTokens {
		mtErr := &model.MaxTokensError{Message: &assistant}
		attrs["error"] = mtErr.Error()
		return nil, false, &LoopError{Phase: PhaseModelCall, Cycle: cycle, Err: mtErr}
	}

	if !assistant.HasToolUse() {
		a.commit(assistant)
		inv.conv = append(inv.conv, assistant)
		closeCycle(attrs)
		res := &Result{
			StopReason: stopReason,
			Message:    &assistant,
			Metrics:    a.collector.Metrics(),
		}
		return res, true, nil
	}

	phase, err := a.executeTools(ctx, inv, cycle, &assistant, cycleTrace)
	if err != nil {
		// Nothing from this turn committed; the conversation is unchanged.
		attrs["error"] = err.Error()
		return nil, false, err
	}
	if phase.paused {
		if perr := a.preserveTurn(&assistant, phase.results); perr != nil {
			attrs["error"] = perr.Error()
			return nil, false, &LoopError{Phase: PhaseCommit, Cycle: cycle, Err: perr}
		}
		attrs["stopReason"] = string(model.StopInterrupt)
		closeCycle(attrs)
		res := &Result{
			StopReason: model.StopInterrupt,
			Message:    &assistant,
			Metrics:    a.collector.Metrics(),
			Interrupts: a.interrupts.Pending(),
		}
		inv.logger.Debug("turn paused", "pending_interrupts", len(res.Interrupts))
		return res, true, nil
	}

	// The turn succeeded end to end: assistant message and tool results
	// commit together, and any replayed interrupt state is spent.
	resultMsg := phase.resultMessage(assistant.ToolUses())
	a.commit(assistant, resultMsg)
	inv.conv = append(inv.conv, assistant, resultMsg)
	a.interrupts.Reset()
	if !inv.emit(Event{Type: EventToolsStop, ToolsStop: &ToolsStopEvent{Message: &resultMsg}}) {
		return nil, false, ctx.Err()
	}
	return nil, false, nil
}

// modelCall sends the conversation to the provider and assembles the turn,
// forwarding every stream event and recording usage.
func (a *Agent) modelCall(ctx context.Context, inv *invocation, cycle int) (*model.Turn, error) {
	snapshot := message.CloneMessages(inv.conv)
	if err := a.hooks.Dispatch(ctx, &hooks.BeforeModelCall{
		AgentName:    a.name,
		InvocationID: inv.id,
		Messages:     snapshot,
	}); err != nil {
		return nil, &LoopError{Phase: PhaseModelCall, Cycle: cycle, Err: err}
	}
	if !inv.emit(Event{Type: EventModelCallStart, ModelCallStart: &ModelCallStartEvent{Messages: snapshot}}) {
		return nil, ctx.Err()
	}

	req := &model.Request{
		Messages:  inv.conv,
		System:    a.systemPrompt,
		ToolSpecs: a.registry.Specs(),
	}
	if a.responseSchema != nil {
		req.ToolSpecs = append(req.ToolSpecs, a.schemaToolSpec())
		req.ToolChoice = &model.ToolChoice{Mode: model.ToolChoiceAuto}
	}

	ctx, span := a.tracer.Start(ctx, "model."+a.provider.Name(), trace.WithAttributes(
		attribute.String("model.provider", a.provider.Name()),
		attribute.Int("agent.cycle", cycle),
	))
	defer span.End()

	stream, err := a.provider.Stream(ctx, req)
	if err != nil {
		err = fmt.Errorf("start model stream: %w", err)
		span.RecordError(err)
		_ = a.hooks.Dispatch(ctx, &hooks.AfterModelCall{AgentName: a.name, InvocationID: inv.id, Err: err})
		return nil, &LoopError{Phase: PhaseModelCall, Cycle: cycle, Err: err}
	}

	asm, turn, err := model.Consume(ctx, stream, func(ev model.Event) error {
		if !inv.emit(Event{Type: EventModelStream, ModelStream: &ev}) {
			return ctx.Err()
		}
		return nil
	})

	var usage model.Usage
	if u := asm.Usage(); u != nil {
		usage = *u
	}
	a.collector.RecordModelInvocation(usage, asm.LatencyMs(), asm.TTFBMs())

	after := &hooks.AfterModelCall{AgentName: a.name, InvocationID: inv.id, Err: err}
	if turn != nil {
		after.Message = &turn.Message
		after.StopReason = turn.StopReason
	}
	if derr := a.hooks.Dispatch(ctx, after); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		span.RecordError(err)
		return nil, &LoopError{Phase: PhaseModelCall, Cycle: cycle, Err: err}
	}

	if !inv.emit(Event{Type: EventModelCallStop, ModelCallStop: &ModelCallStopEvent{
		Message:    &turn.Message,
		StopReason: turn.StopReason,
	}}) {
		return nil, ctx.Err()
	}
	inv.logger.Debug("model turn assembled",
		"stop_reason", string(turn.StopReason),
		"blocks", len(turn.Message.Content))
	return turn, nil
}

// toolPhase collects the outcome of one tool execution phase.
type toolPhase struct {
	results map[string]*message.ToolResultBlock
	paused  bool
}

// resultMessage builds the user message carrying this turn's tool results,
// in tool-use block order.
func (p *toolPhase) resultMessage(uses []*message.ToolUseBlock) message.Message {
	blocks := make([]message.ContentBlock, 0, len(uses))
	for _, use := range uses {
		if res, ok := p.results[use.ToolUseID]; ok {
			blocks = append(blocks, message.NewToolResultBlock(res))
		}
	}
	return message.NewUserMessage(blocks...)
}

// executeTools runs the turn's tool uses sequentially in block order. A
// raised interrupt marks the phase paused and moves on, so every pause
// point of the turn is collected before the loop reports them together.
func (a *Agent) executeTools(ctx context.Context, inv *invocation, cycle int, assistant *message.Message, cycleTrace *metrics.Trace) (*toolPhase, error) {
	uses := assistant.ToolUses()
	if !inv.emit(Event{Type: EventToolsStart, ToolsStart: &ToolsStartEvent{ToolUses: uses}}) {
		return nil, ctx.Err()
	}
	phase := &toolPhase{results: make(map[string]*message.ToolResultBlock, len(uses))}
	for _, use := range uses {
		// A resumed turn reuses results that completed before the pause.
		if raw, ok := a.interrupts.Context(toolResultKeyPrefix + use.ToolUseID); ok {
			res := &message.ToolResultBlock{}
			if err := json.Unmarshal(raw, res); err != nil {
				return nil, &LoopError{
					Phase: PhaseResume,
					Cycle: cycle,
					Err:   fmt.Errorf("restore result for tool use %s: %w", use.ToolUseID, err),
				}
			}
			phase.results[use.ToolUseID] = res
			if !inv.emit(toolResultEvent(use.ToolUseID, res)) {
				return nil, ctx.Err()
			}
			continue
		}

		res, err := a.dispatchTool(ctx, inv, use, cycleTrace)
		if err != nil {
			var raised *interrupt.Raised
			if errors.As(err, &raised) {
				inv.logger.Debug("tool raised interrupt",
					"tool", use.Name,
					"interrupt_id", raised.Interrupt.ID)
				phase.paused = true
				continue
			}
			return nil, &LoopError{Phase: PhaseToolExecution, Cycle: cycle, Err: err}
		}
		phase.results[use.ToolUseID] = res
		if !inv.emit(toolResultEvent(use.ToolUseID, res)) {
			return nil, ctx.Err()
		}
	}
	return phase, nil
}

// dispatchTool runs the hook envelope around one tool use: before-hooks may
// rewrite the input, cancel the call, or raise an interrupt; after-hooks
// observe the settled outcome.
func (a *Agent) dispatchTool(ctx context.Context, inv *invocation, use *message.ToolUseBlock, cycleTrace *metrics.Trace) (*message.ToolResultBlock, error) {
	hookRaiser := interrupt.NewRaiser(a.interrupts, interrupt.OriginBeforeToolCall, use.ToolUseID)
	before := &hooks.BeforeToolCall{
		AgentName:    a.name,
		InvocationID: inv.id,
		ToolUse:      use,
		Interrupt:    hookRaiser.Interrupt,
	}
	if err := a.hooks.Dispatch(ctx, before); err != nil {
		return nil, err
	}
	if cancelled, reason := before.Cancelled(); cancelled {
		if reason == "" {
			reason = "tool call cancelled"
		}
		return a.finishTool(ctx, inv, use, message.ErrorResult(use.ToolUseID, reason), nil)
	}

	tool, ok := a.registry.Get(use.Name)
	if !ok {
		inv.logger.Warn("model requested unknown tool", "tool", use.Name)
		res := message.ErrorResult(use.ToolUseID, fmt.Sprintf("Unknown tool: %s", use.Name))
		return a.finishTool(ctx, inv, use, res, nil)
	}
	if verr := a.registry.ValidateInput(use.Name, use.Input); verr != nil {
		inv.logger.Warn("tool input rejected by schema", "tool", use.Name, "error", verr)
		res := message.ErrorResult(use.ToolUseID, fmt.Sprintf("Invalid input for tool %s: %s", use.Name, verr))
		return a.finishTool(ctx, inv, use, res, nil)
	}

	res, err := a.executeTool(ctx, inv, tool, use, cycleTrace)
	return a.finishTool(ctx, inv, use, res, err)
}

// finishTool dispatches AfterToolCall and settles the terminal pair. Raised
// interrupts pass through untouched; they are pauses, not outcomes.
func (a *Agent) finishTool(ctx context.Context, inv *invocation, use *message.ToolUseBlock, res *message.ToolResultBlock, err error) (*message.ToolResultBlock, error) {
	var raised *interrupt.Raised
	if errors.As(err, &raised) {
		return nil, err
	}
	after := &hooks.AfterToolCall{
		AgentName:    a.name,
		InvocationID: inv.id,
		ToolUse:      use,
		Result:       res,
		Err:          err,
	}
	if derr := a.hooks.Dispatch(ctx, after); derr != nil && err == nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// executeTool runs one tool stream to its terminal, forwarding progress
// events and recording the execution in metrics and traces.
func (a *Agent) executeTool(ctx context.Context, inv *invocation, tool tools.Tool, use *message.ToolUseBlock, cycleTrace *metrics.Trace) (*message.ToolResultBlock, error) {
	exec := a.collector.StartToolExecution(use, cycleTrace)
	defer exec.Close()

	ctx, span := a.tracer.Start(ctx, "tool."+use.Name, trace.WithAttributes(
		attribute.String("tool.name", use.Name),
		attribute.String("tool.use_id", use.ToolUseID),
	))
	defer span.End()

	raiser := interrupt.NewRaiser(a.interrupts, interrupt.OriginToolCall, use.ToolUseID)
	logger := inv.logger.With("tool", use.Name, "tool_use_id", use.ToolUseID)
	logger.Debug("tool execution started")

	stream := tool.Stream(ctx, &tools.Invocation{
		ToolUse:   use,
		State:     a.invocationState,
		Interrupt: raiser.Interrupt,
		Logger:    logger,
	})
	res, err := tools.Collect(ctx, stream, func(ev tools.Event) error {
		if ev.Type != tools.EventProgress || ev.Progress == nil {
			return nil
		}
		if !inv.emit(Event{Type: EventToolProgress, ToolProgress: &ToolProgressEvent{
			ToolUseID: use.ToolUseID,
			Progress:  ev.Progress,
		}}) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		var raised *interrupt.Raised
		if !errors.As(err, &raised) {
			span.RecordError(err)
			logger.Warn("tool execution failed", "error", err)
		}
		return nil, err
	}
	if res == nil {
		rerr := fmt.Errorf("tool %q closed its stream without a result", use.Name)
		span.RecordError(rerr)
		return nil, rerr
	}
	if res.ToolUseID == "" {
		res.ToolUseID = use.ToolUseID
	}
	if res.Status == message.ToolResultSuccess {
		exec.MarkSuccess()
	}
	logger.Debug("tool execution finished", "status", string(res.Status))
	return res, nil
}

// preserveTurn stores the paused turn in the interrupt state: the assembled
// assistant message plus every result that completed before the pause.
func (a *Agent) preserveTurn(assistant *message.Message, results map[string]*message.ToolResultBlock) error {
	raw, err := json.Marshal(assistant)
	if err != nil {
		return fmt.Errorf("preserve assistant message: %w", err)
	}
	a.interrupts.SetContext(assistantMessageKey, raw)
	for id, res := range results {
		data, merr := json.Marshal(res)
		if merr != nil {
			return fmt.Errorf("preserve result for tool use %s: %w", id, merr)
		}
		a.interrupts.SetContext(toolResultKeyPrefix+id, data)
	}
	return nil
}

// restoreAssistantMessage loads the preserved assistant message of a paused
// turn.
func (a *Agent) restoreAssistantMessage() (message.Message, error) {
	raw, ok := a.interrupts.Context(assistantMessageKey)
	if !ok {
		return message.Message{}, fmt.Errorf("paused turn has no preserved assistant message")
	}
	var msg message.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return message.Message{}, fmt.Errorf("restore assistant message: %w", err)
	}
	return msg, nil
}

func toolResultEvent(toolUseID string, res *message.ToolResultBlock) Event {
	return Event{Type: EventToolResult, ToolResult: &ToolResultEvent{ToolUseID: toolUseID, Result: res}}
}
