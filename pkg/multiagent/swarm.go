package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/loom/internal/streams"
	"github.com/haasonsaas/loom/pkg/agent"
	"github.com/haasonsaas/loom/pkg/hooks"
	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/observability"
	"github.com/haasonsaas/loom/pkg/session"
	"github.com/haasonsaas/loom/pkg/tools"
)

const (
	// HandoffToolName is the coordination tool every swarm agent gets at
	// Build. The tool registry reserves the name, so user tools cannot
	// collide with it.
	HandoffToolName = "handoff_to_agent"

	// SharedContextStateKey is the invocation-state key under which the
	// active agent's tools see its shared context, a
	// map[string]json.RawMessage merged from prior handoffs.
	SharedContextStateKey = "shared_context"

	defaultMaxHandoffs   = 20
	defaultMaxIterations = 20
)

// SwarmBuilder assembles a Swarm.
type SwarmBuilder struct {
	name             string
	nodes            map[string]*node
	order            []string
	entryPoint       string
	maxHandoffs      int
	maxIterations    int
	executionTimeout time.Duration
	nodeTimeout      time.Duration
	detectionWindow  int
	minUniqueAgents  int
	hooks            *hooks.Registry
	session          session.Manager
	logger           *slog.Logger
	eventBuffer      int
	errs             []error
}

// NewSwarmBuilder starts an empty swarm definition. MaxHandoffs and
// MaxIterations default to 20; repetition detection is off until a
// window is set.
func NewSwarmBuilder() *SwarmBuilder {
	return &SwarmBuilder{
		nodes:           map[string]*node{},
		maxHandoffs:     defaultMaxHandoffs,
		maxIterations:   defaultMaxIterations,
		minUniqueAgents: 2,
	}
}

// WithName sets the swarm's name, used in events, hooks, and session
// keys. Default "swarm".
func (b *SwarmBuilder) WithName(name string) *SwarmBuilder {
	b.name = name
	return b
}

// AddAgent registers a under its own name. The first agent added is the
// default entry point.
func (b *SwarmBuilder) AddAgent(a *agent.Agent) *SwarmBuilder {
	if a == nil {
		b.errs = append(b.errs, errors.New("nil agent"))
		return b
	}
	id := a.Name()
	if _, exists := b.nodes[id]; exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate agent %q", id))
		return b
	}
	n, err := newNode(id, a)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.nodes[id] = n
	b.order = append(b.order, id)
	return b
}

// SetEntryPoint names the agent that receives the task first.
func (b *SwarmBuilder) SetEntryPoint(id string) *SwarmBuilder {
	b.entryPoint = id
	return b
}

// SetMaxHandoffs caps control transfers per run. Values at or below 0
// remove the cap.
func (b *SwarmBuilder) SetMaxHandoffs(n int) *SwarmBuilder {
	b.maxHandoffs = n
	return b
}

// SetMaxIterations caps agent turns per run. Values at or below 0 remove
// the cap.
func (b *SwarmBuilder) SetMaxIterations(n int) *SwarmBuilder {
	b.maxIterations = n
	return b
}

// SetExecutionTimeout bounds the whole run. 0 means none.
func (b *SwarmBuilder) SetExecutionTimeout(d time.Duration) *SwarmBuilder {
	b.executionTimeout = d
	return b
}

// SetNodeTimeout bounds each agent turn. 0 means none.
func (b *SwarmBuilder) SetNodeTimeout(d time.Duration) *SwarmBuilder {
	b.nodeTimeout = d
	return b
}

// SetRepetitiveHandoffDetectionWindow fails the run when the last window
// turns cycle among too few agents. Values at or below 0 disable the
// check.
func (b *SwarmBuilder) SetRepetitiveHandoffDetectionWindow(window int) *SwarmBuilder {
	b.detectionWindow = window
	return b
}

// SetRepetitiveHandoffMinUniqueAgents sets how many distinct agents the
// detection window must contain. Default 2.
func (b *SwarmBuilder) SetRepetitiveHandoffMinUniqueAgents(n int) *SwarmBuilder {
	b.minUniqueAgents = n
	return b
}

// WithHooks attaches a shared hook registry.
func (b *SwarmBuilder) WithHooks(reg *hooks.Registry) *SwarmBuilder {
	b.hooks = reg
	return b
}

// WithSessionManager persists run state after every turn and at terminal,
// keyed by the swarm's name.
func (b *SwarmBuilder) WithSessionManager(sm session.Manager) *SwarmBuilder {
	b.session = sm
	return b
}

// WithLogger sets the base logger.
func (b *SwarmBuilder) WithLogger(logger *slog.Logger) *SwarmBuilder {
	b.logger = logger
	return b
}

// WithEventBuffer sets the event queue capacity. Default 1000.
func (b *SwarmBuilder) WithEventBuffer(n int) *SwarmBuilder {
	b.eventBuffer = n
	return b
}

// Build validates the definition, injects the handoff tool into every
// agent, and returns the executable swarm. An agent already carrying the
// coordination tool (for example one registered with another swarm) fails
// the build.
func (b *SwarmBuilder) Build() (*Swarm, error) {
	errs := b.errs
	if len(b.nodes) == 0 {
		errs = append(errs, errors.New("swarm has no agents"))
	}

	entry := b.entryPoint
	if entry == "" && len(b.order) > 0 {
		entry = b.order[0]
	}
	if entry != "" {
		if _, ok := b.nodes[entry]; !ok {
			errs = append(errs, fmt.Errorf("entry point references unknown agent %q", entry))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("build swarm: %w", errors.Join(errs...))
	}

	name := b.name
	if name == "" {
		name = "swarm"
	}
	reg := b.hooks
	if reg == nil {
		reg = hooks.NewRegistry()
	}
	if b.session != nil {
		reg.AddProvider(b.session)
	}
	logger := b.logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	eventBuffer := b.eventBuffer
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}

	s := &Swarm{
		name:             name,
		nodes:            b.nodes,
		order:            b.order,
		entryPoint:       entry,
		maxHandoffs:      b.maxHandoffs,
		maxIterations:    b.maxIterations,
		executionTimeout: b.executionTimeout,
		nodeTimeout:      b.nodeTimeout,
		detectionWindow:  b.detectionWindow,
		minUniqueAgents:  b.minUniqueAgents,
		hooks:            reg,
		session:          b.session,
		logger:           logger.With("executor", name),
		eventBuffer:      eventBuffer,
		status:           StatusPending,
		results:          map[string]*NodeResult{},
		nodeExecCounts:   map[string]int{},
		sharedContext:    map[string]map[string]json.RawMessage{},
	}

	handoff := newHandoffTool(s)
	for _, id := range b.order {
		if err := b.nodes[id].agent.Registry().RegisterCoordination(handoff); err != nil {
			return nil, fmt.Errorf("build swarm: agent %q: %w", id, err)
		}
	}
	return s, nil
}

// Swarm runs one agent at a time. The active agent finishes its own loop;
// a handoff recorded during the turn then moves control to the named
// peer, with the handoff message and shared context as its input.
type Swarm struct {
	name             string
	nodes            map[string]*node
	order            []string
	entryPoint       string
	maxHandoffs      int
	maxIterations    int
	executionTimeout time.Duration
	nodeTimeout      time.Duration
	detectionWindow  int
	minUniqueAgents  int
	hooks            *hooks.Registry
	session          session.Manager
	logger           *slog.Logger
	eventBuffer      int

	inFlight atomic.Bool

	mu              sync.Mutex
	initialized     bool
	status          Status
	task            Task
	taskText        string
	results         map[string]*NodeResult
	history         []string
	handoffs        int
	activeNode      string
	pendingHandoff  *handoffRequest
	interruptedNode string
	pendingIns      []*interrupt.Interrupt
	executionCount  int
	nodeExecCounts  map[string]int
	executionTimeMs int64
	usage           model.Usage
	sharedContext   map[string]map[string]json.RawMessage
}

var _ Executor = (*Swarm)(nil)

// Name returns the swarm's configured name.
func (s *Swarm) Name() string { return s.name }

// Invoke runs the task to completion, discarding intermediate events.
func (s *Swarm) Invoke(ctx context.Context, task Task) (*Result, error) {
	run, err := s.Stream(ctx, task)
	if err != nil {
		return nil, err
	}
	for range run.Events() {
	}
	return run.Result()
}

// Stream starts a run and returns a handle to its event stream. The
// caller must drain Events; Result blocks until the run ends.
func (s *Swarm) Stream(ctx context.Context, task Task) (*Run, error) {
	if task == nil {
		return nil, fmt.Errorf("swarm %q: nil task", s.name)
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, &ConcurrentExecutionError{Name: s.name}
	}
	resume, err := s.acceptTask(task)
	if err != nil {
		s.inFlight.Store(false)
		return nil, err
	}

	events := make(chan Event, s.eventBuffer)
	run := &Run{events: events, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		defer close(events)
		defer s.inFlight.Store(false)
		run.result, run.err = s.run(ctx, events, resume)
	}()
	return run, nil
}

// acceptTask validates the task against the run state. Fresh tasks reset
// the state; resumes return the responses for the interrupted agent.
func (s *Swarm) acceptTask(task Task) ([]interrupt.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := task.(type) {
	case agent.Prompt, agent.Blocks:
		if len(s.pendingIns) > 0 {
			return nil, ErrPendingInterrupts
		}
		s.resetRunLocked(task, taskText(task))
		return nil, nil
	case agent.Resume:
		if len(s.pendingIns) == 0 || s.interruptedNode == "" {
			return nil, ErrNoPendingInterrupts
		}
		known := map[string]bool{}
		for _, in := range s.pendingIns {
			known[in.ID] = true
		}
		for _, resp := range v {
			if !known[resp.InterruptID] {
				return nil, fmt.Errorf("swarm %q: resume: %w", s.name, &interrupt.UnknownIDError{ID: resp.InterruptID})
			}
		}
		return v, nil
	default:
		return nil, fmt.Errorf("swarm %q: unsupported task type %T", s.name, task)
	}
}

func (s *Swarm) resetRunLocked(task Task, text string) {
	s.status = StatusPending
	s.task = task
	s.taskText = text
	s.results = map[string]*NodeResult{}
	s.history = nil
	s.handoffs = 0
	s.activeNode = ""
	s.pendingHandoff = nil
	s.interruptedNode = ""
	s.pendingIns = nil
	s.executionCount = 0
	s.nodeExecCounts = map[string]int{}
	s.executionTimeMs = 0
	s.usage = model.Usage{}
	s.sharedContext = map[string]map[string]json.RawMessage{}
}

func (s *Swarm) run(ctx context.Context, out chan<- Event, resume []interrupt.Response) (*Result, error) {
	start := time.Now()

	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	if err := s.hooks.Dispatch(ctx, &hooks.BeforeMultiAgentInvocation{
		ExecutorType: executorTypeSwarm,
		Name:         s.name,
	}); err != nil {
		return nil, err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if s.executionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.executionTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	s.mu.Lock()
	s.status = StatusExecuting
	s.mu.Unlock()

	ring := streams.NewRing[Event](s.eventBuffer)
	var pump sync.WaitGroup
	pump.Add(1)
	go func() {
		defer pump.Done()
		ring.Forward(ctx, out)
	}()

	failure := s.loop(runCtx, ring, resume)
	ring.Close()
	pump.Wait()

	s.mu.Lock()
	status := StatusCompleted
	switch {
	case failure != "":
		status = StatusFailed
	case len(s.pendingIns) > 0:
		status = StatusInterrupted
	}
	s.status = status
	s.executionTimeMs += time.Since(start).Milliseconds()
	result := s.resultLocked(failure)
	s.mu.Unlock()

	s.saveSession(ctx)

	err := s.hooks.Dispatch(ctx, &hooks.AfterMultiAgentInvocation{
		ExecutorType: executorTypeSwarm,
		Name:         s.name,
		Status:       string(status),
	})

	select {
	case out <- Event{Type: EventExecutorStop, ExecutorStop: &ExecutorStopEvent{Result: result}}:
	case <-ctx.Done():
	}
	return result, err
}

// loop drives agent turns until an agent completes without handing off,
// a limit trips, or the run pauses. It returns a failure reason, empty
// when the run completed or paused cleanly.
func (s *Swarm) loop(ctx context.Context, ring *streams.Ring[Event], resume []interrupt.Response) string {
	s.mu.Lock()
	current := s.entryPoint
	var input Task
	resuming := resume != nil
	if resuming {
		current = s.interruptedNode
		input = agent.Resume(resume)
	} else {
		input = s.turnInputLocked(current, "")
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if !resuming {
			if s.maxIterations > 0 && len(s.history) >= s.maxIterations {
				s.mu.Unlock()
				return fmt.Sprintf("Max iterations reached: %d", s.maxIterations)
			}
			s.history = append(s.history, current)
		}
		resuming = false
		s.activeNode = current
		s.pendingHandoff = nil
		s.executionCount++
		s.nodeExecCounts[current]++
		execCount := s.nodeExecCounts[current]
		n := s.nodes[current]
		shared := make(map[string]json.RawMessage, len(s.sharedContext[current]))
		for k, v := range s.sharedContext[current] {
			shared[k] = v
		}
		s.mu.Unlock()

		n.agent.SetStateValue(SharedContextStateKey, shared)

		result, usage, timedOut := runNode(ctx, nodeRun{
			executorType: executorTypeSwarm,
			executorName: s.name,
			hooks:        s.hooks,
			node:         n,
			task:         input,
			execCount:    execCount,
			nodeTimeout:  s.nodeTimeout,
			emit:         func(ev Event) { ring.Push(ev) },
		})

		s.mu.Lock()
		s.results[current] = result
		s.usage.Add(usage)
		s.activeNode = ""
		// Any prior pending interrupts were consumed by this execution;
		// only a fresh pause reinstates them.
		s.interruptedNode = ""
		s.pendingIns = nil
		handoff := s.pendingHandoff
		s.pendingHandoff = nil

		switch result.Status {
		case StatusFailed:
			s.mu.Unlock()
			switch {
			case s.executionTimeout > 0 && ctx.Err() == context.DeadlineExceeded:
				return fmt.Sprintf("Execution timed out after %s", s.executionTimeout)
			case timedOut:
				return result.Err
			default:
				return fmt.Sprintf("node %q failed: %s", current, result.Err)
			}
		case StatusInterrupted:
			s.interruptedNode = current
			s.pendingIns = result.Interrupts()
			s.mu.Unlock()
			s.saveSession(ctx)
			return ""
		}

		s.mu.Unlock()
		s.saveSession(ctx)

		if handoff == nil {
			return ""
		}

		s.mu.Lock()
		if s.maxHandoffs > 0 && s.handoffs >= s.maxHandoffs {
			s.mu.Unlock()
			return fmt.Sprintf("Max handoffs reached: %d", s.maxHandoffs)
		}
		s.handoffs++
		if reason := s.repetitionReasonLocked(handoff.AgentName); reason != "" {
			s.mu.Unlock()
			return reason
		}
		s.mergeContextLocked(handoff.AgentName, handoff.Context)
		input = s.turnInputLocked(handoff.AgentName, handoff.Message)
		s.mu.Unlock()

		ring.Push(Event{Type: EventHandoff, Handoff: &HandoffEvent{
			From:    []string{current},
			To:      []string{handoff.AgentName},
			Message: handoff.Message,
		}})
		current = handoff.AgentName
	}
}

// repetitionReasonLocked checks the sliding window of turns, including
// the upcoming target, for too few distinct agents. A window at or below
// 0 disables the check.
func (s *Swarm) repetitionReasonLocked(target string) string {
	if s.detectionWindow <= 0 {
		return ""
	}
	candidate := append(append([]string(nil), s.history...), target)
	if len(candidate) < s.detectionWindow {
		return ""
	}
	recent := candidate[len(candidate)-s.detectionWindow:]
	unique := map[string]bool{}
	for _, id := range recent {
		unique[id] = true
	}
	if len(unique) < s.minUniqueAgents {
		return fmt.Sprintf("Repetitive handoff detected: last %d turns cycled between %d agents", s.detectionWindow, len(unique))
	}
	return ""
}

func (s *Swarm) mergeContextLocked(target string, ctx map[string]json.RawMessage) {
	if len(ctx) == 0 {
		return
	}
	merged := s.sharedContext[target]
	if merged == nil {
		merged = map[string]json.RawMessage{}
		s.sharedContext[target] = merged
	}
	for k, v := range ctx {
		merged[k] = v
	}
}

// turnInputLocked synthesizes an agent's turn input from the task, the
// handoff message, its shared context, and its peers. The entry turn of
// a Blocks task passes the blocks through untouched.
func (s *Swarm) turnInputLocked(nodeID, handoffMessage string) Task {
	if handoffMessage == "" && len(s.history) == 0 {
		if blocks, ok := s.task.(agent.Blocks); ok {
			return blocks
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s", s.taskText)
	if handoffMessage != "" {
		fmt.Fprintf(&b, "\n\nHandoff message: %s", handoffMessage)
	}
	if sc := s.sharedContext[nodeID]; len(sc) > 0 {
		if blob, err := json.Marshal(sc); err == nil {
			fmt.Fprintf(&b, "\n\nShared context: %s", blob)
		}
	}
	if peers := s.peersLocked(nodeID); len(peers) > 0 {
		fmt.Fprintf(&b, "\n\nYou can hand off to: %s (use the %s tool).", strings.Join(peers, ", "), HandoffToolName)
	}
	return agent.Prompt(b.String())
}

func (s *Swarm) peersLocked(nodeID string) []string {
	var peers []string
	for _, id := range s.order {
		if id != nodeID {
			peers = append(peers, id)
		}
	}
	return peers
}

func (s *Swarm) resultLocked(failure string) *Result {
	results := make(map[string]*NodeResult, len(s.results))
	for id, r := range s.results {
		results[id] = r
	}
	return &Result{
		Status:           s.status,
		Results:          results,
		AccumulatedUsage: s.usage,
		ExecutionCount:   s.executionCount,
		ExecutionTimeMs:  s.executionTimeMs,
		FailureReason:    failure,
		Interrupts:       append([]*interrupt.Interrupt(nil), s.pendingIns...),
	}
}

func (s *Swarm) ensureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.hooks.Dispatch(ctx, &hooks.MultiAgentInitialized{
		ExecutorType: executorTypeSwarm,
		Name:         s.name,
	}); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

// saveSession persists the run state when a session manager is attached.
// Persistence is advisory: failures are logged, never fatal to the run.
func (s *Swarm) saveSession(ctx context.Context) {
	if s.session == nil {
		return
	}
	state, err := s.SerializeState()
	if err == nil {
		err = s.session.Save(ctx, s.name, state)
	}
	if err != nil {
		s.logger.Warn("session save failed", "error", err)
	}
}

// SerializeState snapshots the run for persistence.
func (s *Swarm) SerializeState() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &executorState{
		Type:             executorTypeSwarm,
		Name:             s.name,
		Status:           s.status,
		Task:             s.taskText,
		NodeResults:      make(map[string]*NodeResult, len(s.results)),
		ExecutionCount:   s.executionCount,
		ExecutionTimeMs:  s.executionTimeMs,
		AccumulatedUsage: s.usage,
		NodeHistory:      append([]string(nil), s.history...),
		Handoffs:         s.handoffs,
	}
	for id, r := range s.results {
		state.NodeResults[id] = r
	}
	if len(s.sharedContext) > 0 {
		state.SharedContext = make(map[string]map[string]json.RawMessage, len(s.sharedContext))
		for id, sc := range s.sharedContext {
			inner := make(map[string]json.RawMessage, len(sc))
			for k, v := range sc {
				inner[k] = v
			}
			state.SharedContext[id] = inner
		}
	}

	interrupted := map[string]bool{}
	if s.interruptedNode != "" {
		interrupted[s.interruptedNode] = true
		state.Interrupts = map[string][]*interrupt.Interrupt{
			s.interruptedNode: s.pendingIns,
		}
	}
	if err := captureNodeState(state, s.nodes, interrupted); err != nil {
		return nil, err
	}
	return json.Marshal(state)
}

// DeserializeState restores a snapshot produced by a swarm's
// SerializeState, including the interrupted agent's state.
func (s *Swarm) DeserializeState(data json.RawMessage) error {
	state, err := decodeExecutorState(data, executorTypeSwarm)
	if err != nil {
		return err
	}
	if s.inFlight.Load() {
		return &ConcurrentExecutionError{Name: s.name}
	}
	for id := range state.NodeResults {
		if _, ok := s.nodes[id]; !ok {
			return fmt.Errorf("swarm %q: state references unknown agent %q", s.name, id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = state.Status
	s.taskText = state.Task
	s.task = agent.Prompt(state.Task)
	s.results = state.NodeResults
	if s.results == nil {
		s.results = map[string]*NodeResult{}
	}
	s.history = state.NodeHistory
	s.handoffs = state.Handoffs
	s.executionCount = state.ExecutionCount
	s.executionTimeMs = state.ExecutionTimeMs
	s.usage = state.AccumulatedUsage
	s.sharedContext = state.SharedContext
	if s.sharedContext == nil {
		s.sharedContext = map[string]map[string]json.RawMessage{}
	}
	s.nodeExecCounts = map[string]int{}
	for id, r := range s.results {
		s.nodeExecCounts[id] = r.ExecutionCount
	}
	s.interruptedNode = ""
	s.pendingIns = nil
	for id, ins := range state.Interrupts {
		s.interruptedNode = id
		s.pendingIns = ins
	}
	return restoreNodeState(state, s.nodes)
}

// handoffRequest is the coordination tool's input.
type handoffRequest struct {
	AgentName string                     `json:"agent_name"`
	Message   string                     `json:"message"`
	Context   map[string]json.RawMessage `json:"context,omitempty"`
}

// newHandoffTool builds the handoff_to_agent tool for s. The input schema
// enumerates the swarm's agents, so the model only sees valid targets.
func newHandoffTool(s *Swarm) tools.Tool {
	peers := append([]string(nil), s.order...)
	sort.Strings(peers)
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{
				"type":        "string",
				"enum":        peers,
				"description": "Name of the agent to hand off to.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "What the next agent should do, with any findings so far.",
			},
			"context": map[string]any{
				"type":        "object",
				"description": "Key-value context to share with the next agent.",
			},
		},
		"required":             []string{"agent_name", "message"},
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(schema)

	return tools.Func(
		HandoffToolName,
		"Hand off the conversation to another agent. The handoff happens after your current turn finishes.",
		raw,
		s.handleHandoff,
	)
}

// handleHandoff records the requested handoff in swarm state. Invalid
// targets return error tool results so the agent's turn can continue.
func (s *Swarm) handleHandoff(ctx context.Context, inv *tools.Invocation) (*message.ToolResultBlock, error) {
	var req handoffRequest
	if err := inv.Input(&req); err != nil {
		return message.ErrorResult(inv.ToolUse.ToolUseID, fmt.Sprintf("Invalid handoff request: %v", err)), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[req.AgentName]; !ok {
		return message.ErrorResult(inv.ToolUse.ToolUseID, fmt.Sprintf(
			"Target agent not found: %s. Available agents: %s",
			req.AgentName, strings.Join(s.order, ", "),
		)), nil
	}
	if req.AgentName == s.activeNode {
		return message.ErrorResult(inv.ToolUse.ToolUseID, "cannot hand off to self"), nil
	}
	for key := range req.Context {
		if key == "" {
			return message.ErrorResult(inv.ToolUse.ToolUseID, "Invalid handoff request: context keys must be non-empty"), nil
		}
	}

	s.pendingHandoff = &req
	return message.SuccessTextResult(inv.ToolUse.ToolUseID, fmt.Sprintf("Handed off to %s", req.AgentName)), nil
}
