package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/loom/internal/streams"
	"github.com/haasonsaas/loom/pkg/agent"
	"github.com/haasonsaas/loom/pkg/hooks"
	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/observability"
	"github.com/haasonsaas/loom/pkg/session"
)

// defaultEventBuffer is the per-node event queue capacity. Overflowing
// queues drop their oldest events rather than stall node execution.
const defaultEventBuffer = 1000

// GraphState is a read-only snapshot of a run passed to edge conditions.
type GraphState struct {
	TaskText       string
	CompletedOrder []string
	Results        map[string]*NodeResult
	ExecutionCount int
}

// Condition gates an edge on the current run state. Conditions run under
// the graph's state lock and must be pure.
type Condition func(*GraphState) bool

type edge struct {
	from      string
	to        string
	condition Condition
}

// GraphBuilder assembles a Graph. Zero values mean: inferred entry
// points, unlimited executions, no timeouts, fresh hook registry.
type GraphBuilder struct {
	name              string
	nodes             map[string]*node
	order             []string
	edges             []*edge
	entryPoints       []string
	maxNodeExecutions int
	executionTimeout  time.Duration
	nodeTimeout       time.Duration
	resetOnRevisit    bool
	hooks             *hooks.Registry
	session           session.Manager
	logger            *slog.Logger
	eventBuffer       int
	errs              []error
}

// NewGraphBuilder starts an empty graph definition.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{nodes: map[string]*node{}}
}

// WithName sets the graph's name, used in events, hooks, and session keys.
// Default "graph".
func (b *GraphBuilder) WithName(name string) *GraphBuilder {
	b.name = name
	return b
}

// AddNode registers executor under id. Executor must be an *agent.Agent
// or an Executor (a nested graph or swarm).
func (b *GraphBuilder) AddNode(id string, executor any) *GraphBuilder {
	if id == "" {
		b.errs = append(b.errs, errors.New("node id is required"))
		return b
	}
	if _, exists := b.nodes[id]; exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate node %q", id))
		return b
	}
	n, err := newNode(id, executor)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.nodes[id] = n
	b.order = append(b.order, id)
	return b
}

// AddEdge declares that `to` depends on `from` completing.
func (b *GraphBuilder) AddEdge(from, to string) *GraphBuilder {
	return b.AddEdgeIf(from, to, nil)
}

// AddEdgeIf declares a dependency gated by cond, evaluated against the run
// state when `from` completes.
func (b *GraphBuilder) AddEdgeIf(from, to string, cond Condition) *GraphBuilder {
	b.edges = append(b.edges, &edge{from: from, to: to, condition: cond})
	return b
}

// SetEntryPoints overrides entry-point inference.
func (b *GraphBuilder) SetEntryPoints(ids ...string) *GraphBuilder {
	b.entryPoints = ids
	return b
}

// SetMaxNodeExecutions caps node executions per run, re-executions
// included. 0 means unlimited.
func (b *GraphBuilder) SetMaxNodeExecutions(n int) *GraphBuilder {
	b.maxNodeExecutions = n
	return b
}

// SetExecutionTimeout bounds the whole run. 0 means none.
func (b *GraphBuilder) SetExecutionTimeout(d time.Duration) *GraphBuilder {
	b.executionTimeout = d
	return b
}

// SetNodeTimeout bounds each node execution. 0 means none.
func (b *GraphBuilder) SetNodeTimeout(d time.Duration) *GraphBuilder {
	b.nodeTimeout = d
	return b
}

// ResetOnRevisit restores an agent node's registration-time conversation
// before re-executing it. Without it, completed nodes never re-enter and
// cyclic edges do not fire.
func (b *GraphBuilder) ResetOnRevisit(reset bool) *GraphBuilder {
	b.resetOnRevisit = reset
	return b
}

// WithHooks attaches a shared hook registry.
func (b *GraphBuilder) WithHooks(reg *hooks.Registry) *GraphBuilder {
	b.hooks = reg
	return b
}

// WithSessionManager persists run state after every node completion and
// at terminal, keyed by the graph's name.
func (b *GraphBuilder) WithSessionManager(sm session.Manager) *GraphBuilder {
	b.session = sm
	return b
}

// WithLogger sets the base logger.
func (b *GraphBuilder) WithLogger(logger *slog.Logger) *GraphBuilder {
	b.logger = logger
	return b
}

// WithEventBuffer sets the per-node event queue capacity. Default 1000.
func (b *GraphBuilder) WithEventBuffer(n int) *GraphBuilder {
	b.eventBuffer = n
	return b
}

// Build validates the definition and returns the executable graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	errs := b.errs
	if len(b.nodes) == 0 {
		errs = append(errs, errors.New("graph has no nodes"))
	}

	seen := map[[2]string]bool{}
	var edges []*edge
	for _, e := range b.edges {
		if _, ok := b.nodes[e.from]; !ok {
			errs = append(errs, fmt.Errorf("edge references unknown node %q", e.from))
			continue
		}
		if _, ok := b.nodes[e.to]; !ok {
			errs = append(errs, fmt.Errorf("edge references unknown node %q", e.to))
			continue
		}
		key := [2]string{e.from, e.to}
		if seen[key] {
			continue
		}
		seen[key] = true
		edges = append(edges, e)
	}

	incoming := map[string][]*edge{}
	outgoing := map[string][]*edge{}
	for _, e := range edges {
		incoming[e.to] = append(incoming[e.to], e)
		outgoing[e.from] = append(outgoing[e.from], e)
	}

	entryPoints := b.entryPoints
	if len(entryPoints) > 0 {
		for _, id := range entryPoints {
			if _, ok := b.nodes[id]; !ok {
				errs = append(errs, fmt.Errorf("entry point references unknown node %q", id))
			}
		}
	} else {
		for _, id := range b.order {
			if len(incoming[id]) == 0 {
				entryPoints = append(entryPoints, id)
			}
		}
		if len(entryPoints) == 0 && len(b.nodes) > 0 {
			errs = append(errs, ErrNoEntryPoints)
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("build graph: %w", errors.Join(errs...))
	}

	name := b.name
	if name == "" {
		name = "graph"
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

	return &Graph{
		name:              name,
		nodes:             b.nodes,
		order:             b.order,
		incoming:          incoming,
		outgoing:          outgoing,
		entryPoints:       entryPoints,
		maxNodeExecutions: b.maxNodeExecutions,
		executionTimeout:  b.executionTimeout,
		nodeTimeout:       b.nodeTimeout,
		resetOnRevisit:    b.resetOnRevisit,
		hooks:             reg,
		session:           b.session,
		logger:            logger.With("executor", name),
		eventBuffer:       eventBuffer,
		status:            StatusPending,
		results:           map[string]*NodeResult{},
		executing:         map[string]bool{},
		dirty:             map[string]bool{},
		nodeExecCounts:    map[string]int{},
		pendingByNode:     map[string][]*interrupt.Interrupt{},
	}, nil
}

// Graph executes nodes as the nodes they depend on complete. Ready nodes
// run concurrently; the first failure cancels the run.
type Graph struct {
	name              string
	nodes             map[string]*node
	order             []string
	incoming          map[string][]*edge
	outgoing          map[string][]*edge
	entryPoints       []string
	maxNodeExecutions int
	executionTimeout  time.Duration
	nodeTimeout       time.Duration
	resetOnRevisit    bool
	hooks             *hooks.Registry
	session           session.Manager
	logger            *slog.Logger
	eventBuffer       int

	inFlight atomic.Bool

	mu              sync.Mutex
	initialized     bool
	status          Status
	task            Task
	taskText        string
	results         map[string]*NodeResult
	completedOrder  []string
	executing       map[string]bool
	dirty           map[string]bool
	executionCount  int
	nodeExecCounts  map[string]int
	executionTimeMs int64
	usage           model.Usage
	pendingByNode   map[string][]*interrupt.Interrupt
}

var _ Executor = (*Graph)(nil)

// Name returns the graph's configured name.
func (g *Graph) Name() string { return g.name }

// Invoke runs the task to completion, discarding intermediate events.
func (g *Graph) Invoke(ctx context.Context, task Task) (*Result, error) {
	run, err := g.Stream(ctx, task)
	if err != nil {
		return nil, err
	}
	for range run.Events() {
	}
	return run.Result()
}

// Stream starts a run and returns a handle to its event stream. The
// caller must drain Events; Result blocks until the run ends.
func (g *Graph) Stream(ctx context.Context, task Task) (*Run, error) {
	if task == nil {
		return nil, fmt.Errorf("graph %q: nil task", g.name)
	}
	if !g.inFlight.CompareAndSwap(false, true) {
		return nil, &ConcurrentExecutionError{Name: g.name}
	}
	resume, err := g.acceptTask(task)
	if err != nil {
		g.inFlight.Store(false)
		return nil, err
	}

	events := make(chan Event, g.eventBuffer)
	run := &Run{events: events, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		defer close(events)
		defer g.inFlight.Store(false)
		run.result, run.err = g.run(ctx, events, resume)
	}()
	return run, nil
}

// acceptTask validates the task against the run state. Fresh tasks reset
// the state; resumes return interrupt responses routed by node.
func (g *Graph) acceptTask(task Task) (map[string][]interrupt.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch v := task.(type) {
	case agent.Prompt, agent.Blocks:
		if len(g.pendingByNode) > 0 {
			return nil, ErrPendingInterrupts
		}
		g.resetRunLocked(task, taskText(task))
		return nil, nil
	case agent.Resume:
		if len(g.pendingByNode) == 0 {
			return nil, ErrNoPendingInterrupts
		}
		index := interruptIndex(g.pendingByNode)
		routed := map[string][]interrupt.Response{}
		for _, resp := range v {
			nodeID, ok := index[resp.InterruptID]
			if !ok {
				return nil, fmt.Errorf("graph %q: resume: %w", g.name, &interrupt.UnknownIDError{ID: resp.InterruptID})
			}
			routed[nodeID] = append(routed[nodeID], resp)
		}
		return routed, nil
	default:
		return nil, fmt.Errorf("graph %q: unsupported task type %T", g.name, task)
	}
}

func (g *Graph) resetRunLocked(task Task, text string) {
	g.status = StatusPending
	g.task = task
	g.taskText = text
	g.results = map[string]*NodeResult{}
	g.completedOrder = nil
	g.executing = map[string]bool{}
	g.dirty = map[string]bool{}
	g.executionCount = 0
	g.nodeExecCounts = map[string]int{}
	g.executionTimeMs = 0
	g.usage = model.Usage{}
	g.pendingByNode = map[string][]*interrupt.Interrupt{}
}

func (g *Graph) run(ctx context.Context, out chan<- Event, resume map[string][]interrupt.Response) (*Result, error) {
	start := time.Now()

	if err := g.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	if err := g.hooks.Dispatch(ctx, &hooks.BeforeMultiAgentInvocation{
		ExecutorType: executorTypeGraph,
		Name:         g.name,
	}); err != nil {
		return nil, err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if g.executionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, g.executionTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	g.mu.Lock()
	g.status = StatusExecuting
	g.mu.Unlock()

	failure := g.schedule(ctx, runCtx, cancel, out, resume)

	g.mu.Lock()
	status := StatusCompleted
	switch {
	case failure != "":
		status = StatusFailed
	case len(g.pendingByNode) > 0:
		status = StatusInterrupted
	}
	g.status = status
	g.executionTimeMs += time.Since(start).Milliseconds()
	result := g.resultLocked(failure)
	g.mu.Unlock()

	g.saveSession(ctx)

	err := g.hooks.Dispatch(ctx, &hooks.AfterMultiAgentInvocation{
		ExecutorType: executorTypeGraph,
		Name:         g.name,
		Status:       string(status),
	})

	select {
	case out <- Event{Type: EventExecutorStop, ExecutorStop: &ExecutorStopEvent{Result: result}}:
	case <-ctx.Done():
	}
	return result, err
}

// launchOrder is one admitted node execution: the node, its synthesized
// input, and its per-node execution ordinal.
type launchOrder struct {
	id        string
	task      Task
	execCount int
}

// nodeCompletion is what a node goroutine reports back to the scheduler.
type nodeCompletion struct {
	id       string
	result   *NodeResult
	usage    model.Usage
	timedOut bool
}

// schedule drives the completion-driven scheduler and returns a failure
// reason, empty when the run completed or paused cleanly.
func (g *Graph) schedule(ctx, runCtx context.Context, cancel context.CancelFunc, out chan<- Event, resume map[string][]interrupt.Response) string {
	completions := make(chan nodeCompletion)
	var pumps sync.WaitGroup
	defer pumps.Wait()

	active := 0
	failure := ""

	launch := func(o launchOrder) {
		ring := streams.NewRing[Event](g.eventBuffer)
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			ring.Forward(ctx, out)
		}()
		n := g.nodes[o.id]
		go func() {
			defer ring.Close()
			result, usage, timedOut := runNode(runCtx, nodeRun{
				executorType: executorTypeGraph,
				executorName: g.name,
				hooks:        g.hooks,
				node:         n,
				task:         o.task,
				execCount:    o.execCount,
				nodeTimeout:  g.nodeTimeout,
				emit:         func(ev Event) { ring.Push(ev) },
			})
			completions <- nodeCompletion{id: o.id, result: result, usage: usage, timedOut: timedOut}
		}()
		active++
	}

	orders, limitHit := g.admitInitial(resume)
	if limitHit {
		return fmt.Sprintf("Max node executions reached: %d", g.maxNodeExecutions)
	}
	for _, o := range orders {
		launch(o)
	}

	for active > 0 {
		done := <-completions
		active--
		g.record(ctx, done)

		switch done.result.Status {
		case StatusFailed:
			if failure == "" {
				failure = g.failureReason(runCtx, done)
				cancel()
			}
		case StatusCompleted:
			if failure != "" || runCtx.Err() != nil {
				break
			}
			orders, limit := g.admitSuccessors(done.id)
			if limit {
				failure = fmt.Sprintf("Max node executions reached: %d", g.maxNodeExecutions)
				cancel()
				break
			}
			for _, o := range orders {
				launch(o)
			}
		}
	}
	return failure
}

func (g *Graph) failureReason(runCtx context.Context, done nodeCompletion) string {
	switch {
	case g.executionTimeout > 0 && runCtx.Err() == context.DeadlineExceeded:
		return fmt.Sprintf("Execution timed out after %s", g.executionTimeout)
	case done.timedOut:
		return done.result.Err
	default:
		return fmt.Sprintf("node %q failed: %s", done.id, done.result.Err)
	}
}

// admitInitial reserves the first wave: entry points for fresh runs, the
// interrupted nodes for resumes.
func (g *Graph) admitInitial(resume map[string][]interrupt.Response) ([]launchOrder, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var orders []launchOrder
	if resume != nil {
		for _, id := range g.order {
			responses, ok := resume[id]
			if !ok {
				continue
			}
			o, limit := g.admitLocked(id, agent.Resume(responses))
			if limit {
				g.rollbackLocked(orders)
				return nil, true
			}
			if o != nil {
				orders = append(orders, *o)
			}
		}
		return orders, false
	}

	for _, id := range g.entryPoints {
		o, limit := g.admitLocked(id, g.task)
		if limit {
			g.rollbackLocked(orders)
			return nil, true
		}
		if o != nil {
			orders = append(orders, *o)
		}
	}
	return orders, false
}

// admitSuccessors marks completedID's successors dirty, then reserves
// every dirty node whose dependencies are now satisfied.
func (g *Graph) admitSuccessors(completedID string) ([]launchOrder, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range g.outgoing[completedID] {
		g.dirty[e.to] = true
	}

	state := g.stateLocked()
	var orders []launchOrder
	for _, id := range g.order {
		if !g.dirty[id] || !g.readyLocked(id, state) {
			continue
		}
		o, limit := g.admitLocked(id, g.buildInputLocked(id))
		if limit {
			g.rollbackLocked(orders)
			return nil, true
		}
		if o != nil {
			delete(g.dirty, id)
			orders = append(orders, *o)
		}
	}
	return orders, false
}

// admitLocked reserves one execution slot for id. It returns nil when the
// node is already executing, and limit=true when the reservation would
// exceed MaxNodeExecutions.
func (g *Graph) admitLocked(id string, task Task) (*launchOrder, bool) {
	if g.executing[id] {
		return nil, false
	}
	if g.maxNodeExecutions > 0 && g.executionCount >= g.maxNodeExecutions {
		return nil, true
	}
	if prior := g.results[id]; prior != nil && prior.Status == StatusCompleted && g.resetOnRevisit {
		g.nodes[id].reset()
	}
	g.executionCount++
	g.nodeExecCounts[id]++
	g.executing[id] = true
	return &launchOrder{id: id, task: task, execCount: g.nodeExecCounts[id]}, false
}

// rollbackLocked releases reservations admitted earlier in a batch that
// hit the execution limit, so nothing from the batch launches.
func (g *Graph) rollbackLocked(orders []launchOrder) {
	for _, o := range orders {
		g.executionCount--
		g.nodeExecCounts[o.id]--
		g.executing[o.id] = false
	}
}

// readyLocked reports whether every incoming edge of id is satisfied:
// source completed and condition true against state.
func (g *Graph) readyLocked(id string, state *GraphState) bool {
	if g.executing[id] {
		return false
	}
	if res := g.results[id]; res != nil && res.Status == StatusCompleted && !g.resetOnRevisit {
		return false
	}
	for _, e := range g.incoming[id] {
		src := g.results[e.from]
		if src == nil || src.Status != StatusCompleted {
			return false
		}
		if e.condition != nil && !e.condition(state) {
			return false
		}
	}
	return true
}

func (g *Graph) stateLocked() *GraphState {
	order := make([]string, len(g.completedOrder))
	copy(order, g.completedOrder)
	results := make(map[string]*NodeResult, len(g.results))
	for id, r := range g.results {
		results[id] = r
	}
	return &GraphState{
		TaskText:       g.taskText,
		CompletedOrder: order,
		Results:        results,
		ExecutionCount: g.executionCount,
	}
}

// buildInputLocked synthesizes a downstream node's input from the task
// and its dependencies' outputs, in completion order.
func (g *Graph) buildInputLocked(id string) Task {
	sources := map[string]bool{}
	for _, e := range g.incoming[id] {
		sources[e.from] = true
	}

	var deps []string
	seen := map[string]bool{}
	for _, completed := range g.completedOrder {
		if sources[completed] && !seen[completed] {
			seen[completed] = true
			deps = append(deps, completed)
		}
	}
	if len(deps) == 0 {
		return g.task
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Original task: %s", g.taskText)
	b.WriteString("\n\nInputs from previous nodes:")
	for _, dep := range deps {
		fmt.Fprintf(&b, "\n%s: %s", dep, g.results[dep].Text())
	}
	return agent.Prompt(b.String())
}

// record folds a node completion into the run state and persists it.
func (g *Graph) record(ctx context.Context, done nodeCompletion) {
	g.mu.Lock()
	g.executing[done.id] = false
	g.results[done.id] = done.result
	g.usage.Add(done.usage)
	switch done.result.Status {
	case StatusCompleted:
		g.completedOrder = append(g.completedOrder, done.id)
		delete(g.pendingByNode, done.id)
	case StatusInterrupted:
		g.pendingByNode[done.id] = done.result.Interrupts()
	case StatusFailed:
		// A resumed node consumed its responses before failing; the old
		// interrupt IDs are no longer answerable.
		delete(g.pendingByNode, done.id)
	}
	g.mu.Unlock()

	if done.result.Status == StatusCompleted || done.result.Status == StatusInterrupted {
		g.saveSession(ctx)
	}
}

func (g *Graph) resultLocked(failure string) *Result {
	results := make(map[string]*NodeResult, len(g.results))
	for id, r := range g.results {
		results[id] = r
	}
	var pending []*interrupt.Interrupt
	for _, id := range g.order {
		pending = append(pending, g.pendingByNode[id]...)
	}
	return &Result{
		Status:           g.status,
		Results:          results,
		AccumulatedUsage: g.usage,
		ExecutionCount:   g.executionCount,
		ExecutionTimeMs:  g.executionTimeMs,
		FailureReason:    failure,
		Interrupts:       pending,
	}
}

func (g *Graph) ensureInitialized(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initialized {
		return nil
	}
	if err := g.hooks.Dispatch(ctx, &hooks.MultiAgentInitialized{
		ExecutorType: executorTypeGraph,
		Name:         g.name,
	}); err != nil {
		return err
	}
	g.initialized = true
	return nil
}

// saveSession persists the run state when a session manager is attached.
// Persistence is advisory: failures are logged, never fatal to the run.
func (g *Graph) saveSession(ctx context.Context) {
	if g.session == nil {
		return
	}
	state, err := g.SerializeState()
	if err == nil {
		err = g.session.Save(ctx, g.name, state)
	}
	if err != nil {
		g.logger.Warn("session save failed", "error", err)
	}
}

// SerializeState snapshots the run for persistence.
func (g *Graph) SerializeState() (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := &executorState{
		Type:             executorTypeGraph,
		Name:             g.name,
		Status:           g.status,
		Task:             g.taskText,
		NodeResults:      make(map[string]*NodeResult, len(g.results)),
		ExecutionCount:   g.executionCount,
		ExecutionTimeMs:  g.executionTimeMs,
		AccumulatedUsage: g.usage,
		CompletedNodes:   append([]string(nil), g.completedOrder...),
		NextNodes:        g.nextNodesLocked(),
	}
	for id, r := range g.results {
		state.NodeResults[id] = r
	}
	if len(g.pendingByNode) > 0 {
		state.Interrupts = make(map[string][]*interrupt.Interrupt, len(g.pendingByNode))
		for id, ins := range g.pendingByNode {
			state.Interrupts[id] = ins
		}
	}

	interrupted := make(map[string]bool, len(g.pendingByNode))
	for id := range g.pendingByNode {
		interrupted[id] = true
	}
	if err := captureNodeState(state, g.nodes, interrupted); err != nil {
		return nil, err
	}
	return json.Marshal(state)
}

// nextNodesLocked lists nodes whose dependencies are satisfied but which
// have not run, plus interrupted nodes awaiting a resume.
func (g *Graph) nextNodesLocked() []string {
	state := g.stateLocked()
	var next []string
	for _, id := range g.order {
		if len(g.pendingByNode[id]) > 0 {
			next = append(next, id)
			continue
		}
		if g.results[id] != nil || g.executing[id] {
			continue
		}
		if len(g.incoming[id]) == 0 || g.readyLocked(id, state) {
			next = append(next, id)
		}
	}
	return next
}

// DeserializeState restores a snapshot produced by a graph's
// SerializeState, including interrupted nodes' agent state.
func (g *Graph) DeserializeState(data json.RawMessage) error {
	state, err := decodeExecutorState(data, executorTypeGraph)
	if err != nil {
		return err
	}
	if g.inFlight.Load() {
		return &ConcurrentExecutionError{Name: g.name}
	}
	for id := range state.NodeResults {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("graph %q: state references unknown node %q", g.name, id)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = state.Status
	g.taskText = state.Task
	g.task = agent.Prompt(state.Task)
	g.results = state.NodeResults
	if g.results == nil {
		g.results = map[string]*NodeResult{}
	}
	g.completedOrder = state.CompletedNodes
	g.executing = map[string]bool{}
	g.dirty = map[string]bool{}
	g.executionCount = state.ExecutionCount
	g.executionTimeMs = state.ExecutionTimeMs
	g.usage = state.AccumulatedUsage
	g.nodeExecCounts = map[string]int{}
	for id, r := range g.results {
		g.nodeExecCounts[id] = r.ExecutionCount
	}
	g.pendingByNode = state.Interrupts
	if g.pendingByNode == nil {
		g.pendingByNode = map[string][]*interrupt.Interrupt{}
	}
	return restoreNodeState(state, g.nodes)
}
