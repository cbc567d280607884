// Package agent implements the event loop at the core of the runtime: a
// conversation-owning agent that alternates model calls and tool executions
// until the model stops asking for tools, with hooks, metrics, interrupts,
// and structured output folded into the cycle.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/loom/pkg/hooks"
	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/metrics"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/observability"
	"github.com/haasonsaas/loom/pkg/schema"
	"github.com/haasonsaas/loom/pkg/tools"
)

// Agent runs the model/tool event loop over a conversation it owns. One
// invocation runs at a time; a second concurrent call fails with
// ConcurrentInvocationError. Accessors are safe to call between
// invocations, mutation during a live invocation is the caller's to
// serialize.
type Agent struct {
	name            string
	provider        model.Provider
	registry        *tools.Registry
	hooks           *hooks.Registry
	collector       *metrics.Collector
	interrupts      *interrupt.State
	logger          *slog.Logger
	tracer          trace.Tracer
	engine          *schema.Engine
	systemPrompt    string
	maxCycles       int
	eventBuffer     int
	responseSchema  *schema.Definition
	invocationState map[string]any

	mu       sync.RWMutex
	messages []message.Message

	inFlight atomic.Bool
}

// New assembles an agent from cfg. It validates the provider, registers
// the tools, wires hook providers, and compiles the response schema when
// one is configured.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	cfg = sanitizeConfig(cfg)

	registry := tools.NewRegistry()
	for _, tool := range cfg.Tools {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	hookRegistry := cfg.Hooks
	if hookRegistry == nil {
		hookRegistry = hooks.NewRegistry()
	}
	for _, provider := range cfg.HookProviders {
		hookRegistry.AddProvider(provider)
	}

	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewCollector(cfg.MetricsSink)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("loom")
	}

	engine := schema.NewEngine()
	if cfg.ResponseSchema != nil {
		if err := cfg.ResponseSchema.Validate(engine); err != nil {
			return nil, fmt.Errorf("response schema: %w", err)
		}
	}

	state := cfg.InvocationState
	if state == nil {
		state = make(map[string]any)
	}

	return &Agent{
		name:            cfg.Name,
		provider:        cfg.Provider,
		registry:        registry,
		hooks:           hookRegistry,
		collector:       collector,
		interrupts:      interrupt.NewState(),
		logger:          logger.With("agent", cfg.Name),
		tracer:          tracer,
		engine:          engine,
		systemPrompt:    cfg.SystemPrompt,
		maxCycles:       cfg.MaxCycles,
		eventBuffer:     cfg.EventBuffer,
		responseSchema:  cfg.ResponseSchema,
		invocationState: state,
		messages:        message.CloneMessages(cfg.Messages),
	}, nil
}

// Name returns the agent's configured name.
func (a *Agent) Name() string { return a.name }

// Messages returns a copy of the conversation.
func (a *Agent) Messages() []message.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return message.CloneMessages(a.messages)
}

// SetMessages replaces the conversation.
func (a *Agent) SetMessages(msgs []message.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = message.CloneMessages(msgs)
}

// Registry exposes the tool registry for dynamic registration between
// invocations.
func (a *Agent) Registry() *tools.Registry { return a.registry }

// SetStateValue writes one key of the invocation state handed to every
// tool call. Multi-agent executors use it to expose per-turn context.
func (a *Agent) SetStateValue(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invocationState[key] = value
}

// InterruptState exposes the pause bookkeeping, mainly for persistence.
func (a *Agent) InterruptState() *interrupt.State { return a.interrupts }

// Metrics returns a snapshot of the accumulated metrics.
func (a *Agent) Metrics() *metrics.EventLoopMetrics { return a.collector.Metrics() }

// Invoke runs the loop to completion and returns its terminal result.
func (a *Agent) Invoke(ctx context.Context, in Input) (*Result, error) {
	run, err := a.Stream(ctx, in)
	if err != nil {
		return nil, err
	}
	for range run.Events() {
	}
	return run.Result()
}

// Stream starts the loop and returns a handle to its event stream. The
// caller must drain Events; Result blocks until the loop ends.
func (a *Agent) Stream(ctx context.Context, in Input) (*Run, error) {
	if in == nil {
		return nil, fmt.Errorf("agent %q: nil input", a.name)
	}
	if !a.inFlight.CompareAndSwap(false, true) {
		return nil, &ConcurrentInvocationError{AgentName: a.name}
	}
	resuming, err := a.acceptInput(in)
	if err != nil {
		a.inFlight.Store(false)
		return nil, err
	}

	events := make(chan Event, a.eventBuffer)
	run := &Run{events: events, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		defer close(events)
		defer a.inFlight.Store(false)
		run.result, run.err = a.run(ctx, events, resuming)
	}()
	return run, nil
}

// acceptInput validates the input against the interrupt state and, for
// fresh turns, commits the user message before the loop starts.
func (a *Agent) acceptInput(in Input) (resuming bool, err error) {
	pending := a.interrupts.Pending()
	switch v := in.(type) {
	case Prompt:
		if len(pending) > 0 {
			return false, ErrPendingInterrupts
		}
		a.commit(message.NewUserText(string(v)))
	case Blocks:
		if len(pending) > 0 {
			return false, ErrPendingInterrupts
		}
		msg := message.NewUserMessage([]message.ContentBlock(v)...)
		if err := msg.Validate(); err != nil {
			return false, fmt.Errorf("agent %q: invalid input blocks: %w", a.name, err)
		}
		a.commit(msg)
	case Resume:
		if a.responseSchema != nil {
			return false, ErrResumeWithSchema
		}
		if len(pending) == 0 {
			return false, ErrNoPendingInterrupts
		}
		for _, resp := range v {
			if _, ok := a.interrupts.Get(resp.InterruptID); !ok {
				return false, fmt.Errorf("agent %q: resume: %w", a.name, &interrupt.UnknownIDError{ID: resp.InterruptID})
			}
		}
		for _, resp := range v {
			if err := a.interrupts.Resolve(resp.InterruptID, resp.Response); err != nil {
				return false, fmt.Errorf("agent %q: resume: %w", a.name, err)
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("agent %q: unsupported input type %T", a.name, in)
	}
	return false, nil
}

// commit appends messages to the conversation.
func (a *Agent) commit(msgs ...message.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msgs...)
}
