package agent

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/loom/pkg/hooks"
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/metrics"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/schema"
	"github.com/haasonsaas/loom/pkg/tools"
)

const (
	defaultName        = "agent"
	defaultMaxCycles   = 100
	defaultEventBuffer = 64
)

// Config assembles an Agent. Provider is required; everything else has a
// usable default.
type Config struct {
	// Name identifies the agent in logs, hooks, and events. Default "agent".
	Name string

	// Provider is the model backend the loop calls each cycle.
	Provider model.Provider

	// Tools are registered under their declared names before the first
	// invocation. Duplicate or reserved names fail New.
	Tools []tools.Tool

	// SystemPrompt is sent with every model request.
	SystemPrompt string

	// Messages seeds the conversation. The agent owns its copy.
	Messages []message.Message

	// Hooks is used directly when set, so several agents can share one
	// registry. Default is a fresh registry.
	Hooks *hooks.Registry

	// HookProviders register their callbacks on the registry at New.
	HookProviders []hooks.Provider

	// Collector accumulates metrics across invocations. Default is a fresh
	// collector backed by MetricsSink.
	Collector *metrics.Collector

	// MetricsSink receives metric observations when Collector is nil.
	// Default discards them.
	MetricsSink metrics.Sink

	// Logger is the base logger. Default logs JSON to stdout at info.
	Logger *slog.Logger

	// Tracer emits spans for invocations, model calls, and tool executions.
	// Default is the global tracer provider, a no-op unless configured.
	Tracer trace.Tracer

	// MaxCycles caps model-call/tool-execution cycles per invocation.
	// Default 100.
	MaxCycles int

	// EventBuffer is the Run event channel capacity. Default 64.
	EventBuffer int

	// ResponseSchema switches the agent to structured output: the schema is
	// advertised as a tool and the first matching tool use, validated,
	// becomes Result.Structured.
	ResponseSchema *schema.Definition

	// InvocationState is an opaque bag passed to every tool invocation.
	InvocationState map[string]any
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = defaultMaxCycles
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return cfg
}
