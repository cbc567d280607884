package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/haasonsaas/loom/pkg/model"
)

// Sink receives metric updates as the collector records them. Implementations
// must be safe for concurrent use.
type Sink interface {
	RecordCycle(durationMs int64)
	RecordModelInvocation(usage model.Usage, latencyMs, ttfbMs int64)
	RecordToolCall(name string, durationMs int64, success bool)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordCycle(int64)                               {}
func (NopSink) RecordModelInvocation(model.Usage, int64, int64) {}
func (NopSink) RecordToolCall(string, int64, bool)              {}

// MultiSink fans updates out to several sinks.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) RecordCycle(durationMs int64) {
	for _, s := range m {
		s.RecordCycle(durationMs)
	}
}

func (m multiSink) RecordModelInvocation(usage model.Usage, latencyMs, ttfbMs int64) {
	for _, s := range m {
		s.RecordModelInvocation(usage, latencyMs, ttfbMs)
	}
}

func (m multiSink) RecordToolCall(name string, durationMs int64, success bool) {
	for _, s := range m {
		s.RecordToolCall(name, durationMs, success)
	}
}

// OTelSink mirrors collector updates into OpenTelemetry instruments.
type OTelSink struct {
	cycleCount       metric.Int64Counter
	cycleDuration    metric.Float64Histogram
	modelCount       metric.Int64Counter
	modelLatency     metric.Float64Histogram
	modelTTFB        metric.Float64Histogram
	inputTokens      metric.Int64Counter
	outputTokens     metric.Int64Counter
	cacheReadTokens  metric.Int64Counter
	cacheWriteTokens metric.Int64Counter
	toolCalls        metric.Int64Counter
	toolSuccesses    metric.Int64Counter
	toolErrors       metric.Int64Counter
	toolDuration     metric.Float64Histogram
}

// NewOTelSink builds instruments on the given meter provider.
func NewOTelSink(mp metric.MeterProvider) (*OTelSink, error) {
	meter := mp.Meter("loom")

	cycleCount, err := meter.Int64Counter(
		"agent.cycle.count",
		metric.WithDescription("Total event loop cycles"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cycle counter: %w", err)
	}

	cycleDuration, err := meter.Float64Histogram(
		"agent.cycle.duration",
		metric.WithDescription("Event loop cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cycle duration histogram: %w", err)
	}

	modelCount, err := meter.Int64Counter(
		"agent.model.invocation.count",
		metric.WithDescription("Total model invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("create model invocation counter: %w", err)
	}

	modelLatency, err := meter.Float64Histogram(
		"agent.model.latency",
		metric.WithDescription("Model invocation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create model latency histogram: %w", err)
	}

	modelTTFB, err := meter.Float64Histogram(
		"agent.model.time_to_first_byte",
		metric.WithDescription("Time to first streamed byte in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create model ttfb histogram: %w", err)
	}

	inputTokens, err := meter.Int64Counter(
		"agent.model.input_tokens",
		metric.WithDescription("Total input tokens sent to the model"),
	)
	if err != nil {
		return nil, fmt.Errorf("create input token counter: %w", err)
	}

	outputTokens, err := meter.Int64Counter(
		"agent.model.output_tokens",
		metric.WithDescription("Total output tokens from the model"),
	)
	if err != nil {
		return nil, fmt.Errorf("create output token counter: %w", err)
	}

	cacheReadTokens, err := meter.Int64Counter(
		"agent.model.cache_read_tokens",
		metric.WithDescription("Total prompt cache read tokens"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache read token counter: %w", err)
	}

	cacheWriteTokens, err := meter.Int64Counter(
		"agent.model.cache_write_tokens",
		metric.WithDescription("Total prompt cache write tokens"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache write token counter: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"agent.tool.call.count",
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool call counter: %w", err)
	}

	toolSuccesses, err := meter.Int64Counter(
		"agent.tool.success.count",
		metric.WithDescription("Total successful tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool success counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		"agent.tool.error.count",
		metric.WithDescription("Total failed tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool error counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"agent.tool.duration",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool duration histogram: %w", err)
	}

	return &OTelSink{
		cycleCount:       cycleCount,
		cycleDuration:    cycleDuration,
		modelCount:       modelCount,
		modelLatency:     modelLatency,
		modelTTFB:        modelTTFB,
		inputTokens:      inputTokens,
		outputTokens:     outputTokens,
		cacheReadTokens:  cacheReadTokens,
		cacheWriteTokens: cacheWriteTokens,
		toolCalls:        toolCalls,
		toolSuccesses:    toolSuccesses,
		toolErrors:       toolErrors,
		toolDuration:     toolDuration,
	}, nil
}

func (s *OTelSink) RecordCycle(durationMs int64) {
	ctx := context.Background()
	s.cycleCount.Add(ctx, 1)
	s.cycleDuration.Record(ctx, float64(durationMs)/1000)
}

func (s *OTelSink) RecordModelInvocation(usage model.Usage, latencyMs, ttfbMs int64) {
	ctx := context.Background()
	s.modelCount.Add(ctx, 1)
	s.modelLatency.Record(ctx, float64(latencyMs)/1000)
	if ttfbMs > 0 {
		s.modelTTFB.Record(ctx, float64(ttfbMs)/1000)
	}
	if usage.InputTokens > 0 {
		s.inputTokens.Add(ctx, int64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		s.outputTokens.Add(ctx, int64(usage.OutputTokens))
	}
	if usage.CacheReadInputTokens > 0 {
		s.cacheReadTokens.Add(ctx, int64(usage.CacheReadInputTokens))
	}
	if usage.CacheWriteInputTokens > 0 {
		s.cacheWriteTokens.Add(ctx, int64(usage.CacheWriteInputTokens))
	}
}

func (s *OTelSink) RecordToolCall(name string, durationMs int64, success bool) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("tool_name", name))
	s.toolCalls.Add(ctx, 1, attrs)
	if success {
		s.toolSuccesses.Add(ctx, 1, attrs)
	} else {
		s.toolErrors.Add(ctx, 1, attrs)
	}
	s.toolDuration.Record(ctx, float64(durationMs)/1000, attrs)
}

// PrometheusSink mirrors collector updates into Prometheus metrics.
type PrometheusSink struct {
	// Cycles counts event loop cycles.
	Cycles prometheus.Counter

	// CycleDuration measures cycle duration in seconds.
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	CycleDuration prometheus.Histogram

	// ModelInvocations counts model calls.
	ModelInvocations prometheus.Counter

	// ModelLatency measures model call latency in seconds.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	ModelLatency prometheus.Histogram

	// Tokens tracks token consumption.
	// Labels: type (input|output|cache_read|cache_write)
	Tokens *prometheus.CounterVec

	// ToolExecutions counts tool executions.
	// Labels: tool_name, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolDuration *prometheus.HistogramVec
}

// NewPrometheusSink creates and registers the metrics on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_agent_cycles_total",
			Help: "Total number of event loop cycles",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loom_agent_cycle_duration_seconds",
			Help:    "Duration of event loop cycles in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		ModelInvocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_model_invocations_total",
			Help: "Total number of model invocations",
		}),
		ModelLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loom_model_latency_seconds",
			Help:    "Latency of model invocations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		Tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_model_tokens_total",
			Help: "Total number of tokens by type",
		}, []string{"type"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tool_executions_total",
			Help: "Total number of tool executions by tool name and status",
		}, []string{"tool_name", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_tool_execution_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),
	}
}

func (s *PrometheusSink) RecordCycle(durationMs int64) {
	s.Cycles.Inc()
	s.CycleDuration.Observe(float64(durationMs) / 1000)
}

func (s *PrometheusSink) RecordModelInvocation(usage model.Usage, latencyMs, ttfbMs int64) {
	s.ModelInvocations.Inc()
	s.ModelLatency.Observe(float64(latencyMs) / 1000)
	if usage.InputTokens > 0 {
		s.Tokens.WithLabelValues("input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		s.Tokens.WithLabelValues("output").Add(float64(usage.OutputTokens))
	}
	if usage.CacheReadInputTokens > 0 {
		s.Tokens.WithLabelValues("cache_read").Add(float64(usage.CacheReadInputTokens))
	}
	if usage.CacheWriteInputTokens > 0 {
		s.Tokens.WithLabelValues("cache_write").Add(float64(usage.CacheWriteInputTokens))
	}
}

func (s *PrometheusSink) RecordToolCall(name string, durationMs int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	s.ToolExecutions.WithLabelValues(name, status).Inc()
	s.ToolDuration.WithLabelValues(name).Observe(float64(durationMs) / 1000)
}
