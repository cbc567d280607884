package metrics

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
)

func toolUse(id, name string) *message.ToolUseBlock {
	return &message.ToolUseBlock{ToolUseID: id, Name: name, Input: []byte(`{}`)}
}

func TestCollector_CycleLifecycle(t *testing.T) {
	c := NewCollector(nil)

	trace, closeCycle := c.StartCycle()
	require.NotNil(t, trace)
	assert.Equal(t, "cycle 1", trace.Name)
	assert.NotEmpty(t, trace.ID)

	closeCycle(map[string]any{"stopReason": "endTurn"})
	closeCycle(nil)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.CycleCount)
	require.Len(t, m.Traces, 1)
	require.NotNil(t, m.Traces[0].EndTime)
	assert.Equal(t, "endTurn", m.Traces[0].Metadata["stopReason"])
	assert.GreaterOrEqual(t, m.TotalCycleDurationMs, int64(0))
}

func TestCollector_CycleSequenceNames(t *testing.T) {
	c := NewCollector(nil)
	_, close1 := c.StartCycle()
	close1(nil)
	tr2, close2 := c.StartCycle()
	close2(nil)

	assert.Equal(t, "cycle 2", tr2.Name)
	assert.Equal(t, int64(2), c.Metrics().CycleCount)
}

func TestCollector_ToolExecutionSuccess(t *testing.T) {
	c := NewCollector(nil)
	parent, closeCycle := c.StartCycle()

	exec := c.StartToolExecution(toolUse("tool-1", "calc"), parent)
	exec.MarkSuccess()
	exec.Close()
	exec.Close()
	closeCycle(nil)

	m := c.Metrics()
	tm := m.ToolMetrics["calc"]
	require.NotNil(t, tm)
	assert.Equal(t, int64(1), tm.CallCount)
	assert.Equal(t, int64(1), tm.SuccessCount)
	assert.Equal(t, int64(0), tm.ErrorCount)

	require.Len(t, m.Traces, 1)
	require.Len(t, m.Traces[0].Children, 1)
	child := m.Traces[0].Children[0]
	assert.Equal(t, "tool: calc", child.Name)
	assert.Equal(t, m.Traces[0].ID, child.ParentID)
	assert.Equal(t, "tool-1", child.Metadata["toolUseId"])
	require.NotNil(t, child.EndTime)
}

func TestCollector_ToolExecutionDefaultsToError(t *testing.T) {
	c := NewCollector(nil)
	exec := c.StartToolExecution(toolUse("tool-1", "search"), nil)
	exec.Close()

	m := c.Metrics()
	tm := m.ToolMetrics["search"]
	require.NotNil(t, tm)
	assert.Equal(t, int64(1), tm.CallCount)
	assert.Equal(t, int64(0), tm.SuccessCount)
	assert.Equal(t, int64(1), tm.ErrorCount)

	require.Len(t, m.Traces, 1)
	assert.Empty(t, m.Traces[0].ParentID)
}

func TestCollector_RecordModelInvocation(t *testing.T) {
	c := NewCollector(nil)
	c.RecordModelInvocation(model.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, 120, 40)
	c.RecordModelInvocation(model.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}, 80, 0)

	m := c.Metrics()
	assert.Equal(t, int64(2), m.ModelInvocationCount)
	assert.Equal(t, int64(200), m.TotalModelLatencyMs)
	assert.Equal(t, int64(40), m.TotalTimeToFirstByteMs)
	assert.Equal(t, 13, m.Usage.InputTokens)
	assert.Equal(t, 7, m.Usage.OutputTokens)
	assert.Equal(t, 20, m.Usage.TotalTokens)
}

func TestCollector_MetricsIsDeepCopy(t *testing.T) {
	c := NewCollector(nil)
	parent, closeCycle := c.StartCycle()
	exec := c.StartToolExecution(toolUse("tool-1", "calc"), parent)
	exec.MarkSuccess()
	exec.Close()
	closeCycle(nil)
	c.RecordModelInvocation(model.Usage{InputTokens: 1}, 10, 0)

	m := c.Metrics()
	m.Usage.InputTokens = 999
	m.ToolMetrics["calc"].CallCount = 999
	m.Traces[0].Name = "mutated"
	m.Traces[0].Children[0].Metadata["toolUseId"] = "mutated"

	fresh := c.Metrics()
	assert.Equal(t, 1, fresh.Usage.InputTokens)
	assert.Equal(t, int64(1), fresh.ToolMetrics["calc"].CallCount)
	assert.Equal(t, "cycle 1", fresh.Traces[0].Name)
	assert.Equal(t, "tool-1", fresh.Traces[0].Children[0].Metadata["toolUseId"])
}

func TestEventLoopMetrics_Merge(t *testing.T) {
	a := &EventLoopMetrics{
		CycleCount:           2,
		ModelInvocationCount: 2,
		Usage:                model.Usage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14},
		ToolMetrics: map[string]*ToolMetrics{
			"calc": {Name: "calc", CallCount: 1, SuccessCount: 1},
		},
	}
	b := &EventLoopMetrics{
		CycleCount:           1,
		ModelInvocationCount: 1,
		Usage:                model.Usage{InputTokens: 5, OutputTokens: 1, TotalTokens: 6},
		ToolMetrics: map[string]*ToolMetrics{
			"calc":   {Name: "calc", CallCount: 2, ErrorCount: 2},
			"search": {Name: "search", CallCount: 1, SuccessCount: 1},
		},
		Traces: []*Trace{newTrace("cycle 1", "")},
	}

	a.Merge(b)
	assert.Equal(t, int64(3), a.CycleCount)
	assert.Equal(t, int64(3), a.ModelInvocationCount)
	assert.Equal(t, 15, a.Usage.InputTokens)
	assert.Equal(t, int64(3), a.ToolMetrics["calc"].CallCount)
	assert.Equal(t, int64(1), a.ToolMetrics["calc"].SuccessCount)
	assert.Equal(t, int64(2), a.ToolMetrics["calc"].ErrorCount)
	assert.Equal(t, int64(1), a.ToolMetrics["search"].CallCount)
	require.Len(t, a.Traces, 1)

	a.Merge(nil)
	assert.Equal(t, int64(3), a.CycleCount)
}

func TestUsageAccountingAcrossInvocations(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("aggregated usage keeps input+output == total", prop.ForAll(
		func(tokens []int) bool {
			c := NewCollector(nil)
			for i := 0; i+1 < len(tokens); i += 2 {
				in, out := tokens[i], tokens[i+1]
				c.RecordModelInvocation(model.Usage{
					InputTokens:  in,
					OutputTokens: out,
					TotalTokens:  in + out,
				}, 1, 0)
			}
			m := c.Metrics()
			return m.Usage.TotalTokens == m.Usage.InputTokens+m.Usage.OutputTokens
		},
		gen.SliceOf(gen.IntRange(0, 1<<20)),
	))

	properties.TestingRun(t)
}

type captureSink struct {
	cycles []int64
	models int
	tools  []string
}

func (s *captureSink) RecordCycle(durationMs int64) {
	s.cycles = append(s.cycles, durationMs)
}

func (s *captureSink) RecordModelInvocation(model.Usage, int64, int64) {
	s.models++
}

func (s *captureSink) RecordToolCall(name string, durationMs int64, success bool) {
	s.tools = append(s.tools, name)
}

func TestCollector_ForwardsToSink(t *testing.T) {
	sink := &captureSink{}
	c := NewCollector(sink)

	_, closeCycle := c.StartCycle()
	closeCycle(nil)
	c.RecordModelInvocation(model.Usage{}, 10, 0)
	exec := c.StartToolExecution(toolUse("tool-1", "calc"), nil)
	exec.Close()

	assert.Len(t, sink.cycles, 1)
	assert.Equal(t, 1, sink.models)
	assert.Equal(t, []string{"calc"}, sink.tools)
}

func TestMultiSink(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	s := MultiSink(a, b)

	s.RecordCycle(5)
	s.RecordModelInvocation(model.Usage{}, 10, 0)
	s.RecordToolCall("calc", 2, true)

	assert.Len(t, a.cycles, 1)
	assert.Len(t, b.cycles, 1)
	assert.Equal(t, 1, a.models)
	assert.Equal(t, []string{"calc"}, b.tools)
}

func TestPrometheusSink(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := NewPrometheusSink(registry)

	sink.RecordCycle(120)
	sink.RecordCycle(80)
	sink.RecordToolCall("calc", 10, true)
	sink.RecordToolCall("calc", 12, true)
	sink.RecordToolCall("search", 5, false)
	sink.RecordModelInvocation(model.Usage{InputTokens: 10, OutputTokens: 5}, 100, 0)

	expected := `
		# HELP loom_agent_cycles_total Total number of event loop cycles
		# TYPE loom_agent_cycles_total counter
		loom_agent_cycles_total 2
	`
	require.NoError(t, testutil.CollectAndCompare(sink.Cycles, strings.NewReader(expected)))

	expected = `
		# HELP loom_tool_executions_total Total number of tool executions by tool name and status
		# TYPE loom_tool_executions_total counter
		loom_tool_executions_total{status="error",tool_name="search"} 1
		loom_tool_executions_total{status="success",tool_name="calc"} 2
	`
	require.NoError(t, testutil.CollectAndCompare(sink.ToolExecutions, strings.NewReader(expected)))

	expected = `
		# HELP loom_model_tokens_total Total number of tokens by type
		# TYPE loom_model_tokens_total counter
		loom_model_tokens_total{type="input"} 10
		loom_model_tokens_total{type="output"} 5
	`
	require.NoError(t, testutil.CollectAndCompare(sink.Tokens, strings.NewReader(expected)))
}

func TestNewOTelSink(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	sink, err := NewOTelSink(mp)
	require.NoError(t, err)

	sink.RecordCycle(20)
	sink.RecordModelInvocation(model.Usage{InputTokens: 4, OutputTokens: 2, CacheReadInputTokens: 1}, 50, 10)
	sink.RecordToolCall("calc", 3, true)
	sink.RecordToolCall("calc", 3, false)
}
