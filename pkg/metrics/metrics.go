// Package metrics accumulates per-invocation event loop metrics and a
// trace tree, and mirrors them into pluggable sinks.
//
// The collector tracks:
//   - Cycle counts and durations for the agent event loop
//   - Model invocation counts, latency, and token usage
//   - Per-tool call, success, and error counts with durations
//   - A trace tree of cycles and the tool executions inside them
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
)

// Trace is one node in the invocation trace tree. Cycle traces are roots;
// tool executions hang off the cycle they ran in.
type Trace struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	ParentID  string         `json:"parentId,omitempty"`
	StartTime time.Time      `json:"startTime"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
	Children  []*Trace       `json:"children,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DurationMs returns the trace duration, or 0 while it is still open.
func (t *Trace) DurationMs() int64 {
	if t.EndTime == nil {
		return 0
	}
	return t.EndTime.Sub(t.StartTime).Milliseconds()
}

// Clone deep-copies the trace tree. Metadata values are copied by
// reference.
func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}
	out := &Trace{
		ID:        t.ID,
		Name:      t.Name,
		ParentID:  t.ParentID,
		StartTime: t.StartTime,
	}
	if t.EndTime != nil {
		end := *t.EndTime
		out.EndTime = &end
	}
	if len(t.Children) > 0 {
		out.Children = make([]*Trace, len(t.Children))
		for i, child := range t.Children {
			out.Children[i] = child.Clone()
		}
	}
	if len(t.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func newTrace(name, parentID string) *Trace {
	return &Trace{
		ID:        uuid.NewString(),
		Name:      name,
		ParentID:  parentID,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// ToolMetrics aggregates executions of one tool within an invocation.
type ToolMetrics struct {
	Name            string `json:"name"`
	CallCount       int64  `json:"callCount"`
	SuccessCount    int64  `json:"successCount"`
	ErrorCount      int64  `json:"errorCount"`
	TotalDurationMs int64  `json:"totalDurationMs"`
}

// EventLoopMetrics is the accumulated picture of one invocation.
type EventLoopMetrics struct {
	CycleCount             int64                   `json:"cycleCount"`
	TotalCycleDurationMs   int64                   `json:"totalCycleDurationMs"`
	ModelInvocationCount   int64                   `json:"modelInvocationCount"`
	TotalModelLatencyMs    int64                   `json:"totalModelLatencyMs"`
	TotalTimeToFirstByteMs int64                   `json:"totalTimeToFirstByteMs"`
	Usage                  model.Usage             `json:"usage"`
	ToolMetrics            map[string]*ToolMetrics `json:"toolMetrics,omitempty"`
	Traces                 []*Trace                `json:"traces,omitempty"`
}

// Clone deep-copies the metrics.
func (m *EventLoopMetrics) Clone() *EventLoopMetrics {
	if m == nil {
		return nil
	}
	out := *m
	if len(m.ToolMetrics) > 0 {
		out.ToolMetrics = make(map[string]*ToolMetrics, len(m.ToolMetrics))
		for name, tm := range m.ToolMetrics {
			copied := *tm
			out.ToolMetrics[name] = &copied
		}
	} else {
		out.ToolMetrics = nil
	}
	if len(m.Traces) > 0 {
		out.Traces = make([]*Trace, len(m.Traces))
		for i, tr := range m.Traces {
			out.Traces[i] = tr.Clone()
		}
	} else {
		out.Traces = nil
	}
	return &out
}

// Merge folds other into m. Multi-agent executors use it to accumulate node
// metrics into the run total.
func (m *EventLoopMetrics) Merge(other *EventLoopMetrics) {
	if other == nil {
		return
	}
	m.CycleCount += other.CycleCount
	m.TotalCycleDurationMs += other.TotalCycleDurationMs
	m.ModelInvocationCount += other.ModelInvocationCount
	m.TotalModelLatencyMs += other.TotalModelLatencyMs
	m.TotalTimeToFirstByteMs += other.TotalTimeToFirstByteMs
	m.Usage.Add(other.Usage)
	for name, tm := range other.ToolMetrics {
		if m.ToolMetrics == nil {
			m.ToolMetrics = make(map[string]*ToolMetrics)
		}
		agg, ok := m.ToolMetrics[name]
		if !ok {
			agg = &ToolMetrics{Name: name}
			m.ToolMetrics[name] = agg
		}
		agg.CallCount += tm.CallCount
		agg.SuccessCount += tm.SuccessCount
		agg.ErrorCount += tm.ErrorCount
		agg.TotalDurationMs += tm.TotalDurationMs
	}
	for _, tr := range other.Traces {
		m.Traces = append(m.Traces, tr.Clone())
	}
}

// Collector accumulates metrics for one invocation and mirrors them into a
// sink. All methods are safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	sink     Sink
	cycleSeq int64
	metrics  EventLoopMetrics
}

// NewCollector creates a collector. A nil sink records locally only.
func NewCollector(sink Sink) *Collector {
	if sink == nil {
		sink = NopSink{}
	}
	return &Collector{
		sink:    sink,
		metrics: EventLoopMetrics{ToolMetrics: make(map[string]*ToolMetrics)},
	}
}

// StartCycle opens a root trace for one event loop cycle. The returned close
// function ends the trace, folds attrs into its metadata, and bumps the
// cycle counters. Closing twice is a no-op.
func (c *Collector) StartCycle() (*Trace, func(attrs map[string]any)) {
	c.mu.Lock()
	c.cycleSeq++
	tr := newTrace(fmt.Sprintf("cycle %d", c.cycleSeq), "")
	c.metrics.Traces = append(c.metrics.Traces, tr)
	c.mu.Unlock()

	var once sync.Once
	closeFn := func(attrs map[string]any) {
		once.Do(func() {
			end := time.Now()
			durMs := end.Sub(tr.StartTime).Milliseconds()
			c.mu.Lock()
			tr.EndTime = &end
			for k, v := range attrs {
				tr.Metadata[k] = v
			}
			c.metrics.CycleCount++
			c.metrics.TotalCycleDurationMs += durMs
			c.mu.Unlock()
			c.sink.RecordCycle(durMs)
		})
	}
	return tr, closeFn
}

// RecordModelInvocation folds one model call into the totals. Pass ttfbMs 0
// when the stream carried no time-to-first-byte measurement.
func (c *Collector) RecordModelInvocation(usage model.Usage, latencyMs, ttfbMs int64) {
	c.mu.Lock()
	c.metrics.ModelInvocationCount++
	c.metrics.TotalModelLatencyMs += latencyMs
	if ttfbMs > 0 {
		c.metrics.TotalTimeToFirstByteMs += ttfbMs
	}
	c.metrics.Usage.Add(usage)
	c.mu.Unlock()
	c.sink.RecordModelInvocation(usage, latencyMs, ttfbMs)
}

// ToolExecution tracks one tool call. Executions count as errors unless
// MarkSuccess was called before Close.
type ToolExecution struct {
	c       *Collector
	name    string
	trace   *Trace
	mu      sync.Mutex
	success bool
	once    sync.Once
}

// StartToolExecution opens a trace for one tool call under parent. A nil
// parent makes the execution a root trace.
func (c *Collector) StartToolExecution(use *message.ToolUseBlock, parent *Trace) *ToolExecution {
	parentID := ""
	if parent != nil {
		parentID = parent.ID
	}
	tr := newTrace("tool: "+use.Name, parentID)
	tr.Metadata["toolUseId"] = use.ToolUseID

	c.mu.Lock()
	if parent != nil {
		parent.Children = append(parent.Children, tr)
	} else {
		c.metrics.Traces = append(c.metrics.Traces, tr)
	}
	c.mu.Unlock()

	return &ToolExecution{c: c, name: use.Name, trace: tr}
}

// Trace returns the execution's trace node.
func (e *ToolExecution) Trace() *Trace { return e.trace }

// MarkSuccess flags the execution as successful.
func (e *ToolExecution) MarkSuccess() {
	e.mu.Lock()
	e.success = true
	e.mu.Unlock()
}

// Close ends the trace and folds the execution into the per-tool counters.
// Closing twice is a no-op.
func (e *ToolExecution) Close() {
	e.once.Do(func() {
		end := time.Now()
		durMs := end.Sub(e.trace.StartTime).Milliseconds()
		e.mu.Lock()
		success := e.success
		e.mu.Unlock()

		e.c.mu.Lock()
		e.trace.EndTime = &end
		tm, ok := e.c.metrics.ToolMetrics[e.name]
		if !ok {
			tm = &ToolMetrics{Name: e.name}
			e.c.metrics.ToolMetrics[e.name] = tm
		}
		tm.CallCount++
		if success {
			tm.SuccessCount++
		} else {
			tm.ErrorCount++
		}
		tm.TotalDurationMs += durMs
		e.c.mu.Unlock()
		e.c.sink.RecordToolCall(e.name, durMs, success)
	})
}

// Metrics returns a deep copy of the accumulated metrics. Mutating the copy
// never affects the collector.
func (c *Collector) Metrics() *EventLoopMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics.Clone()
}
