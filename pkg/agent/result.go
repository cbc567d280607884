package agent

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/metrics"
	"github.com/haasonsaas/loom/pkg/model"
)

// Result is the terminal outcome of an invocation.
type Result struct {
	// StopReason reports why the loop stopped. StopInterrupt means the
	// turn is paused and Interrupts lists what it is waiting on.
	StopReason model.StopReason `json:"stopReason"`

	// Message is the last assistant message of the invocation. On a
	// paused turn it is the assembled assistant message that has not
	// been committed to the conversation yet.
	Message *message.Message `json:"message,omitempty"`

	// Structured holds the validated structured output when the agent
	// was configured with a response schema.
	Structured json.RawMessage `json:"structured,omitempty"`

	// Metrics is a snapshot of the agent's accumulated metrics.
	Metrics *metrics.EventLoopMetrics `json:"metrics,omitempty"`

	// Interrupts lists the pending interrupts of a paused turn.
	Interrupts []*interrupt.Interrupt `json:"interrupts,omitempty"`
}

// String renders the result for display. Structured output renders as
// compact JSON. Otherwise the final message's text and reasoning blocks
// are joined by newlines, with reasoning prefixed "Reasoning: ". An
// empty result renders as "".
func (r *Result) String() string {
	if r == nil {
		return ""
	}
	if len(r.Structured) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, r.Structured); err == nil {
			return buf.String()
		}
		return string(r.Structured)
	}
	if r.Message == nil {
		return ""
	}
	var parts []string
	for _, block := range r.Message.Content {
		switch {
		case block.Text != nil:
			parts = append(parts, block.Text.Text)
		case block.Reasoning != nil && block.Reasoning.Text != "":
			parts = append(parts, "Reasoning: "+block.Reasoning.Text)
		}
	}
	return strings.Join(parts, "\n")
}
