package agent

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
)

const defaultSchemaDescription = "Record your final answer in the required output format."

// schemaToolSpec advertises the response schema as a tool. The model ends
// the conversation by calling it with the structured payload.
func (a *Agent) schemaToolSpec() model.ToolSpec {
	description := a.responseSchema.Description
	if description == "" {
		description = defaultSchemaDescription
	}
	return model.ToolSpec{
		Name:        a.responseSchema.Name,
		Description: description,
		InputSchema: a.responseSchema.Schema,
	}
}

// captureStructured returns the validated input of the first tool use
// matching the response schema, or ok=false when the turn holds none.
func (a *Agent) captureStructured(assistant *message.Message) (json.RawMessage, bool, error) {
	for _, use := range assistant.ToolUses() {
		if use.Name != a.responseSchema.Name {
			continue
		}
		if err := a.engine.ValidateNamed(a.responseSchema.Name, a.responseSchema.Schema, use.Input); err != nil {
			return nil, false, fmt.Errorf("structured output: %w", err)
		}
		return append(json.RawMessage(nil), use.Input...), true, nil
	}
	return nil, false, nil
}
