package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/schema"
)

type stubTool struct {
	name string
}

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "stub tool" }

func (s stubTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        s.name,
		Description: "stub tool",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

func (s stubTool) Stream(ctx context.Context, inv *Invocation) *Stream {
	st := NewStream(0)
	st.Close(message.SuccessTextResult(inv.ToolUse.ToolUseID, "ok"), nil)
	return st
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubTool{name: "alpha"}))

	tool, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", tool.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry(stubTool{name: "alpha"})
	err := r.Register(stubTool{name: "alpha"})
	require.Error(t, err)

	var dup *DuplicateToolError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "alpha", dup.Name)
}

func TestRegistry_RejectsInvalidNames(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(stubTool{name: ""}))
	assert.Error(t, r.Register(stubTool{name: strings.Repeat("x", MaxToolNameLength+1)}))
}

func TestRegistry_ReservedCoordinationName(t *testing.T) {
	r := NewRegistry()
	err := r.Register(stubTool{name: "handoff_to_agent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")

	require.NoError(t, r.RegisterCoordination(stubTool{name: "handoff_to_agent"}))
	_, ok := r.Get("handoff_to_agent")
	assert.True(t, ok)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(stubTool{name: "alpha"}, stubTool{name: "beta"})
	require.NoError(t, r.Remove("alpha"))

	_, ok := r.Get("alpha")
	assert.False(t, ok)
	assert.Equal(t, []string{"beta"}, r.Names())

	err := r.Remove("alpha")
	var unknown *UnknownToolError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "alpha", unknown.Name)
}

func TestRegistry_PreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry(stubTool{name: "gamma"}, stubTool{name: "alpha"}, stubTool{name: "beta"})
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, r.Names())

	specs := r.Specs()
	require.Len(t, specs, 3)
	assert.Equal(t, "gamma", specs[0].Name)
	assert.Equal(t, "alpha", specs[1].Name)
	assert.Equal(t, "beta", specs[2].Name)

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "gamma", list[0].Name())
}

func TestNewRegistry_PanicsOnDuplicate(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry(stubTool{name: "alpha"}, stubTool{name: "alpha"})
	})
}

func TestRegistry_InputValidation(t *testing.T) {
	doc := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"],"additionalProperties":false}`)
	weather := Func("weather", "looks up weather", doc, func(ctx context.Context, inv *Invocation) (*message.ToolResultBlock, error) {
		return message.SuccessTextResult(inv.ToolUse.ToolUseID, "sunny"), nil
	})
	r := NewRegistry(weather)

	// Everything passes until an engine is configured.
	require.NoError(t, r.ValidateInput("weather", json.RawMessage(`{"wrong":1}`)))

	r.WithInputValidation(schema.NewEngine())
	require.NoError(t, r.ValidateInput("weather", json.RawMessage(`{"city":"Oslo"}`)))

	err := r.ValidateInput("weather", json.RawMessage(`{"city":7}`))
	require.Error(t, err)
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "weather", verr.SchemaName)

	// Absent input counts as an empty object, which here misses a required
	// field. Unknown names are left for the registry lookup to report.
	assert.Error(t, r.ValidateInput("weather", nil))
	assert.NoError(t, r.ValidateInput("missing", json.RawMessage(`{"city":7}`)))
}

func TestFuncTool_Execute(t *testing.T) {
	tool := Func("echo", "echoes the text input", MustSchemaFor(struct {
		Text string `json:"text"`
	}{}), func(ctx context.Context, inv *Invocation) (*message.ToolResultBlock, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := inv.Input(&in); err != nil {
			return nil, err
		}
		return message.SuccessTextResult(inv.ToolUse.ToolUseID, in.Text), nil
	})

	assert.Equal(t, "echo", tool.Name())
	assert.Equal(t, "echoes the text input", tool.Description())

	use := message.NewToolUseBlock("tool-1", "echo", json.RawMessage(`{"text":"hello"}`))
	stream := tool.Stream(context.Background(), &Invocation{ToolUse: use.ToolUse})

	result, err := Collect(context.Background(), stream, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "tool-1", result.ToolUseID)
	assert.Equal(t, message.ToolResultSuccess, result.Status)
	assert.Equal(t, "hello", result.TextContent())
}

func TestFuncTool_DefaultSpecSchema(t *testing.T) {
	tool := Func("noop", "does nothing", nil, func(ctx context.Context, inv *Invocation) (*message.ToolResultBlock, error) {
		return message.SuccessTextResult(inv.ToolUse.ToolUseID, "done"), nil
	})
	spec := tool.Spec()
	assert.JSONEq(t, `{"type":"object"}`, string(spec.InputSchema))
}

func TestInvocation_InputDefaultsToEmptyObject(t *testing.T) {
	use := message.NewToolUseBlock("tool-2", "noop", nil)
	inv := &Invocation{ToolUse: use.ToolUse}

	var in struct {
		Text string `json:"text"`
	}
	require.NoError(t, inv.Input(&in))
	assert.Empty(t, in.Text)
}

func TestInvocation_InputDecodeError(t *testing.T) {
	use := message.NewToolUseBlock("tool-3", "echo", json.RawMessage(`{"text":42}`))
	inv := &Invocation{ToolUse: use.ToolUse}

	var in struct {
		Text string `json:"text"`
	}
	err := inv.Input(&in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "echo")
}

func TestStream_ProgressThenResult(t *testing.T) {
	s := NewStream(4)
	go func() {
		_ = s.Send(context.Background(), ProgressEvent("step 1", nil))
		_ = s.Send(context.Background(), ProgressEvent("step 2", json.RawMessage(`{"pct":50}`)))
		s.Close(message.SuccessTextResult("tool-1", "finished"), nil)
	}()

	var seen []string
	result, err := Collect(context.Background(), s, func(ev Event) error {
		require.Equal(t, EventProgress, ev.Type)
		require.NotNil(t, ev.Progress)
		seen = append(seen, ev.Progress.Message)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"step 1", "step 2"}, seen)
	assert.Equal(t, "finished", result.TextContent())
}

func TestStream_SendAfterClose(t *testing.T) {
	s := NewStream(0)
	s.Close(nil, errors.New("boom"))

	err := s.Send(context.Background(), ProgressEvent("late", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	s := NewStream(0)
	s.Close(message.SuccessTextResult("tool-1", "first"), nil)
	s.Close(nil, errors.New("second"))

	result, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, "first", result.TextContent())
}

func TestStream_TerminalError(t *testing.T) {
	s := NewStream(0)
	go s.Close(nil, fmt.Errorf("backend unreachable"))

	result, err := Collect(context.Background(), s, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "backend unreachable")
}

func TestCollect_ContextCancel(t *testing.T) {
	s := NewStream(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx, s, nil)
	require.ErrorIs(t, err, context.Canceled)
	s.Close(nil, nil)
}

func TestCollect_CallbackError(t *testing.T) {
	s := NewStream(4)
	_ = s.Send(context.Background(), ProgressEvent("step 1", nil))
	s.Close(message.SuccessTextResult("tool-1", "done"), nil)

	_, err := Collect(context.Background(), s, func(Event) error {
		return errors.New("consumer failed")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer failed")
}

func TestSchemaFor_ReflectsStruct(t *testing.T) {
	type calcInput struct {
		Expression string `json:"expression" jsonschema:"description=Expression to evaluate"`
		Precision  int    `json:"precision,omitempty"`
	}

	raw, err := SchemaFor(calcInput{})
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "expression")
	assert.Contains(t, props, "precision")

	expr, ok := props["expression"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Expression to evaluate", expr["description"])

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "expression")
	assert.NotContains(t, required, "precision")

	assert.NotContains(t, string(raw), "$ref")
}
