package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/schema"
)

// MaxToolNameLength is the maximum length of a tool name.
const MaxToolNameLength = 256

// reservedNames are coordination tool names managed by multi-agent
// executors. Plain Register rejects them.
var reservedNames = map[string]struct{}{
	"handoff_to_agent": {},
}

// DuplicateToolError reports a name collision on Register.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// UnknownToolError reports a lookup or removal of an unregistered name.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q not registered", e.Name)
}

// Registry manages available tools with thread-safe registration and lookup.
// Iteration order is registration order, so tool specs reach the model in a
// stable sequence.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	engine *schema.Engine
}

// NewRegistry creates a registry preloaded with the given tools. It panics
// on invalid or duplicate names, which makes it suitable for static setup.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a tool by its name. Empty, oversized, reserved, and
// duplicate names are rejected.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if _, reserved := reservedNames[name]; reserved {
		return fmt.Errorf("tool name %q is reserved for coordination", name)
	}
	return r.register(name, tool)
}

// RegisterCoordination adds a coordination tool, bypassing the reserved-name
// check. Multi-agent executors use this for handoff tools.
func (r *Registry) RegisterCoordination(tool Tool) error {
	return r.register(tool.Name(), tool)
}

func (r *Registry) register(name string, tool Tool) error {
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// WithInputValidation enables schema checks on proposed tool inputs and
// returns the registry for chaining. The agent loop consults ValidateInput
// before executing a tool and reports failures back to the model as error
// results instead of running the tool.
func (r *Registry) WithInputValidation(engine *schema.Engine) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine = engine
	return r
}

// ValidateInput checks an input against the named tool's input schema. It
// accepts everything unless WithInputValidation was called. Tools without an
// input schema accept any input; an absent input counts as an empty object.
func (r *Registry) ValidateInput(name string, input json.RawMessage) error {
	r.mu.RLock()
	engine := r.engine
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if engine == nil || !ok {
		return nil
	}
	spec := tool.Spec()
	if len(spec.InputSchema) == 0 {
		return nil
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return engine.ValidateNamed(name, spec.InputSchema, input)
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Remove unregisters a tool by name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return &UnknownToolError{Name: name}
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Specs returns the tool specs in registration order for passing to model
// providers.
func (r *Registry) Specs() []model.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]model.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}
