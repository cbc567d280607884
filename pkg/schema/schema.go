// Package schema validates JSON values against JSON Schema documents. The
// runtime treats schema validation as an injected capability: structured
// output, optional tool-input checks, and config validation all go through
// an Engine.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Definition names a schema the model is asked to satisfy, typically for
// structured output.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// Validate checks the definition itself compiles.
func (d *Definition) Validate(e *Engine) error {
	if d.Name == "" {
		return fmt.Errorf("schema definition requires a name")
	}
	if len(d.Schema) == 0 {
		return fmt.Errorf("schema definition %q requires a schema", d.Name)
	}
	_, err := e.compile(d.Schema)
	return err
}

// ValidationError reports a value that failed its schema.
type ValidationError struct {
	SchemaName string
	Err        error
}

func (e *ValidationError) Error() string {
	if e.SchemaName != "" {
		return fmt.Sprintf("value does not satisfy schema %q: %v", e.SchemaName, e.Err)
	}
	return fmt.Sprintf("value does not satisfy schema: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Engine compiles and caches schemas. The zero value is not usable; call
// NewEngine.
type Engine struct {
	cache sync.Map
}

// NewEngine returns an empty engine.
func NewEngine() *Engine { return &Engine{} }

// Validate checks a JSON value against a schema document.
func (e *Engine) Validate(schemaDoc, value json.RawMessage) error {
	return e.ValidateNamed("", schemaDoc, value)
}

// ValidateNamed is Validate with a schema name attached to failures.
func (e *Engine) ValidateNamed(name string, schemaDoc, value json.RawMessage) error {
	compiled, err := e.compile(schemaDoc)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(value, &decoded); err != nil {
		return &ValidationError{SchemaName: name, Err: fmt.Errorf("decode value: %w", err)}
	}
	if err := compiled.Validate(decoded); err != nil {
		return &ValidationError{SchemaName: name, Err: err}
	}
	return nil
}

func (e *Engine) compile(doc json.RawMessage) (*jsonschema.Schema, error) {
	key := string(doc)
	if cached, ok := e.cache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("schema.json", key)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	e.cache.Store(key, compiled)
	return compiled, nil
}
