package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, expands, parses, and validates a definitions file.
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return Parse(data)
}

// Parse decodes a definitions document. Environment variable references
// expand before decoding, unknown fields are rejected, and exactly one
// YAML document is accepted.
func Parse(data []byte) (*Definitions, error) {
	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)

	var defs Definitions
	if err := decoder.Decode(&defs); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("parse definitions: empty document")
		}
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("parse definitions: expected a single document")
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return &defs, nil
}
