// Package config loads declarative agent, graph, and swarm definitions
// from YAML and assembles executable runtimes from them. Definitions name
// providers and tools symbolically; the caller supplies the live instances
// at build time.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Definitions is the root of a definitions document.
type Definitions struct {
	Agents []AgentDef `yaml:"agents"`
	Graph  *GraphDef  `yaml:"graph,omitempty"`
	Swarm  *SwarmDef  `yaml:"swarm,omitempty"`
}

// AgentDef declares one agent. Provider and tool names resolve against the
// maps passed to the build helpers.
type AgentDef struct {
	Name           string     `yaml:"name"`
	SystemPrompt   string     `yaml:"system_prompt,omitempty"`
	Provider       string     `yaml:"provider"`
	Tools          []string   `yaml:"tools,omitempty"`
	MaxCycles      int        `yaml:"max_cycles,omitempty"`
	ResponseSchema *SchemaDef `yaml:"response_schema,omitempty"`
}

// SchemaDef declares a structured-output schema inline. The schema body is
// plain YAML and is re-encoded to JSON at build time.
type SchemaDef struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Schema      map[string]any `yaml:"schema"`
}

// GraphDef declares a dependency graph over the defined agents.
type GraphDef struct {
	Name              string        `yaml:"name,omitempty"`
	Nodes             []string      `yaml:"nodes"`
	Edges             []EdgeDef     `yaml:"edges,omitempty"`
	EntryPoints       []string      `yaml:"entry_points,omitempty"`
	MaxNodeExecutions int           `yaml:"max_node_executions,omitempty"`
	ExecutionTimeout  time.Duration `yaml:"execution_timeout,omitempty"`
	NodeTimeout       time.Duration `yaml:"node_timeout,omitempty"`
	ResetOnRevisit    bool          `yaml:"reset_on_revisit,omitempty"`
}

// EdgeDef declares that To depends on From completing.
type EdgeDef struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// SwarmDef declares a handoff swarm over the defined agents.
type SwarmDef struct {
	Name             string        `yaml:"name,omitempty"`
	Agents           []string      `yaml:"agents"`
	EntryPoint       string        `yaml:"entry_point,omitempty"`
	MaxHandoffs      int           `yaml:"max_handoffs,omitempty"`
	MaxIterations    int           `yaml:"max_iterations,omitempty"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout,omitempty"`
	NodeTimeout      time.Duration `yaml:"node_timeout,omitempty"`

	// RepetitiveHandoffDetectionWindow fails a run when the last N turns
	// cycle among too few agents. 0 leaves the check off.
	RepetitiveHandoffDetectionWindow int `yaml:"repetitive_handoff_detection_window,omitempty"`
	RepetitiveHandoffMinUniqueAgents int `yaml:"repetitive_handoff_min_unique_agents,omitempty"`
}

// Validate checks the definitions for internal consistency: required
// fields, duplicate names, and dangling references.
func (d *Definitions) Validate() error {
	if len(d.Agents) == 0 {
		return errors.New("config: at least one agent is required")
	}
	agents := map[string]bool{}
	for i, a := range d.Agents {
		if a.Name == "" {
			return fmt.Errorf("config: agents[%d]: name is required", i)
		}
		if agents[a.Name] {
			return fmt.Errorf("config: duplicate agent %q", a.Name)
		}
		agents[a.Name] = true
		if a.Provider == "" {
			return fmt.Errorf("config: agent %q: provider is required", a.Name)
		}
		if a.MaxCycles < 0 {
			return fmt.Errorf("config: agent %q: max_cycles must not be negative", a.Name)
		}
		if a.ResponseSchema != nil {
			if a.ResponseSchema.Name == "" {
				return fmt.Errorf("config: agent %q: response_schema: name is required", a.Name)
			}
			if len(a.ResponseSchema.Schema) == 0 {
				return fmt.Errorf("config: agent %q: response_schema: schema is required", a.Name)
			}
		}
	}
	if d.Graph != nil {
		if err := d.Graph.validate(agents); err != nil {
			return err
		}
	}
	if d.Swarm != nil {
		if err := d.Swarm.validate(agents); err != nil {
			return err
		}
	}
	return nil
}

func (g *GraphDef) validate(agents map[string]bool) error {
	if len(g.Nodes) == 0 {
		return errors.New("config: graph: at least one node is required")
	}
	nodes := map[string]bool{}
	for _, id := range g.Nodes {
		if !agents[id] {
			return fmt.Errorf("config: graph: node %q is not a defined agent", id)
		}
		if nodes[id] {
			return fmt.Errorf("config: graph: duplicate node %q", id)
		}
		nodes[id] = true
	}
	for _, e := range g.Edges {
		if !nodes[e.From] {
			return fmt.Errorf("config: graph: edge references unknown node %q", e.From)
		}
		if !nodes[e.To] {
			return fmt.Errorf("config: graph: edge references unknown node %q", e.To)
		}
	}
	for _, id := range g.EntryPoints {
		if !nodes[id] {
			return fmt.Errorf("config: graph: entry point references unknown node %q", id)
		}
	}
	if g.MaxNodeExecutions < 0 {
		return errors.New("config: graph: max_node_executions must not be negative")
	}
	return nil
}

func (s *SwarmDef) validate(agents map[string]bool) error {
	if len(s.Agents) == 0 {
		return errors.New("config: swarm: at least one agent is required")
	}
	members := map[string]bool{}
	for _, id := range s.Agents {
		if !agents[id] {
			return fmt.Errorf("config: swarm: agent %q is not a defined agent", id)
		}
		if members[id] {
			return fmt.Errorf("config: swarm: duplicate agent %q", id)
		}
		members[id] = true
	}
	if s.EntryPoint != "" && !members[s.EntryPoint] {
		return fmt.Errorf("config: swarm: entry point references unknown agent %q", s.EntryPoint)
	}
	if s.RepetitiveHandoffDetectionWindow < 0 {
		return errors.New("config: swarm: repetitive_handoff_detection_window must not be negative")
	}
	if s.RepetitiveHandoffMinUniqueAgents < 0 {
		return errors.New("config: swarm: repetitive_handoff_min_unique_agents must not be negative")
	}
	return nil
}
