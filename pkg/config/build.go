package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/loom/pkg/agent"
	"github.com/haasonsaas/loom/pkg/model"
	"github.com/haasonsaas/loom/pkg/multiagent"
	"github.com/haasonsaas/loom/pkg/schema"
	"github.com/haasonsaas/loom/pkg/tools"
)

// BuildAgents constructs one agent per definition, resolving provider and
// tool names against the supplied maps. The returned map is keyed by agent
// name.
func (d *Definitions) BuildAgents(providers map[string]model.Provider, toolset map[string]tools.Tool) (map[string]*agent.Agent, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	agents := make(map[string]*agent.Agent, len(d.Agents))
	for _, def := range d.Agents {
		provider, ok := providers[def.Provider]
		if !ok {
			return nil, fmt.Errorf("config: agent %q: unknown provider %q", def.Name, def.Provider)
		}
		selected := make([]tools.Tool, 0, len(def.Tools))
		for _, name := range def.Tools {
			tool, ok := toolset[name]
			if !ok {
				return nil, fmt.Errorf("config: agent %q: unknown tool %q", def.Name, name)
			}
			selected = append(selected, tool)
		}

		cfg := agent.Config{
			Name:         def.Name,
			Provider:     provider,
			Tools:        selected,
			SystemPrompt: def.SystemPrompt,
			MaxCycles:    def.MaxCycles,
		}
		if def.ResponseSchema != nil {
			doc, err := json.Marshal(def.ResponseSchema.Schema)
			if err != nil {
				return nil, fmt.Errorf("config: agent %q: encode response schema: %w", def.Name, err)
			}
			cfg.ResponseSchema = &schema.Definition{
				Name:        def.ResponseSchema.Name,
				Description: def.ResponseSchema.Description,
				Schema:      doc,
			}
		}

		a, err := agent.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("config: agent %q: %w", def.Name, err)
		}
		agents[def.Name] = a
	}
	return agents, nil
}

// BuildGraph builds the defined agents and wires them into the declared
// graph.
func (d *Definitions) BuildGraph(providers map[string]model.Provider, toolset map[string]tools.Tool) (*multiagent.Graph, error) {
	if d.Graph == nil {
		return nil, errors.New("config: no graph defined")
	}
	agents, err := d.BuildAgents(providers, toolset)
	if err != nil {
		return nil, err
	}

	b := multiagent.NewGraphBuilder().WithName(d.Graph.Name)
	for _, id := range d.Graph.Nodes {
		b.AddNode(id, agents[id])
	}
	for _, e := range d.Graph.Edges {
		b.AddEdge(e.From, e.To)
	}
	if len(d.Graph.EntryPoints) > 0 {
		b.SetEntryPoints(d.Graph.EntryPoints...)
	}
	if d.Graph.MaxNodeExecutions > 0 {
		b.SetMaxNodeExecutions(d.Graph.MaxNodeExecutions)
	}
	if d.Graph.ExecutionTimeout > 0 {
		b.SetExecutionTimeout(d.Graph.ExecutionTimeout)
	}
	if d.Graph.NodeTimeout > 0 {
		b.SetNodeTimeout(d.Graph.NodeTimeout)
	}
	b.ResetOnRevisit(d.Graph.ResetOnRevisit)
	return b.Build()
}

// BuildSwarm builds the defined agents and wires them into the declared
// swarm. Zero limits keep the swarm defaults; negative limits remove the
// caps.
func (d *Definitions) BuildSwarm(providers map[string]model.Provider, toolset map[string]tools.Tool) (*multiagent.Swarm, error) {
	if d.Swarm == nil {
		return nil, errors.New("config: no swarm defined")
	}
	agents, err := d.BuildAgents(providers, toolset)
	if err != nil {
		return nil, err
	}

	b := multiagent.NewSwarmBuilder().WithName(d.Swarm.Name)
	for _, id := range d.Swarm.Agents {
		b.AddAgent(agents[id])
	}
	if d.Swarm.EntryPoint != "" {
		b.SetEntryPoint(d.Swarm.EntryPoint)
	}
	if d.Swarm.MaxHandoffs != 0 {
		b.SetMaxHandoffs(d.Swarm.MaxHandoffs)
	}
	if d.Swarm.MaxIterations != 0 {
		b.SetMaxIterations(d.Swarm.MaxIterations)
	}
	if d.Swarm.ExecutionTimeout > 0 {
		b.SetExecutionTimeout(d.Swarm.ExecutionTimeout)
	}
	if d.Swarm.NodeTimeout > 0 {
		b.SetNodeTimeout(d.Swarm.NodeTimeout)
	}
	if d.Swarm.RepetitiveHandoffDetectionWindow > 0 {
		b.SetRepetitiveHandoffDetectionWindow(d.Swarm.RepetitiveHandoffDetectionWindow)
	}
	if d.Swarm.RepetitiveHandoffMinUniqueAgents > 0 {
		b.SetRepetitiveHandoffMinUniqueAgents(d.Swarm.RepetitiveHandoffMinUniqueAgents)
	}
	return b.Build()
}
