package multiagent

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/message"
	"github.com/haasonsaas/loom/pkg/model"
)

const (
	executorTypeGraph = "graph"
	executorTypeSwarm = "swarm"
)

// executorState is the persisted form of a graph or swarm run. The type
// field discriminates which executor wrote it; deserializing into the
// other kind fails with StateTypeMismatchError. Live callbacks, hook
// registries, and trace data are not persisted.
type executorState struct {
	Type             string                 `json:"type"`
	Name             string                 `json:"name,omitempty"`
	Status           Status                 `json:"status"`
	Task             string                 `json:"task,omitempty"`
	NodeResults      map[string]*NodeResult `json:"node_results,omitempty"`
	ExecutionCount   int                    `json:"execution_count,omitempty"`
	ExecutionTimeMs  int64                  `json:"execution_time_ms,omitempty"`
	AccumulatedUsage model.Usage            `json:"accumulated_usage"`

	// Interrupts maps interrupted node IDs to what they are waiting on,
	// so a resume can route responses back to the right node.
	Interrupts map[string][]*interrupt.Interrupt `json:"interrupts,omitempty"`

	// NodeStates holds each interrupted agent node's interrupt-state
	// snapshot, and NodeMessages its conversation, so a restored executor
	// can replay the paused turn.
	NodeStates   map[string]json.RawMessage   `json:"node_states,omitempty"`
	NodeMessages map[string][]message.Message `json:"node_messages,omitempty"`

	// NestedStates holds the serialized state of nested executor nodes.
	NestedStates map[string]json.RawMessage `json:"nested_states,omitempty"`

	// Graph fields.
	CompletedNodes []string `json:"completed_nodes,omitempty"`
	NextNodes      []string `json:"next_nodes,omitempty"`

	// Swarm fields.
	NodeHistory   []string                              `json:"node_history,omitempty"`
	Handoffs      int                                   `json:"handoffs,omitempty"`
	SharedContext map[string]map[string]json.RawMessage `json:"shared_context,omitempty"`
}

// decodeExecutorState unmarshals data and checks its type discriminator.
func decodeExecutorState(data json.RawMessage, want string) (*executorState, error) {
	var state executorState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode executor state: %w", err)
	}
	if state.Type != want {
		return nil, &StateTypeMismatchError{Want: want, Got: state.Type}
	}
	return &state, nil
}

// captureNodeState snapshots the interrupt state, conversation, or nested
// state of nodes that need them to resume.
func captureNodeState(state *executorState, nodes map[string]*node, interrupted map[string]bool) error {
	for id, n := range nodes {
		switch {
		case n.agent != nil:
			if !interrupted[id] {
				continue
			}
			snap, err := n.agent.InterruptState().Snapshot()
			if err != nil {
				return fmt.Errorf("snapshot node %q: %w", id, err)
			}
			if state.NodeStates == nil {
				state.NodeStates = map[string]json.RawMessage{}
			}
			if state.NodeMessages == nil {
				state.NodeMessages = map[string][]message.Message{}
			}
			state.NodeStates[id] = snap
			state.NodeMessages[id] = n.agent.Messages()
		case n.executor != nil:
			nested, err := n.executor.SerializeState()
			if err != nil {
				return fmt.Errorf("serialize nested node %q: %w", id, err)
			}
			if state.NestedStates == nil {
				state.NestedStates = map[string]json.RawMessage{}
			}
			state.NestedStates[id] = nested
		}
	}
	return nil
}

// restoreNodeState pushes persisted per-node state back into live nodes.
// Nodes absent from the snapshot keep their current state.
func restoreNodeState(state *executorState, nodes map[string]*node) error {
	for id, snap := range state.NodeStates {
		n, ok := nodes[id]
		if !ok || n.agent == nil {
			return fmt.Errorf("restore node %q: no such agent node", id)
		}
		if err := n.agent.InterruptState().Restore(snap); err != nil {
			return fmt.Errorf("restore node %q: %w", id, err)
		}
	}
	for id, msgs := range state.NodeMessages {
		n, ok := nodes[id]
		if !ok || n.agent == nil {
			return fmt.Errorf("restore node %q: no such agent node", id)
		}
		n.agent.SetMessages(msgs)
	}
	for id, nested := range state.NestedStates {
		n, ok := nodes[id]
		if !ok || n.executor == nil {
			return fmt.Errorf("restore node %q: no such nested node", id)
		}
		if err := n.executor.DeserializeState(nested); err != nil {
			return fmt.Errorf("restore node %q: %w", id, err)
		}
	}
	return nil
}

// interruptIndex maps every pending interrupt ID to the node waiting on it.
func interruptIndex(byNode map[string][]*interrupt.Interrupt) map[string]string {
	index := make(map[string]string)
	for nodeID, ins := range byNode {
		for _, in := range ins {
			index[in.ID] = nodeID
		}
	}
	return index
}
