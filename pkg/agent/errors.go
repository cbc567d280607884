package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProvider reports an agent configured without a model provider.
	ErrNoProvider = errors.New("agent: no model provider configured")

	// ErrNoPendingInterrupts reports a Resume input with nothing to resume.
	ErrNoPendingInterrupts = errors.New("agent: resume input without pending interrupts")

	// ErrPendingInterrupts reports a Prompt or Blocks input while a paused
	// turn is waiting for interrupt responses.
	ErrPendingInterrupts = errors.New("agent: pending interrupts; resume or reset the interrupt state first")

	// ErrResumeWithSchema reports a Resume input on an agent configured for
	// structured output, which cannot pause.
	ErrResumeWithSchema = errors.New("agent: resume is not supported with a response schema")
)

// Phase names the loop phase an error escaped from.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhaseModelCall     Phase = "model_call"
	PhaseToolExecution Phase = "tool_execution"
	PhaseCommit        Phase = "commit"
	PhaseResume        Phase = "resume"
	PhaseMaxCycles     Phase = "max_cycles"
)

// LoopError wraps a failure with the phase and cycle it escaped from.
type LoopError struct {
	Phase Phase
	Cycle int
	Err   error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop failed in phase %s (cycle %d): %v", e.Phase, e.Cycle, e.Err)
}

func (e *LoopError) Unwrap() error { return e.Err }

// ConcurrentInvocationError reports a second invocation starting while one
// is already in flight.
type ConcurrentInvocationError struct {
	AgentName string
}

func (e *ConcurrentInvocationError) Error() string {
	return fmt.Sprintf("agent %q already has an invocation in flight", e.AgentName)
}
