package multiagent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEntryPoints reports a graph where no entry points were declared
	// and none could be inferred because every node has an incoming edge.
	ErrNoEntryPoints = errors.New("multiagent: no entry points; every node has an incoming edge")

	// ErrNoPendingInterrupts reports a Resume task on an executor with
	// nothing to resume.
	ErrNoPendingInterrupts = errors.New("multiagent: resume task without pending interrupts")

	// ErrPendingInterrupts reports a Prompt or Blocks task while a paused
	// run is waiting for interrupt responses.
	ErrPendingInterrupts = errors.New("multiagent: pending interrupts; resume the run first")
)

// ConcurrentExecutionError reports a second run starting while one is
// already in flight.
type ConcurrentExecutionError struct {
	Name string
}

func (e *ConcurrentExecutionError) Error() string {
	return fmt.Sprintf("executor %q already has a run in flight", e.Name)
}

// StateTypeMismatchError reports a state snapshot restored into an
// executor of a different type.
type StateTypeMismatchError struct {
	Want string
	Got  string
}

func (e *StateTypeMismatchError) Error() string {
	return fmt.Sprintf("state of type %q cannot restore a %s executor", e.Got, e.Want)
}
