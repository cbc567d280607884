package multiagent

// Run is a handle to an in-flight executor run: a stream of events plus a
// terminal result.
type Run struct {
	events chan Event
	done   chan struct{}
	result *Result
	err    error
}

// Events returns the run's event channel. It closes when the run ends.
func (r *Run) Events() <-chan Event { return r.events }

// Result blocks until the run ends and returns its terminal outcome.
// Callers must drain Events, or the run may stall forwarding them.
func (r *Run) Result() (*Result, error) {
	<-r.done
	return r.result, r.err
}
