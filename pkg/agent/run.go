package agent

// Run is a live invocation. Events delivers the stream; Result blocks until
// the loop ends and returns the terminal outcome. The loop stops pushing if
// the consumer stops draining, so always read Events through to close.
type Run struct {
	events chan Event
	done   chan struct{}
	result *Result
	err    error
}

// Events returns the event channel. It closes when the invocation ends.
func (r *Run) Events() <-chan Event { return r.events }

// Result blocks until the invocation ends, then returns the terminal
// result. A paused turn returns a Result with StopReason StopInterrupt and
// a nil error.
func (r *Run) Result() (*Result, error) {
	<-r.done
	return r.result, r.err
}
