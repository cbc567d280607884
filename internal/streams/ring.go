// Package streams provides bounded queues for fanning events from
// concurrently executing nodes into a single consumer.
package streams

import (
	"context"
	"sync"
)

// Ring is a bounded FIFO that drops the oldest entry when full. Producers
// push without blocking; a consumer pops with Next. Safe for concurrent use.
type Ring[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	count   int
	dropped int64
	closed  bool

	signal chan struct{}
	done   chan struct{}
}

// NewRing creates a ring holding at most capacity entries. Capacities below
// one are clamped to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:    make([]T, capacity),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push enqueues v, evicting the oldest entry when the ring is full. It
// reports false once the ring is closed.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		r.dropped++
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
	return true
}

// Next pops the oldest entry, blocking until one arrives. It reports false
// when the ring is closed and drained, or when ctx ends.
func (r *Ring[T]) Next(ctx context.Context) (T, bool) {
	var zero T
	for {
		r.mu.Lock()
		if r.count > 0 {
			v := r.buf[r.head]
			r.buf[r.head] = zero
			r.head = (r.head + 1) % len(r.buf)
			r.count--
			r.mu.Unlock()
			return v, true
		}
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return zero, false
		}
		select {
		case <-ctx.Done():
			return zero, false
		case <-r.done:
		case <-r.signal:
		}
	}
}

// Drain pops everything currently queued without blocking.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return nil
	}
	out := make([]T, 0, r.count)
	var zero T
	for r.count > 0 {
		out = append(out, r.buf[r.head])
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.count--
	}
	return out
}

// Forward pumps entries into dst until the ring is closed and drained, or
// ctx ends. It blocks on the receiver, never on producers.
func (r *Ring[T]) Forward(ctx context.Context, dst chan<- T) {
	for {
		v, ok := r.Next(ctx)
		if !ok {
			return
		}
		select {
		case dst <- v:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the ring. Queued entries remain readable through Next and
// Drain; further pushes are rejected.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)
}

// Dropped reports how many entries were evicted by overflow.
func (r *Ring[T]) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Len reports the number of queued entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
