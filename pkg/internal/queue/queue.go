package queue

import (
	"sync"
)

// Queue is an unbounded FIFO with a wake signal. Producers never block;
// a single consumer drains it in order.
type Queue[T any] struct {
	items  []T
	closed bool
	mu     sync.Mutex
	wake   chan struct{}
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	return &Queue[T]{
		wake: make(chan struct{}, 1),
	}
}

// Push appends v and wakes the consumer. It reports false once the queue
// is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop removes and returns the oldest item
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Wake is signalled after every Push and on Close
func (q *Queue[T]) Wake() <-chan struct{} {
	return q.wake
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes. Queued items can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Closed reports whether Close was called
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Clear drops every queued item
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
