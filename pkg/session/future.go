package session

import (
	"context"
	"sync"
)

// Future is a single-resolution result. The first resolve or reject wins.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// rejectedFuture returns a future already failed with err
func rejectedFuture[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.reject(err)
	return f
}

func (f *Future[T]) resolve(v T) bool {
	ok := false
	f.once.Do(func() {
		f.value = v
		close(f.done)
		ok = true
	})
	return ok
}

func (f *Future[T]) reject(err error) bool {
	ok := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		ok = true
	})
	return ok
}

// Done is closed once the future is resolved or rejected
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or ctx ends.
// A ctx error leaves the underlying request untouched.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Pending reports whether the future is still unresolved
func (f *Future[T]) Pending() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}
