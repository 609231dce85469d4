package task

import (
	"context"
	"sync"
	"time"
)

// Future is a one-shot completion handle with a deadline. Gateway callback
// goroutines resolve or fail it; exactly one waiter blocks on it. It
// replaces a raw condition variable so deadline arithmetic lives in one
// place.
type Future struct {
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// NewFuture allocates an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve completes the future successfully. Later calls are no-ops.
func (f *Future) Resolve() {
	f.once.Do(func() {
		close(f.done)
	})
}

// Fail completes the future with an error. Later calls are no-ops.
func (f *Future) Fail(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Done reports whether the future has completed.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until resolution, the deadline, or context cancellation.
// A deadline expiry returns ErrTimeout.
func (f *Future) Wait(ctx context.Context, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.err
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
