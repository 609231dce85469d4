package pipeline

import (
	"context"
	"sync"
	"time"

	"linewatch/internal/model"
)

// PendingCounter is the fan-in point of one stage: it tracks in-flight
// children and the merged partial point set. Merge and abort run under one
// lock so concurrent child callbacks never lose updates; every child
// decrements exactly once, so the parent unblocks even on partial failure.
type PendingCounter struct {
	mu        sync.Mutex
	remaining int
	points    []model.GraphPoint
	seen      map[int64]struct{}
	aborted   bool
	cause     error
	done      chan struct{}
}

// NewPendingCounter creates a counter expecting n children.
func NewPendingCounter(n int) *PendingCounter {
	c := &PendingCounter{
		remaining: n,
		seen:      make(map[int64]struct{}),
		done:      make(chan struct{}),
	}
	if n <= 0 {
		close(c.done)
	}
	return c
}

// Merge folds one child's points into the partial set and decrements.
// Points arriving after an abort are ignored but still decrement.
func (c *PendingCounter) Merge(points []model.GraphPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining <= 0 {
		return
	}
	if !c.aborted {
		for _, p := range points {
			key := p.Time.UnixNano()
			if _, dup := c.seen[key]; dup {
				continue
			}
			c.seen[key] = struct{}{}
			c.points = append(c.points, p)
		}
	}
	c.decrementLocked()
}

// Abort marks the stage failed with cause and decrements.
func (c *PendingCounter) Abort(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining <= 0 {
		return
	}
	if !c.aborted {
		c.aborted = true
		c.cause = cause
	}
	c.decrementLocked()
}

func (c *PendingCounter) decrementLocked() {
	c.remaining--
	if c.remaining == 0 {
		close(c.done)
	}
}

// Wait blocks until every child reported or the deadline/context expires.
// On success it returns the merged points in timestamp order.
func (c *PendingCounter) Wait(ctx context.Context, deadline time.Time) ([]model.GraphPoint, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		return nil, ErrStageTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return nil, c.cause
	}
	sorted := make([]model.GraphPoint, len(c.points))
	copy(sorted, c.points)
	sortByTime(sorted)
	return sorted, nil
}
