package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"linewatch/internal/model/enum"
)

// Runnable is the work a job carries. Execute runs on a dedicated
// goroutine with an assigned account; returning ErrNoConnection or
// ErrPacingViolation requeues the job, any other error is final for this
// attempt. Fail is invoked once when the retry budget is exhausted so the
// task can convert the terminal failure into an error result.
type Runnable interface {
	Execute(ctx context.Context, account *Account) error
	Fail(cause error)
}

// Job wraps a runnable with its queue bookkeeping.
type Job struct {
	ID       uuid.UUID
	Priority enum.Priority
	Created  time.Time
	Retries  int
	Run      Runnable
}

func newJob(run Runnable, priority enum.Priority, now time.Time) *Job {
	return &Job{
		ID:       uuid.New(),
		Priority: priority,
		Created:  now,
		Run:      run,
	}
}

// jobHeap orders jobs by priority first, then age.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Created.Before(h[j].Created)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(*Job))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
