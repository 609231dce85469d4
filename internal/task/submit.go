package task

import (
	"context"
	"time"

	"linewatch/internal/dispatch"
	"linewatch/internal/model/enum"
)

// waitSlack bounds how long past the worst-case schedule a synchronous
// caller is willing to block; it only covers scheduling overhead.
const waitSlack = 15 * time.Second

// waitBudget sizes the synchronous wait to the worst case the queue can
// produce: the initial attempt plus every retry burning a full connect
// window and pacing pause, then the data deadline, then slack.
func waitBudget(opts Options, cfg dispatch.Config) time.Duration {
	attempts := time.Duration(cfg.MaxRetries + 1)
	return opts.AbortAfter + attempts*(opts.ConnectWindow+cfg.PacingDelay) + waitSlack
}

// SubmitAndWait submits the task and blocks until its result arrives.
// The wait covers the queue's full retry budget, so a task that exhausts
// its retries still produces its terminal error result here rather than a
// bare timeout. When the caller gives up anyway the task is failed, which
// makes any further queue attempts no-ops.
func SubmitAndWait(ctx context.Context, q *dispatch.Queue, t *DataTask, priority enum.Priority) (*Result, error) {
	done := make(chan *Result, 1)
	t.AddListener(ListenerFunc(func(r *Result) {
		select {
		case done <- r:
		default:
		}
	}))

	if err := q.Submit(t, priority); err != nil {
		return nil, err
	}

	timer := time.NewTimer(waitBudget(t.opts, q.Config()))
	defer timer.Stop()
	select {
	case r := <-done:
		return r, nil
	case <-timer.C:
		t.Fail(ErrTimeout)
		return nil, ErrTimeout
	case <-ctx.Done():
		t.Fail(ctx.Err())
		return nil, ctx.Err()
	}
}
