package rule

import (
	"sync"
	"sync/atomic"

	"linewatch/internal/model/enum"
	"linewatch/internal/task"
)

// Refill implements the suspend/resume protocol for rules that discover
// they lack data. Instead of blocking, the rule registers itself as an
// extra listener on a fresh task, submits it at elevated priority, and
// reports Suspended; re-evaluation is suppressed while the flag is set.
// The callback clears the flag whether the load succeeded or failed, so
// the next scheduled evaluation proceeds either way.
type Refill struct {
	awaiting atomic.Bool

	mu       sync.Mutex
	attempts int
	lastErr  error
}

// Awaiting reports whether a load is still in flight.
func (r *Refill) Awaiting() bool {
	return r.awaiting.Load()
}

// Attempts counts completed refill loads, successful or not.
func (r *Refill) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// LastErr returns the failure of the most recent completed load, if any.
func (r *Refill) LastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Request submits a fresh data task at rule priority and suspends the
// rule. While a previous request is in flight it suspends without
// submitting again. Delivered points merge into the live graph under its
// own lock so the next evaluation sees them.
func (r *Refill) Request(env *Env, opts task.Options) Verdict {
	if !r.awaiting.CompareAndSwap(false, true) {
		return Suspended()
	}

	t := task.New(opts)
	t.AddListener(task.ListenerFunc(func(res *task.Result) {
		r.mu.Lock()
		r.attempts++
		r.lastErr = res.Err
		r.mu.Unlock()

		if res.OK() && env.Graph != nil {
			if err := env.Graph.AppendAll(res.Graph.Snapshot()); err != nil {
				r.mu.Lock()
				r.lastErr = err
				r.mu.Unlock()
			}
		}
		r.awaiting.Store(false)
	}))

	if err := env.Queue.Submit(t, enum.PriorityRule); err != nil {
		r.awaiting.Store(false)
		return Fatal(err)
	}
	return Suspended()
}
