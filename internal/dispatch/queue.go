package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"linewatch/internal/model/enum"
	"linewatch/internal/obs"
)

var (
	// ErrNoConnection is returned by a runnable when no gateway
	// connection could be established for the attempt.
	ErrNoConnection = errors.New("dispatch: no connection available")
	// ErrPacingViolation is returned by a runnable when the gateway
	// reported account throttling; the account is penalized and the job
	// requeued.
	ErrPacingViolation = errors.New("dispatch: pacing violation")
	// ErrRetryExhausted terminates a job whose retry budget ran out.
	ErrRetryExhausted = errors.New("dispatch: retry budget exhausted")
	ErrClosed         = errors.New("dispatch: queue closed")
	ErrNotStarted     = errors.New("dispatch: queue not started")
	ErrAlreadyStarted = errors.New("dispatch: queue already started")
	ErrNoAccounts     = errors.New("dispatch: no accounts configured")
)

// Config defines queue pacing and retry behavior.
type Config struct {
	// PacingDelay is the per-account cool-down after each dispatch.
	PacingDelay time.Duration
	// ExhaustPenalty excludes an account after a pacing violation.
	ExhaustPenalty time.Duration
	// MaxRetries bounds requeues of a failing job.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.PacingDelay <= 0 {
		c.PacingDelay = 2 * time.Second
	}
	if c.ExhaustPenalty <= 0 {
		c.ExhaustPenalty = 10 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	return c
}

// Queue is the process-wide priority queue of pending data-fetch jobs.
// It is constructed explicitly and injected into whatever submits work;
// there is no package-level instance.
type Queue struct {
	cfg      Config
	accounts []*Account
	metrics  *obs.Metrics

	mu      sync.Mutex
	pending jobHeap
	kick    chan struct{}
	wg      sync.WaitGroup

	started uint32
	closed  uint32
	cancel  context.CancelFunc
}

// NewQueue creates a queue over the given accounts.
func NewQueue(cfg Config, accounts []*Account, metrics *obs.Metrics) (*Queue, error) {
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	return &Queue{
		cfg:      cfg.withDefaults(),
		accounts: accounts,
		metrics:  metrics,
		kick:     make(chan struct{}, 1),
	}, nil
}

// Start runs the dispatcher loop in a new goroutine.
func (q *Queue) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&q.started, 0, 1) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(ctx)
	}()
	return nil
}

// Close stops the dispatcher. Jobs already dispatched keep running;
// undelivered pending jobs are failed with ErrClosed.
func (q *Queue) Close() {
	if !atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		return
	}
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, job := range pending {
		job.Run.Fail(ErrClosed)
	}
}

// Submit enqueues a runnable at the given priority. The closed check
// happens under the heap lock so a job is never pushed after Close has
// drained the pending set.
func (q *Queue) Submit(run Runnable, priority enum.Priority) error {
	if atomic.LoadUint32(&q.started) == 0 {
		return ErrNotStarted
	}
	job := newJob(run, priority, time.Now())

	q.mu.Lock()
	if atomic.LoadUint32(&q.closed) != 0 {
		q.mu.Unlock()
		return ErrClosed
	}
	heap.Push(&q.pending, job)
	q.mu.Unlock()

	q.metrics.IncSubmit()
	q.wake()
	return nil
}

// Config returns the effective configuration after defaults; synchronous
// callers size their wait budgets from it.
func (q *Queue) Config() Config {
	return q.cfg
}

// Len returns the number of undispatched jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	for {
		job, account, wait := q.next(time.Now())
		if job != nil {
			q.dispatch(ctx, job, account)
			continue
		}

		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// next pops the highest-priority oldest job when an account is free. When
// nothing can be dispatched it returns how long to wait before rechecking.
func (q *Queue) next(now time.Time) (*Job, *Account, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil, 0
	}

	var account *Account
	for _, a := range q.accounts {
		if a.Available(now) {
			account = a
			break
		}
	}
	if account == nil {
		earliest := q.accounts[0].AvailableAt()
		for _, a := range q.accounts[1:] {
			if at := a.AvailableAt(); at.Before(earliest) {
				earliest = at
			}
		}
		return nil, nil, earliest.Sub(now)
	}

	job := heap.Pop(&q.pending).(*Job)
	account.MarkDispatched(now, q.cfg.PacingDelay)
	return job, account, 0
}

// dispatch runs the job on its own goroutine; tasks block awaiting
// gateway callbacks, so the dispatcher never waits on them.
func (q *Queue) dispatch(ctx context.Context, job *Job, account *Account) {
	q.metrics.IncDispatch()
	go func() {
		err := job.Run.Execute(ctx, account)
		switch {
		case err == nil:
		case errors.Is(err, ErrPacingViolation):
			q.metrics.IncExhaustion()
			account.MarkExhausted(time.Now(), q.cfg.ExhaustPenalty)
			logs.Warnf("account %s exhausted, requeue job %s", account.Name(), job.ID)
			q.requeue(job)
		case errors.Is(err, ErrNoConnection):
			q.requeue(job)
		default:
			// runnable handled its own failure result
		}
	}()
}

func (q *Queue) requeue(job *Job) {
	job.Retries++
	if job.Retries > q.cfg.MaxRetries {
		logs.Errorf("job %s failed after %d retries", job.ID, q.cfg.MaxRetries)
		job.Run.Fail(ErrRetryExhausted)
		return
	}
	q.mu.Lock()
	if atomic.LoadUint32(&q.closed) != 0 {
		q.mu.Unlock()
		job.Run.Fail(ErrClosed)
		return
	}
	heap.Push(&q.pending, job)
	q.mu.Unlock()

	q.metrics.IncRetry()
	q.wake()
}
