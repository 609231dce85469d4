package rule

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/yanun0323/logs"

	"linewatch/internal/dispatch"
	"linewatch/internal/model"
	"linewatch/internal/obs"
	"linewatch/internal/putup"
)

// SignalFunc receives entry signals for securities whose rule tree passed.
type SignalFunc func(h putup.Handle)

// Engine evaluates each monitored security's rule tree on a fixed
// cadence. A Suspended verdict means "currently false, retry next tick";
// a Fatal verdict withdraws the security through the supervisor.
type Engine struct {
	arena    *putup.Arena
	queue    *dispatch.Queue
	calendar *model.Calendar
	metrics  *obs.Metrics
	onSignal SignalFunc

	mu    sync.RWMutex
	rules map[putup.Handle]Rule

	cron *cron.Cron
}

// NewEngine creates an engine over the shared arena and queue.
func NewEngine(arena *putup.Arena, queue *dispatch.Queue, calendar *model.Calendar, metrics *obs.Metrics, onSignal SignalFunc) *Engine {
	return &Engine{
		arena:    arena,
		queue:    queue,
		calendar: calendar,
		metrics:  metrics,
		onSignal: onSignal,
		rules:    make(map[putup.Handle]Rule),
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Attach installs the rule tree for a security.
func (e *Engine) Attach(h putup.Handle, r Rule) {
	e.mu.Lock()
	e.rules[h] = r
	e.mu.Unlock()
}

// Detach removes a security's rule tree.
func (e *Engine) Detach(h putup.Handle) {
	e.mu.Lock()
	delete(e.rules, h)
	e.mu.Unlock()
}

// Register schedules periodic evaluation with a cron spec (with seconds).
func (e *Engine) Register(ctx context.Context, spec string) error {
	_, err := e.cron.AddFunc(spec, func() {
		e.EvaluateAll(ctx)
	})
	return err
}

// Start begins the evaluation cadence.
func (e *Engine) Start() {
	e.cron.Start()
	logs.Info("rule engine started")
}

// Stop halts the cadence; running evaluations finish.
func (e *Engine) Stop() {
	e.cron.Stop()
	logs.Info("rule engine stopped")
}

// EvaluateAll runs one evaluation pass over every actively monitored
// security.
func (e *Engine) EvaluateAll(ctx context.Context) {
	for _, h := range e.arena.Active() {
		status, err := e.arena.Status(h)
		if err != nil || status != putup.StatusMonitoring {
			continue
		}
		e.evaluate(ctx, h)
	}
}

// Evaluate runs one security's tree and returns the boolean the engine
// acts on: only a pass is true; fail, suspended and fatal are all false.
func (e *Engine) Evaluate(ctx context.Context, h putup.Handle) bool {
	return e.evaluate(ctx, h)
}

func (e *Engine) evaluate(ctx context.Context, h putup.Handle) bool {
	e.mu.RLock()
	r, ok := e.rules[h]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	graph, err := e.arena.Graph(h)
	if err != nil {
		return false
	}
	env := &Env{
		Ctx:      ctx,
		Arena:    e.arena,
		Security: h,
		Graph:    graph,
		Queue:    e.queue,
		Calendar: e.calendar,
		Metrics:  e.metrics,
	}

	v := r.Evaluate(env)
	switch v.Outcome {
	case OutcomePass:
		if e.onSignal != nil {
			e.onSignal(h)
		}
		return true
	case OutcomeFatal:
		e.withdraw(h, v.Cause)
		return false
	default:
		return false
	}
}

// withdraw removes the security from active monitoring. Fatal causes are
// never swallowed: the arena keeps the reason and the engine drops the
// rule tree.
func (e *Engine) withdraw(h putup.Handle, cause error) {
	if cause == nil {
		cause = ErrFatalDataGap
	}
	if err := e.arena.Withdraw(h, cause); err != nil {
		logs.Errorf("withdraw security %d: %+v", h, err)
		return
	}
	e.Detach(h)
	logs.Errorf("security %d withdrawn from monitoring: %+v", h, cause)
}
