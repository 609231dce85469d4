// Package task implements the asynchronous unit of work: one gateway data
// request executed against an assigned account, with bounded connecting,
// a deadline-guarded wait for callbacks, and result fan-out to listeners.
package task

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/yanun0323/logs"

	"linewatch/internal/dispatch"
	"linewatch/internal/gateway"
	"linewatch/internal/model"
	"linewatch/internal/model/enum"
	"linewatch/internal/obs"
	"linewatch/internal/putup"
)

var (
	// ErrTimeout means the abort deadline elapsed before completion.
	ErrTimeout = errors.New("task: timed out awaiting data")
	// ErrConnection means no gateway connection could be established
	// within the task's retry budget.
	ErrConnection = errors.New("task: connection failed")
	// ErrUpstream means the gateway reported a data error.
	ErrUpstream = errors.New("task: upstream error")
	ErrAborted  = errors.New("task: aborted")
)

// pacing/notConnected are internal future-failure markers mapped onto the
// queue's requeue semantics by Execute.
var (
	errPacingSignal       = errors.New("task: pacing signal")
	errNotConnectedSignal = errors.New("task: not connected signal")
)

// State tracks the lifecycle of one task execution.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingData
	StateComplete
	StateAborted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingData:
		return "awaiting-data"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Options configures one data task.
type Options struct {
	Security putup.Handle
	Request  gateway.HistoricalRequest
	Kind     enum.ResultKind
	Calendar *model.Calendar

	// ConnectWindow bounds the connection-establishment loop of a single
	// execution attempt.
	ConnectWindow time.Duration
	// AbortAfter is the deadline for the data wait; callers size it to
	// the request (30s for single batches, up to an hour for wide
	// multi-stage preloads).
	AbortAfter time.Duration
	// PacingDelay is the fixed pause after issuing the request, per the
	// gateway pacing contract.
	PacingDelay time.Duration
	// DisableSessionFilter keeps pre-open/post-close points; multi-day
	// requests disable filtering automatically.
	DisableSessionFilter bool

	Metrics *obs.Metrics
}

func (o Options) withDefaults() Options {
	if o.ConnectWindow <= 0 {
		o.ConnectWindow = 30 * time.Second
	}
	if o.AbortAfter <= 0 {
		o.AbortAfter = 30 * time.Second
	}
	if o.PacingDelay <= 0 {
		o.PacingDelay = 2 * time.Second
	}
	if o.Request.Duration > 24*time.Hour {
		o.DisableSessionFilter = true
	}
	return o
}

// DataTask is one asynchronous gateway request. The wait handle and its
// state are private to the instance; gateway callbacks may arrive from any
// goroutine but only the executing goroutine waits.
type DataTask struct {
	opts Options

	state atomic.Uint32

	mu        sync.Mutex
	graph     *model.Graph
	future    *Future
	reqID     int64
	session   gateway.Session
	listeners []Listener
	delivered bool
	started   time.Time
}

// New creates a task from options.
func New(opts Options) *DataTask {
	return &DataTask{opts: opts.withDefaults()}
}

// Options returns the task configuration.
func (t *DataTask) Options() Options {
	return t.opts
}

// State returns the current lifecycle state.
func (t *DataTask) State() State {
	return State(t.state.Load())
}

// AddListener registers an additional result listener. All listeners
// receive the same Result; registration order is kept but carries no
// semantic weight.
func (t *DataTask) AddListener(l Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// Execute implements dispatch.Runnable. It is re-entrant across queue
// retries: every attempt starts from a fresh graph and wait handle.
func (t *DataTask) Execute(ctx context.Context, account *dispatch.Account) error {
	t.mu.Lock()
	if t.delivered {
		t.mu.Unlock()
		return nil
	}
	t.graph = model.NewGraph(int(t.opts.Security), t.opts.Calendar)
	t.future = NewFuture()
	t.reqID = 0
	t.started = time.Now()
	fut := t.future
	t.mu.Unlock()

	t.state.Store(uint32(StateConnecting))
	session, err := t.connect(ctx, account)
	if err != nil {
		return dispatch.ErrNoConnection
	}

	t.mu.Lock()
	t.session = session
	t.mu.Unlock()

	reqID, err := session.RequestHistoricalBars(t.opts.Request, t)
	if err != nil {
		return dispatch.ErrNoConnection
	}
	t.mu.Lock()
	t.reqID = reqID
	t.mu.Unlock()
	t.state.Store(uint32(StateAwaitingData))

	// gateway pacing contract: hold transmission before waiting
	select {
	case <-ctx.Done():
		t.abort(session, reqID)
		t.deliver(nil, ctx.Err())
		return nil
	case <-time.After(t.opts.PacingDelay):
	}

	deadline := time.Now().Add(t.opts.AbortAfter)
	err = fut.Wait(ctx, deadline)
	switch {
	case err == nil:
		t.complete()
		return nil
	case errors.Is(err, errPacingSignal):
		t.state.Store(uint32(StateIdle))
		return dispatch.ErrPacingViolation
	case errors.Is(err, errNotConnectedSignal):
		t.state.Store(uint32(StateIdle))
		session.Disconnect()
		return dispatch.ErrNoConnection
	case errors.Is(err, ErrTimeout):
		t.opts.Metrics.IncTaskTimeout()
		t.abort(session, reqID)
		t.deliver(nil, ErrTimeout)
		return nil
	default:
		t.abort(session, reqID)
		t.deliver(nil, err)
		return nil
	}
}

// connect retries session establishment with jittered backoff inside the
// connect window.
func (t *DataTask) connect(ctx context.Context, account *dispatch.Account) (gateway.Session, error) {
	window := time.Now().Add(t.opts.ConnectWindow)
	bo := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	for {
		session, err := account.Session(ctx)
		if err == nil {
			return session, nil
		}
		wait := bo.Duration()
		if time.Now().Add(wait).After(window) {
			return nil, ErrConnection
		}
		// spread concurrent reconnects a little further apart
		wait += time.Duration(rand.Int63n(int64(20 * time.Millisecond)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Fail converts a terminal queue failure into an error result.
func (t *DataTask) Fail(cause error) {
	t.state.Store(uint32(StateError))
	if errors.Is(cause, dispatch.ErrRetryExhausted) {
		cause = errors.Join(ErrConnection, cause)
	}
	t.deliver(nil, cause)
}

func (t *DataTask) complete() {
	t.mu.Lock()
	graph := t.graph
	t.mu.Unlock()

	if !t.opts.DisableSessionFilter && t.opts.Calendar != nil {
		filtered := t.opts.Calendar.FilterSession(graph.Snapshot())
		clean := model.NewGraph(int(t.opts.Security), t.opts.Calendar)
		_ = clean.AppendAll(filtered)
		clean.SetPrevClose(graph.PrevClose())
		graph = clean
	}
	graph.Freeze()
	t.deliver(graph, nil)
}

func (t *DataTask) abort(session gateway.Session, reqID int64) {
	t.state.Store(uint32(StateAborted))
	if session != nil && reqID != 0 {
		session.CancelMarketData(reqID)
	}
	if session != nil {
		session.Disconnect()
	}
}

// deliver builds the Result and notifies every listener exactly once.
func (t *DataTask) deliver(graph *model.Graph, cause error) {
	t.mu.Lock()
	if t.delivered {
		t.mu.Unlock()
		return
	}
	t.delivered = true
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	elapsed := time.Duration(0)
	if !t.started.IsZero() {
		elapsed = time.Since(t.started)
	}
	t.mu.Unlock()

	if cause == nil {
		t.state.Store(uint32(StateComplete))
		t.opts.Metrics.ObserveTaskComplete(elapsed)
	} else {
		if State(t.state.Load()) != StateAborted {
			t.state.Store(uint32(StateError))
		}
		t.opts.Metrics.IncTaskAbort()
		logs.Debugf("task for security %d failed: %+v", t.opts.Security, cause)
	}

	result := &Result{
		Security: t.opts.Security,
		Kind:     t.opts.Kind,
		Graph:    graph,
		Err:      cause,
		Elapsed:  elapsed,
	}
	for _, l := range listeners {
		l.OnResult(result)
	}
}

// OnBar implements gateway.Handler.
func (t *DataTask) OnBar(reqID int64, bar model.GraphPoint) {
	t.mu.Lock()
	graph := t.graph
	current := t.reqID
	t.mu.Unlock()
	if graph == nil || (current != 0 && reqID != current) {
		return
	}
	_ = graph.Append(bar)
}

// OnFinished implements gateway.Handler.
func (t *DataTask) OnFinished(reqID int64) {
	t.mu.Lock()
	fut := t.future
	current := t.reqID
	t.mu.Unlock()
	if fut == nil || (current != 0 && reqID != current) {
		return
	}
	fut.Resolve()
}

// OnError implements gateway.Handler. Benign informational codes are
// ignored; pacing and disconnect codes requeue through the dispatcher,
// anything else fails the wait with an upstream error.
func (t *DataTask) OnError(reqID int64, code int, msg string) {
	if gateway.IsBenign(code) {
		return
	}
	t.mu.Lock()
	fut := t.future
	current := t.reqID
	t.mu.Unlock()
	if fut == nil || (current != 0 && reqID != current) {
		return
	}
	switch code {
	case gateway.CodePacingViolation:
		fut.Fail(errPacingSignal)
	case gateway.CodeNotConnected:
		fut.Fail(errNotConnectedSignal)
	default:
		fut.Fail(errors.Join(ErrUpstream, errors.New(msg)))
	}
}
