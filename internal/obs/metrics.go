package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the request
// queue and data tasks.
type Metrics struct {
	submits     uint64
	dispatches  uint64
	retries     uint64
	exhaustions uint64

	taskCompletes uint64
	taskAborts    uint64
	taskTimeouts  uint64

	taskLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Submits     uint64
	Dispatches  uint64
	Retries     uint64
	Exhaustions uint64

	TaskCompletes uint64
	TaskAborts    uint64
	TaskTimeouts  uint64

	TaskLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncSubmit records a job submission.
func (m *Metrics) IncSubmit() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.submits, 1)
}

// IncDispatch records a job handed to an account.
func (m *Metrics) IncDispatch() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.dispatches, 1)
}

// IncRetry records a requeued job.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.retries, 1)
}

// IncExhaustion records an account pacing penalty.
func (m *Metrics) IncExhaustion() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.exhaustions, 1)
}

// ObserveTaskComplete records a successful task and its round trip.
func (m *Metrics) ObserveTaskComplete(elapsed time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.taskCompletes, 1)
	m.taskLatency.Observe(elapsed)
}

// IncTaskAbort records an aborted task.
func (m *Metrics) IncTaskAbort() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.taskAborts, 1)
}

// IncTaskTimeout records a deadline-expired task.
func (m *Metrics) IncTaskTimeout() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.taskTimeouts, 1)
}

// Observe adds one duration sample.
func (s *LatencyStats) Observe(elapsed time.Duration) {
	if elapsed < 0 {
		return
	}
	ns := uint64(elapsed)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, ns)
	for {
		min := atomic.LoadUint64(&s.min)
		if min != 0 && ns >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, min, ns) {
			break
		}
	}
	for {
		max := atomic.LoadUint64(&s.max)
		if ns <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, max, ns) {
			break
		}
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	snap := LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&s.min)),
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
	}
	if count > 0 {
		snap.Avg = time.Duration(atomic.LoadUint64(&s.sum) / count)
	}
	return snap
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Submits:       atomic.LoadUint64(&m.submits),
		Dispatches:    atomic.LoadUint64(&m.dispatches),
		Retries:       atomic.LoadUint64(&m.retries),
		Exhaustions:   atomic.LoadUint64(&m.exhaustions),
		TaskCompletes: atomic.LoadUint64(&m.taskCompletes),
		TaskAborts:    atomic.LoadUint64(&m.taskAborts),
		TaskTimeouts:  atomic.LoadUint64(&m.taskTimeouts),
		TaskLatency:   m.taskLatency.snapshot(),
	}
}
