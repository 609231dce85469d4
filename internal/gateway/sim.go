package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"linewatch/internal/model"
)

// SimConfig controls the synthetic gateway.
type SimConfig struct {
	BasePrice float64
	Amplitude float64
	Volume    int64
	// Latency delays callback delivery per request. Zero delivers from a
	// goroutine without pacing.
	Latency time.Duration
}

func (c SimConfig) withDefaults() SimConfig {
	if c.BasePrice <= 0 {
		c.BasePrice = 100
	}
	if c.Amplitude < 0 {
		c.Amplitude = 0
	}
	if c.Volume <= 0 {
		c.Volume = 1000
	}
	return c
}

// Sim is a deterministic in-process gateway used by tests and demo mode.
// Bars follow a triangular wave around the base price so windows replay
// identically across runs.
type Sim struct {
	cfg   SimConfig
	reqID atomic.Int64

	mu           sync.Mutex
	dialFailures int
	nextErrCode  int
	nextErrMsg   string
}

// NewSim creates a simulator gateway.
func NewSim(cfg SimConfig) *Sim {
	return &Sim{cfg: cfg.withDefaults()}
}

// FailDials makes the next n Dial calls fail with ErrNotConnected.
func (s *Sim) FailDials(n int) {
	s.mu.Lock()
	s.dialFailures = n
	s.mu.Unlock()
}

// InjectError makes the next request report the coded error instead of data.
func (s *Sim) InjectError(code int, msg string) {
	s.mu.Lock()
	s.nextErrCode = code
	s.nextErrMsg = msg
	s.mu.Unlock()
}

// Dial implements Dialer.
func (s *Sim) Dial(_ context.Context, account string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialFailures > 0 {
		s.dialFailures--
		return nil, ErrNotConnected
	}
	return &simSession{sim: s, account: account, connected: true}, nil
}

// BarAt returns the deterministic bar for one instant. Exposed so tests
// can predict what a window load will deliver.
func (s *Sim) BarAt(ts time.Time, step time.Duration) model.GraphPoint {
	price := s.priceAt(ts)
	next := s.priceAt(ts.Add(step))
	high, low := price, next
	if low > high {
		high, low = low, high
	}
	return model.GraphPoint{
		Time:   ts,
		Open:   price,
		High:   high,
		Low:    low,
		Close:  next,
		WAP:    (high + low) / 2,
		Volume: s.cfg.Volume,
	}
}

func (s *Sim) priceAt(ts time.Time) float64 {
	if s.cfg.Amplitude == 0 {
		return s.cfg.BasePrice
	}
	// triangular wave with a 1-hour period
	const period = 3600
	sec := ts.Unix() % period
	half := int64(period / 2)
	var frac float64
	if sec < half {
		frac = float64(sec) / float64(half)
	} else {
		frac = float64(period-sec) / float64(half)
	}
	return s.cfg.BasePrice + s.cfg.Amplitude*(2*frac-1)
}

type simSession struct {
	sim       *Sim
	account   string
	mu        sync.Mutex
	connected bool
	streams   map[int64]chan struct{}
}

func (ss *simSession) Connected() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.connected
}

func (ss *simSession) Disconnect() {
	ss.mu.Lock()
	ss.connected = false
	for _, stop := range ss.streams {
		close(stop)
	}
	ss.streams = nil
	ss.mu.Unlock()
}

func (ss *simSession) RequestHistoricalBars(req HistoricalRequest, h Handler) (int64, error) {
	if !ss.Connected() {
		return 0, ErrNotConnected
	}
	id := ss.sim.reqID.Add(1)

	ss.sim.mu.Lock()
	errCode, errMsg := ss.sim.nextErrCode, ss.sim.nextErrMsg
	ss.sim.nextErrCode, ss.sim.nextErrMsg = 0, ""
	ss.sim.mu.Unlock()

	go func() {
		if ss.sim.cfg.Latency > 0 {
			time.Sleep(ss.sim.cfg.Latency)
		}
		if errCode != 0 {
			h.OnError(id, errCode, errMsg)
			return
		}
		step := req.BarSize.Duration()
		if step <= 0 {
			step = time.Minute
		}
		start := req.EndTime.Add(-req.Duration)
		for ts := start; ts.Before(req.EndTime); ts = ts.Add(step) {
			h.OnBar(id, ss.sim.BarAt(ts, step))
		}
		h.OnFinished(id)
	}()
	return id, nil
}

func (ss *simSession) RequestRealtimeBars(req RealtimeRequest, h Handler) (int64, error) {
	if !ss.Connected() {
		return 0, ErrNotConnected
	}
	id := ss.sim.reqID.Add(1)
	stop := make(chan struct{})

	ss.mu.Lock()
	if ss.streams == nil {
		ss.streams = make(map[int64]chan struct{})
	}
	ss.streams[id] = stop
	ss.mu.Unlock()

	step := time.Duration(req.BarSizeSeconds) * time.Second
	if step <= 0 {
		step = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(step)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				h.OnBar(id, ss.sim.BarAt(now.Truncate(step), step))
			}
		}
	}()
	return id, nil
}

func (ss *simSession) CancelRealtimeBars(reqID int64) {
	ss.mu.Lock()
	if stop, ok := ss.streams[reqID]; ok {
		close(stop)
		delete(ss.streams, reqID)
	}
	ss.mu.Unlock()
}

func (ss *simSession) CancelMarketData(reqID int64) {
	ss.CancelRealtimeBars(reqID)
}
