package rule

import (
	"sync"
	"time"

	"linewatch/internal/gateway"
	"linewatch/internal/lines"
	"linewatch/internal/model/enum"
	"linewatch/internal/putup"
	"linewatch/internal/task"
)

// ThreatLineConfig tunes the threat-line predicate.
type ThreatLineConfig struct {
	// MinBars is the minimum graph size before line generation runs.
	MinBars int
	// Proximity is how close, as a fraction of the line value, the last
	// close must approach the threat line for the rule to pass.
	Proximity float64
	// DeepenBy extends the lookback each escalation step.
	DeepenBy time.Duration
	// EscalationCap bounds the deepening iterations; exceeding it is a
	// fatal data gap.
	EscalationCap int

	Filter lines.FilterConfig
}

func (c ThreatLineConfig) withDefaults() ThreatLineConfig {
	if c.MinBars <= 0 {
		c.MinBars = 100
	}
	if c.Proximity <= 0 {
		c.Proximity = 0.002
	}
	if c.DeepenBy <= 0 {
		c.DeepenBy = 24 * time.Hour
	}
	if c.EscalationCap <= 0 {
		c.EscalationCap = lines.DefaultEscalationCap
	}
	return c
}

// ThreatLine is the rule that generates candidate trend lines, filters
// blocked ones, selects the winner, and passes when price approaches it.
// When its graph lacks depth it suspends through the refill protocol; the
// selection escalation drives further deepening loads, capped. At the cap
// selection settles by pairwise elimination instead of deepening again, so
// the cap is the hard bound on loads per episode.
type ThreatLine struct {
	cfg    ThreatLineConfig
	refill Refill

	mu        sync.Mutex
	iteration int
	deepened  time.Duration
}

// NewThreatLine creates the rule.
func NewThreatLine(cfg ThreatLineConfig) *ThreatLine {
	return &ThreatLine{cfg: cfg.withDefaults()}
}

func (t *ThreatLine) Name() string { return "threat-line" }

func (t *ThreatLine) Evaluate(env *Env) Verdict {
	if t.refill.Awaiting() {
		return Suspended()
	}
	if err := t.refill.LastErr(); err != nil {
		// the additional load itself failed; more data cannot resolve this
		return Fatal(ErrFatalDataGap)
	}

	points := env.Graph.Snapshot()
	if len(points) < t.cfg.MinBars {
		if t.refill.Attempts() > 0 {
			return Fatal(ErrFatalDataGap)
		}
		return t.deepen(env)
	}

	sec, err := env.Arena.Security(env.Security)
	if err != nil {
		return Fatal(err)
	}

	pivots := lines.Pivots(points, sec.MinPivot)
	candidates := lines.Candidates(pivots)
	if len(candidates) == 0 {
		return Fail()
	}

	now := points[len(points)-1].Time
	survivors, err := lines.Filter(env.Ctx, candidates, points, now, t.cfg.Filter)
	if err != nil {
		return Fail()
	}
	if len(survivors) == 0 {
		return Fail()
	}

	t.mu.Lock()
	iteration := t.iteration
	t.mu.Unlock()

	sel, err := lines.Select(survivors, points, env.Calendar, iteration, t.cfg.EscalationCap)
	switch {
	case err == lines.ErrEscalationExhausted:
		return Fatal(ErrFatalDataGap)
	case err != nil:
		return Fail()
	case sel.NeedDeeper:
		t.mu.Lock()
		t.iteration++
		t.mu.Unlock()
		return t.deepen(env)
	case sel.Winner == nil:
		return Fail()
	}

	// a settled selection ends the deepening episode; the next one
	// starts with a fresh escalation budget
	t.mu.Lock()
	t.iteration = 0
	t.mu.Unlock()

	t.cacheWinner(env, sel)

	last := points[len(points)-1]
	value := sel.Winner.ValueAt(last.Time)
	if value <= 0 {
		return Fail()
	}
	if last.Close <= value && last.Close >= value*(1-t.cfg.Proximity) {
		return Pass()
	}
	return Fail()
}

// deepen requests more history ending where the graph currently begins.
func (t *ThreatLine) deepen(env *Env) Verdict {
	sec, err := env.Arena.Security(env.Security)
	if err != nil {
		return Fatal(err)
	}

	end := time.Now()
	if first, ok := env.Graph.First(); ok {
		end = first.Time
	}

	t.mu.Lock()
	t.deepened += t.cfg.DeepenBy
	duration := t.deepened
	t.mu.Unlock()

	return t.refill.Request(env, task.Options{
		Security: env.Security,
		Request: gateway.HistoricalRequest{
			ContractID: sec.ContractID,
			EndTime:    end,
			Duration:   duration,
			BarSize:    enum.BarSizeMinute,
			DataKind:   enum.DataKindTrades,
		},
		Kind:       enum.ResultHistoricalBatch,
		Calendar:   env.Calendar,
		AbortAfter: time.Minute,
		Metrics:    env.Metrics,
	})
}

func (t *ThreatLine) cacheWinner(env *Env, sel lines.Selection) {
	cached := make([]putup.CachedLine, 0, len(sel.Survivors)+1)
	add := func(l lines.Line) {
		cached = append(cached, putup.CachedLine{Start: l.C, End: l.E, Gradient: l.Gradient})
	}
	if sel.Winner != nil {
		add(*sel.Winner)
	}
	for _, l := range sel.Survivors {
		add(l)
	}
	_ = env.Arena.CacheLines(env.Security, cached)
}
