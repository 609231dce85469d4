package rule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewatch/internal/dispatch"
	"linewatch/internal/gateway"
	"linewatch/internal/lines"
	"linewatch/internal/model"
	"linewatch/internal/obs"
	"linewatch/internal/putup"
)

// descentSeries builds a session where the high at minute one anchors a
// descending line through the peak at minute eleven, with the last close
// approaching the projected line value.
func descentSeries(base time.Time) []model.GraphPoint {
	highs := []float64{
		108, 110, 104, 100, 102, 101, 101, 103, 100, 100, 100,
		105, 100, 99.5, 99.5, 99.5, 99.5, 99.5, 99.5, 99.5, 99.5,
	}
	points := make([]model.GraphPoint, 0, len(highs)+1)
	for i, h := range highs {
		points = append(points, model.GraphPoint{
			Time:  base.Add(time.Duration(i) * time.Minute),
			High:  h,
			Low:   h - 1,
			Close: h - 0.5,
		})
	}
	// the line from 110 falls half a point per minute and reads 100 here
	points = append(points, model.GraphPoint{
		Time:  base.Add(21 * time.Minute),
		High:  99.95,
		Low:   99.5,
		Close: 99.9,
	})
	return points
}

func threatEnvWithSim(t *testing.T, sim *gateway.Sim) (*Env, *putup.Arena, putup.Handle) {
	t.Helper()
	q, err := dispatch.NewQueue(dispatch.Config{PacingDelay: time.Millisecond},
		[]*dispatch.Account{dispatch.NewAccount("a1", sim)}, obs.NewMetrics())
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(q.Close)

	arena := putup.NewArena()
	h := arena.Register(putup.Security{Symbol: "AAPL", ContractID: 1, MinPivot: 0.02}, testCalendar())
	require.NoError(t, arena.SetStatus(h, putup.StatusMonitoring))
	graph, err := arena.Graph(h)
	require.NoError(t, err)
	return &Env{
		Ctx:      context.Background(),
		Arena:    arena,
		Security: h,
		Graph:    graph,
		Queue:    q,
		Calendar: testCalendar(),
	}, arena, h
}

func threatEnv(t *testing.T) (*Env, *putup.Arena, putup.Handle) {
	t.Helper()
	return threatEnvWithSim(t, gateway.NewSim(gateway.SimConfig{BasePrice: 100, Amplitude: 5}))
}

func TestThreatLinePassesOnApproach(t *testing.T) {
	env, _, _ := threatEnv(t)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, env.Graph.AppendAll(descentSeries(base)))

	r := NewThreatLine(ThreatLineConfig{
		MinBars:   10,
		Proximity: 0.002,
		Filter:    lines.FilterConfig{Tolerance: 0.001},
	})

	v := r.Evaluate(env)
	assert.Equal(t, OutcomePass, v.Outcome)

	// the winning line was cached for the next evaluation
	cached, err := env.Arena.CachedLines(env.Security)
	require.NoError(t, err)
	require.NotEmpty(t, cached)
	assert.Equal(t, 110.0, cached[0].Start.High)
	assert.Equal(t, 105.0, cached[0].End.High)
}

func TestThreatLineEscalationResetsAfterSelection(t *testing.T) {
	env, _, _ := threatEnv(t)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, env.Graph.AppendAll(descentSeries(base)))

	r := NewThreatLine(ThreatLineConfig{
		MinBars:   10,
		Proximity: 0.002,
		Filter:    lines.FilterConfig{Tolerance: 0.001},
	})
	// as if earlier deepening rounds spent most of the budget
	r.iteration = 3

	assert.Equal(t, OutcomePass, r.Evaluate(env).Outcome)
	assert.Equal(t, 0, r.iteration, "a settled selection starts the next episode fresh")
}

func TestThreatLineFailsWhenPriceFarFromLine(t *testing.T) {
	env, _, _ := threatEnv(t)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	points := descentSeries(base)
	// pull the last close well below the approach band
	points[len(points)-1].Close = 95
	require.NoError(t, env.Graph.AppendAll(points))

	r := NewThreatLine(ThreatLineConfig{MinBars: 10, Proximity: 0.002})
	assert.Equal(t, OutcomeFail, r.Evaluate(env).Outcome)
}

func TestThreatLineSuspendsOnShallowGraph(t *testing.T) {
	env, _, _ := threatEnv(t)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, env.Graph.AppendAll(descentSeries(base)[:5]))

	r := NewThreatLine(ThreatLineConfig{MinBars: 10, DeepenBy: time.Hour})

	v := r.Evaluate(env)
	assert.Equal(t, OutcomeSuspended, v.Outcome)

	// while the load is in flight, evaluation stays suspended
	assert.Equal(t, OutcomeSuspended, r.Evaluate(env).Outcome)

	require.Eventually(t, func() bool { return !r.refill.Awaiting() }, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, r.refill.Attempts())
	assert.Greater(t, env.Graph.Len(), 10, "refill merged deeper history into the live graph")
}

func TestThreatLineFatalWhenRefillFails(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	env, _, _ := threatEnvWithSim(t, sim)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, env.Graph.AppendAll(descentSeries(base)[:5]))

	sim.InjectError(162, "no data")
	r := NewThreatLine(ThreatLineConfig{MinBars: 10, DeepenBy: time.Hour})

	assert.Equal(t, OutcomeSuspended, r.Evaluate(env).Outcome)
	require.Eventually(t, func() bool { return !r.refill.Awaiting() }, 10*time.Second, 10*time.Millisecond)
	require.Error(t, r.refill.LastErr())

	v := r.Evaluate(env)
	assert.Equal(t, OutcomeFatal, v.Outcome)
	assert.ErrorIs(t, v.Cause, ErrFatalDataGap)
}
