package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewatch/internal/dispatch"
	"linewatch/internal/gateway"
	"linewatch/internal/model"
	"linewatch/internal/model/enum"
	"linewatch/internal/obs"
	"linewatch/internal/putup"
)

func testCalendar() *model.Calendar {
	return model.NewCalendar(9*time.Hour+30*time.Minute, 16*time.Hour, time.UTC)
}

func newSimQueue(t *testing.T, sim *gateway.Sim) *dispatch.Queue {
	t.Helper()
	q, err := dispatch.NewQueue(dispatch.Config{PacingDelay: time.Millisecond},
		[]*dispatch.Account{
			dispatch.NewAccount("a1", sim),
			dispatch.NewAccount("a2", sim),
		}, obs.NewMetrics())
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(q.Close)
	return q
}

func stageConfig() StageConfig {
	return StageConfig{
		Security:        putup.Handle(1),
		ContractID:      1,
		Kind:            enum.ResultHistoricalBatch,
		DataKind:        enum.DataKindTrades,
		Calendar:        testCalendar(),
		AbortAfter:      10 * time.Second,
		ChildAbortAfter: 5 * time.Second,
	}
}

func TestRunStageMergesChildren(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{BasePrice: 100, Amplitude: 5})
	q := newSimQueue(t, sim)

	// two adjacent ten-minute windows inside one session
	end := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	windows := []Window{
		{EndTime: end.Add(-10 * time.Minute), Duration: 10 * time.Minute, BarSize: enum.BarSizeMinute},
		{EndTime: end, Duration: 10 * time.Minute, BarSize: enum.BarSizeMinute},
	}

	graph, err := RunStage(context.Background(), q, stageConfig(), windows)
	require.NoError(t, err)
	require.NotNil(t, graph)
	assert.Equal(t, 20, graph.Len())

	points := graph.Snapshot()
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i-1].Time.Before(points[i].Time))
	}
}

func TestRunStageDeduplicatesOverlap(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{BasePrice: 100, Amplitude: 5})
	q := newSimQueue(t, sim)

	// overlapping windows deliver the shared minutes twice
	end := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	windows := []Window{
		{EndTime: end, Duration: 10 * time.Minute, BarSize: enum.BarSizeMinute},
		{EndTime: end, Duration: 5 * time.Minute, BarSize: enum.BarSizeMinute},
	}

	graph, err := RunStage(context.Background(), q, stageConfig(), windows)
	require.NoError(t, err)
	assert.Equal(t, 10, graph.Len())
}

func TestRunStageChildFailureAbortsStage(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	sim.InjectError(162, "no data")
	q := newSimQueue(t, sim)

	end := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	windows := []Window{
		{EndTime: end, Duration: 5 * time.Minute, BarSize: enum.BarSizeMinute},
		{EndTime: end.Add(-5 * time.Minute), Duration: 5 * time.Minute, BarSize: enum.BarSizeMinute},
	}

	_, err := RunStage(context.Background(), q, stageConfig(), windows)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChildFailed)
}

func TestRunStageNoWindows(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	q := newSimQueue(t, sim)

	_, err := RunStage(context.Background(), q, stageConfig(), nil)
	assert.ErrorIs(t, err, ErrNoWindows)
}

func TestRunStageFinalize(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{BasePrice: 100, Amplitude: 5})
	q := newSimQueue(t, sim)

	cfg := stageConfig()
	cfg.Finalize = func(points []model.GraphPoint) []model.GraphPoint {
		return points[:1]
	}

	end := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	graph, err := RunStage(context.Background(), q, cfg, []Window{
		{EndTime: end, Duration: 10 * time.Minute, BarSize: enum.BarSizeMinute},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, graph.Len())
}

func TestPendingCounterWaits(t *testing.T) {
	c := NewPendingCounter(2)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	go func() {
		c.Merge([]model.GraphPoint{{Time: base.Add(time.Minute), High: 2}})
		c.Merge([]model.GraphPoint{{Time: base, High: 1}})
	}()

	points, err := c.Wait(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, base, points[0].Time)
}

func TestPendingCounterAbort(t *testing.T) {
	c := NewPendingCounter(2)
	cause := errors.New("child failed")
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	c.Abort(cause)
	// points after the abort are ignored but still decrement
	c.Merge([]model.GraphPoint{{Time: base}})

	_, err := c.Wait(context.Background(), time.Now().Add(time.Second))
	assert.Equal(t, cause, err)
}

func TestPendingCounterDeadline(t *testing.T) {
	c := NewPendingCounter(1)
	_, err := c.Wait(context.Background(), time.Now().Add(20*time.Millisecond))
	assert.ErrorIs(t, err, ErrStageTimeout)
}

func TestPendingCounterZeroChildren(t *testing.T) {
	c := NewPendingCounter(0)
	points, err := c.Wait(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, points)
}
