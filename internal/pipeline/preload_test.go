package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewatch/internal/gateway"
	"linewatch/internal/model"
	"linewatch/internal/model/enum"
	"linewatch/internal/putup"
)

type memArchive struct {
	mu    sync.Mutex
	saved map[enum.BarSize]int
}

func (m *memArchive) SaveBars(_ context.Context, _ putup.Handle, barSize enum.BarSize, points []model.GraphPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[enum.BarSize]int)
	}
	m.saved[barSize] += len(points)
	return nil
}

func (m *memArchive) count(barSize enum.BarSize) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[barSize]
}

func TestPreloadFillsGraphAndActivates(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{BasePrice: 100, Amplitude: 5})
	q := newSimQueue(t, sim)
	calendar := testCalendar()
	arena := putup.NewArena()
	archive := &memArchive{}

	h := arena.Register(putup.Security{Symbol: "AAPL", ContractID: 1, MinPivot: 0.005}, calendar)

	p := NewPreloader(q, arena, calendar, archive, PreloadConfig{
		LookbackDays: 3,
		AbortAfter:   time.Minute,
		FineWindow:   2 * time.Minute,
		PacingDelay:  time.Millisecond,
	})

	// Wednesday close; the lookback covers Monday and Tuesday
	end := time.Date(2026, 3, 4, 16, 0, 0, 0, time.UTC)
	require.NoError(t, p.Preload(context.Background(), h, end))

	status, err := arena.Status(h)
	require.NoError(t, err)
	assert.Equal(t, putup.StatusMonitoring, status)

	graph, err := arena.Graph(h)
	require.NoError(t, err)
	assert.Greater(t, graph.Len(), 100)

	// previous trading day's close captured from the daily stage
	sec, err := arena.Security(h)
	require.NoError(t, err)
	assert.NotZero(t, sec.PrevClose)
	assert.Equal(t, sec.PrevClose, graph.PrevClose())

	// minute high points and per-second detail were archived
	assert.Greater(t, archive.count(enum.BarSizeMinute), 0)
	assert.Greater(t, archive.count(enum.BarSizeSecond), 0)
}

func TestPreloadFailureSurfacesCause(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	sim.InjectError(162, "no data")
	q := newSimQueue(t, sim)
	calendar := testCalendar()
	arena := putup.NewArena()

	h := arena.Register(putup.Security{Symbol: "AAPL", ContractID: 1}, calendar)

	p := NewPreloader(q, arena, calendar, nil, PreloadConfig{
		LookbackDays: 3,
		AbortAfter:   time.Minute,
		PacingDelay:  time.Millisecond,
	})

	end := time.Date(2026, 3, 4, 16, 0, 0, 0, time.UTC)
	err := p.Preload(context.Background(), h, end)
	require.Error(t, err)

	// the security never reached active monitoring
	status, serr := arena.Status(h)
	require.NoError(t, serr)
	assert.Equal(t, putup.StatusPreloading, status)
}

func TestTradingDaysDeduplicates(t *testing.T) {
	calendar := testCalendar()
	g := model.NewGraph(1, calendar)
	mon := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	require.NoError(t, g.AppendAll([]model.GraphPoint{
		{Time: mon},
		{Time: mon.Add(time.Hour)},   // same day
		{Time: mon.AddDate(0, 0, 1)}, // Tuesday
		{Time: mon.AddDate(0, 0, 5)}, // Saturday, skipped
	}))

	days := tradingDays(g, calendar)
	require.Len(t, days, 2)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), days[0])
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), days[1])
}
