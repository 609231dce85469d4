package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pt(ts time.Time, high float64) GraphPoint {
	return GraphPoint{Time: ts, Open: high, High: high, Low: high - 1, Close: high - 0.5, Volume: 1}
}

func TestGraphAppendKeepsOrder(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := NewGraph(1, nil)

	require.NoError(t, g.Append(pt(base.Add(2*time.Minute), 102)))
	require.NoError(t, g.Append(pt(base, 100)))
	require.NoError(t, g.Append(pt(base.Add(time.Minute), 101)))

	points := g.Snapshot()
	require.Len(t, points, 3)
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i-1].Time.Before(points[i].Time))
	}
}

func TestGraphAppendDropsDuplicateTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := NewGraph(1, nil)

	require.NoError(t, g.Append(pt(base, 100)))
	require.NoError(t, g.Append(pt(base, 999)))

	points := g.Snapshot()
	require.Len(t, points, 1)
	assert.Equal(t, 100.0, points[0].High)
}

func TestGraphFreeze(t *testing.T) {
	g := NewGraph(1, nil)
	require.NoError(t, g.Append(pt(time.Now(), 100)))

	g.Freeze()
	err := g.Append(pt(time.Now().Add(time.Minute), 101))
	if err != ErrGraphFrozen {
		t.Fatalf("expected ErrGraphFrozen, got %v", err)
	}
	assert.Equal(t, 1, g.Len())
}

func TestGraphReplicateIsIndependent(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := NewGraph(7, nil)
	require.NoError(t, g.Append(pt(base, 100)))
	g.SetPrevClose(99)
	g.Freeze()

	cp := g.Replicate()
	assert.Equal(t, 7, cp.SecurityID())
	assert.Equal(t, 99.0, cp.PrevClose())

	// the replica is unfrozen and appends to it never reach the original
	require.NoError(t, cp.Append(pt(base.Add(time.Minute), 101)))
	assert.Equal(t, 2, cp.Len())
	assert.Equal(t, 1, g.Len())
}

func TestGraphRange(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := NewGraph(1, nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, g.Append(pt(base.Add(time.Duration(i)*time.Minute), 100+float64(i))))
	}

	got := g.Range(base.Add(2*time.Minute), base.Add(5*time.Minute))
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(2*time.Minute), got[0].Time)
	assert.Equal(t, base.Add(4*time.Minute), got[2].Time)
}

func TestGraphDayCached(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	g := NewGraph(1, nil)
	require.NoError(t, g.Append(pt(day.Add(10*time.Hour), 100)))
	require.NoError(t, g.Append(pt(day.AddDate(0, 0, 1).Add(10*time.Hour), 200)))

	sub := g.Day(day)
	require.Equal(t, 1, sub.Len())
	assert.Same(t, sub, g.Day(day))

	// appending invalidates the cache
	require.NoError(t, g.Append(pt(day.Add(11*time.Hour), 101)))
	assert.Equal(t, 2, g.Day(day).Len())
}

func TestGraphSessionLow(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := NewGraph(1, nil)
	require.NoError(t, g.Append(GraphPoint{Time: base, High: 100, Low: 98}))
	require.NoError(t, g.Append(GraphPoint{Time: base.Add(time.Minute), High: 99, Low: 95}))
	require.NoError(t, g.Append(GraphPoint{Time: base.Add(2 * time.Minute), High: 101, Low: 97}))

	low, ok := g.SessionLow()
	require.True(t, ok)
	assert.Equal(t, 95.0, low.Low)
}
