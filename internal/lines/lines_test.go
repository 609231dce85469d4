package lines

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewatch/internal/model"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func at(min int, high float64) model.GraphPoint {
	return model.GraphPoint{
		Time: t0.Add(time.Duration(min) * time.Minute),
		High: high,
		Low:  high - 0.5,
	}
}

func TestPivots(t *testing.T) {
	points := []model.GraphPoint{
		at(0, 10), at(1, 12), at(2, 10), at(3, 11.5), at(4, 9), at(5, 11), at(6, 8),
	}

	pivots := Pivots(points, 0.05)
	require.Len(t, pivots, 3)
	assert.Equal(t, 12.0, pivots[0].High)
	assert.Equal(t, 11.5, pivots[1].High)
	assert.Equal(t, 11.0, pivots[2].High)

	// a prohibitive threshold keeps only the session high
	pivots = Pivots(points, 0.5)
	require.Len(t, pivots, 1)
	assert.Equal(t, 12.0, pivots[0].High)
}

func TestPivotsTooFewPoints(t *testing.T) {
	assert.Nil(t, Pivots([]model.GraphPoint{at(0, 10), at(1, 11)}, 0.01))
}

func TestCandidatesDescendingPairs(t *testing.T) {
	pivots := []model.GraphPoint{at(0, 12), at(3, 11.5), at(5, 11)}

	cands := Candidates(pivots)
	require.Len(t, cands, 3)
	for _, l := range cands {
		assert.True(t, l.C.Time.Before(l.E.Time))
		assert.Greater(t, l.C.High, l.E.High)
		assert.Negative(t, l.Gradient)
	}

	// an ascending later pivot pairs with nothing before it
	cands = Candidates([]model.GraphPoint{at(0, 10), at(3, 12)})
	assert.Empty(t, cands)
}

func TestLineValueAt(t *testing.T) {
	l := NewLine(at(0, 100), at(10, 95))
	assert.InDelta(t, 97.5, l.ValueAt(t0.Add(5*time.Minute)), 1e-9)
	assert.InDelta(t, 100.0, l.ValueAt(t0), 1e-9)
	assert.InDelta(t, 92.5, l.ValueAt(t0.Add(15*time.Minute)), 1e-9)
}

func TestFilterPassesCleanLine(t *testing.T) {
	line := NewLine(at(0, 100), at(10, 95))
	points := []model.GraphPoint{
		at(0, 100), at(5, 97), at(10, 95), at(12, 93),
	}

	survivors, err := Filter(context.Background(), []Line{line}, points, t0.Add(15*time.Minute), FilterConfig{Tolerance: 0.001})
	require.NoError(t, err)
	require.Len(t, survivors, 1)
	assert.Empty(t, survivors[0].StandIns)
}

func TestFilterBlocksPiercedLine(t *testing.T) {
	line := NewLine(at(0, 100), at(10, 95))
	// 99 at minute five sits far above the interpolated 97.5
	points := []model.GraphPoint{
		at(0, 100), at(5, 99), at(10, 95),
	}

	survivors, err := Filter(context.Background(), []Line{line}, points, t0.Add(15*time.Minute), FilterConfig{Tolerance: 0.001})
	require.NoError(t, err)
	assert.Empty(t, survivors)
}

func TestFilterRecordsStandIn(t *testing.T) {
	line := NewLine(at(0, 100), at(10, 95))
	// 97.55 exceeds the interpolated 97.5 by less than a tenth percent
	points := []model.GraphPoint{
		at(0, 100), at(5, 97.55), at(10, 95),
	}

	survivors, err := Filter(context.Background(), []Line{line}, points, t0.Add(15*time.Minute), FilterConfig{Tolerance: 0.001})
	require.NoError(t, err)
	require.Len(t, survivors, 1)
	require.Len(t, survivors[0].StandIns, 1)
	assert.Equal(t, 97.55, survivors[0].StandIns[0].High)
}

func TestFilterBlocksOnProjection(t *testing.T) {
	line := NewLine(at(0, 100), at(10, 95))
	// clean between C and E, pierced between E and now
	points := []model.GraphPoint{
		at(0, 100), at(5, 97), at(10, 95), at(12, 99),
	}

	survivors, err := Filter(context.Background(), []Line{line}, points, t0.Add(15*time.Minute), FilterConfig{Tolerance: 0.001})
	require.NoError(t, err)
	assert.Empty(t, survivors)
}

func TestSelectSoleDecider(t *testing.T) {
	c := at(0, 110)
	steep := NewLine(c, at(10, 100))
	shallow := NewLine(c, at(20, 105))
	points := []model.GraphPoint{
		c, at(10, 100), at(20, 105),
		{Time: t0.Add(15 * time.Minute), High: 91, Low: 90},
		{Time: t0.Add(25 * time.Minute), High: 95, Low: 94},
	}

	sel, err := Select([]Line{steep, shallow}, points, nil, 0, DefaultEscalationCap)
	require.NoError(t, err)
	require.NotNil(t, sel.Winner)
	assert.False(t, sel.NeedDeeper)
	// both surviving lines start at the decider; the flatter one wins
	assert.InDelta(t, shallow.Gradient, sel.Winner.Gradient, 1e-12)
}

func splitMaximaFixture() ([]Line, []model.GraphPoint) {
	// earliest start holds the duration maximum, a later higher start
	// holds the depth maximum, so no single endpoint decides
	l1 := NewLine(at(0, 100), at(10, 95))
	l2 := NewLine(at(5, 105), at(12, 95.5))
	points := []model.GraphPoint{
		at(0, 100), at(5, 105), at(10, 95), at(12, 95.5),
		{Time: t0.Add(8 * time.Minute), High: 91, Low: 90},
		at(15, 94),
	}
	return []Line{l1, l2}, points
}

func TestSelectNeedsDeeperHistory(t *testing.T) {
	cands, points := splitMaximaFixture()

	sel, err := Select(cands, points, nil, 0, DefaultEscalationCap)
	require.NoError(t, err)
	assert.True(t, sel.NeedDeeper)
	assert.Nil(t, sel.Winner)
}

func TestSelectEliminatesAtCap(t *testing.T) {
	cands, points := splitMaximaFixture()

	sel, err := Select(cands, points, nil, DefaultEscalationCap, DefaultEscalationCap)
	require.NoError(t, err)
	require.NotNil(t, sel.Winner)
	// neither start dominates the other on both scores, so both survive
	// and the flatter gradient wins
	assert.Len(t, sel.Survivors, 2)
	assert.InDelta(t, cands[0].Gradient, sel.Winner.Gradient, 1e-12)
}

func TestSelectEscalationExhausted(t *testing.T) {
	cands, points := splitMaximaFixture()

	_, err := Select(cands, points, nil, DefaultEscalationCap+1, DefaultEscalationCap)
	assert.ErrorIs(t, err, ErrEscalationExhausted)
}

func TestSelectNoCandidates(t *testing.T) {
	_, err := Select(nil, nil, nil, 0, DefaultEscalationCap)
	assert.ErrorIs(t, err, ErrNoCandidates)
}
