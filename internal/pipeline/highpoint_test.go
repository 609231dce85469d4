package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewatch/internal/model"
)

func highsAt(base time.Time, highs ...float64) []model.GraphPoint {
	points := make([]model.GraphPoint, 0, len(highs))
	for i, h := range highs {
		points = append(points, model.GraphPoint{Time: base.Add(time.Duration(i) * time.Minute), High: h})
	}
	return points
}

func retainedHighs(points []model.GraphPoint) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		out = append(out, p.High)
	}
	return out
}

func TestHighPointFilterWalksRunningHigh(t *testing.T) {
	base := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	points := highsAt(base, 100, 99.95, 99.8, 99.0)

	// at half a percent only the top and the deep drop survive
	filter := HighPointFilter(testCalendar(), 0.005)
	got := retainedHighs(filter(points))
	assert.Equal(t, []float64{100, 99.0}, got)

	// at a tenth of a percent the middle level reappears; the comparison
	// tracks the running high, not the original top
	filter = HighPointFilter(testCalendar(), 0.001)
	got = retainedHighs(filter(points))
	assert.Equal(t, []float64{100, 99.8, 99.0}, got)
}

func TestHighPointFilterResultInTimeOrder(t *testing.T) {
	base := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	points := []model.GraphPoint{
		{Time: base.Add(2 * time.Minute), High: 100},
		{Time: base, High: 98},
		{Time: base.Add(time.Minute), High: 95},
	}

	got := HighPointFilter(testCalendar(), 0.005)(points)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Time.Before(got[i].Time))
	}
}

func TestHighPointFilterOpeningCarveOut(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	points := []model.GraphPoint{
		{Time: day.Add(11 * time.Hour), High: 100},
		// within tolerance of the top, but inside the first thirty
		// minutes of the session, so it survives anyway
		{Time: day.Add(9*time.Hour + 45*time.Minute), High: 99.99},
		{Time: day.Add(12 * time.Hour), High: 99.98},
	}

	got := retainedHighs(HighPointFilter(testCalendar(), 0.005)(points))
	assert.Equal(t, []float64{99.99, 100}, got)
}

func TestHighPointFilterEmpty(t *testing.T) {
	filter := HighPointFilter(testCalendar(), 0.001)
	assert.Empty(t, filter(nil))
}
