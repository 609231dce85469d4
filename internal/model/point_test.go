package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortPointsByPriceDesc(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	points := []GraphPoint{
		{Time: base, High: 100},
		{Time: base.Add(time.Minute), High: 102},
		{Time: base.Add(2 * time.Minute), High: 101},
		{Time: base.Add(3 * time.Minute), High: 102},
	}

	sorted := SortPointsByPriceDesc(points)
	require.Len(t, sorted, 4)
	assert.Equal(t, 102.0, sorted[0].High)
	assert.Equal(t, 102.0, sorted[1].High)
	// equal highs keep the earlier point first
	assert.True(t, sorted[0].Time.Before(sorted[1].Time))
	assert.Equal(t, 101.0, sorted[2].High)
	assert.Equal(t, 100.0, sorted[3].High)

	// input order untouched
	assert.Equal(t, 100.0, points[0].High)
}
