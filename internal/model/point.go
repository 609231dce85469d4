package model

import (
	"sort"
	"time"
)

// GraphPoint is one immutable price/time sample. Points are never mutated
// after parsing; replication copies the struct value.
type GraphPoint struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	WAP    float64
	Volume int64
}

// Before reports whether p precedes other in time.
func (p GraphPoint) Before(other GraphPoint) bool {
	return p.Time.Before(other.Time)
}

// SameInstant reports whether both points carry the same timestamp.
func (p GraphPoint) SameInstant(other GraphPoint) bool {
	return p.Time.Equal(other.Time)
}

// SortPointsByPriceDesc returns a copy of points ordered by descending high
// price. Pivot search walks this ordering; ties keep earlier points first.
func SortPointsByPriceDesc(points []GraphPoint) []GraphPoint {
	out := make([]GraphPoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].High != out[j].High {
			return out[i].High > out[j].High
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
