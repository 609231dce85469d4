// Package lines builds candidate trend lines from significant pivot
// points, filters blocked candidates in parallel, and selects the final
// threat line used by entry rules.
package lines

import (
	"math"
	"time"

	"linewatch/internal/model"
)

// Pivots extracts the significant pivot points of a series: local price
// peaks whose retracement from the prior higher peak meets the minimum
// threshold, expressed as a fraction of the prior peak's price.
func Pivots(points []model.GraphPoint, minPivot float64) []model.GraphPoint {
	if len(points) < 3 {
		return nil
	}

	peaks := localPeaks(points)
	if len(peaks) == 0 {
		return nil
	}

	out := make([]model.GraphPoint, 0, len(peaks))
	for i, peak := range peaks {
		prior, ok := priorHigherPeak(peaks, i)
		if !ok {
			// the running session high is always significant
			out = append(out, peak)
			continue
		}
		valley := lowestBetween(points, prior.Time, peak.Time)
		if prior.High <= 0 {
			continue
		}
		retrace := (prior.High - valley) / prior.High
		if retrace >= minPivot {
			out = append(out, peak)
		}
	}
	return out
}

// localPeaks returns points whose high exceeds both neighbors.
func localPeaks(points []model.GraphPoint) []model.GraphPoint {
	var peaks []model.GraphPoint
	for i := 1; i < len(points)-1; i++ {
		if points[i].High > points[i-1].High && points[i].High > points[i+1].High {
			peaks = append(peaks, points[i])
		}
	}
	return peaks
}

func priorHigherPeak(peaks []model.GraphPoint, idx int) (model.GraphPoint, bool) {
	for i := idx - 1; i >= 0; i-- {
		if peaks[i].High > peaks[idx].High {
			return peaks[i], true
		}
	}
	return model.GraphPoint{}, false
}

func lowestBetween(points []model.GraphPoint, from, to time.Time) float64 {
	low := math.MaxFloat64
	for _, p := range points {
		if p.Time.After(from) && p.Time.Before(to) && p.Low < low {
			low = p.Low
		}
	}
	if low == math.MaxFloat64 {
		return 0
	}
	return low
}
