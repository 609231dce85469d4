package pipeline

import (
	"time"

	"linewatch/internal/model"
)

// DefaultHighPointTolerance is the minimum fractional drop below the
// running high for a candidate to count as a distinct high level.
const DefaultHighPointTolerance = 0.001

// OpeningCarveOut is the span at the session open whose candidates are
// always retained regardless of the tolerance walk.
const OpeningCarveOut = 30 * time.Minute

// HighPointFilter returns the stage finalizer implementing the high-point
// retention rule: candidates are sorted by descending price and walked
// top-down; a candidate survives only when its price sits below the
// running high by at least the tolerance, and each survivor becomes the
// new running high. Candidates inside the first thirty minutes of their
// session are always retained. The comparison is always against the
// current running high, never the original top.
func HighPointFilter(calendar *model.Calendar, tolerance float64) Finalize {
	if tolerance <= 0 {
		tolerance = DefaultHighPointTolerance
	}
	return func(points []model.GraphPoint) []model.GraphPoint {
		if len(points) == 0 {
			return points
		}
		descending := model.SortPointsByPriceDesc(points)

		retained := make([]model.GraphPoint, 0, len(descending))
		retained = append(retained, descending[0])
		runningHigh := descending[0].High

		for _, p := range descending[1:] {
			if inOpeningWindow(calendar, p.Time) {
				retained = append(retained, p)
				continue
			}
			if p.High <= runningHigh*(1-tolerance) {
				retained = append(retained, p)
				runningHigh = p.High
			}
		}

		sortByTime(retained)
		return retained
	}
}

func inOpeningWindow(calendar *model.Calendar, ts time.Time) bool {
	if calendar == nil {
		return false
	}
	session, ok := calendar.SessionFor(ts)
	if !ok {
		return false
	}
	return session.OpeningWindow(OpeningCarveOut).Contains(ts)
}
