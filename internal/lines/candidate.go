package lines

import (
	"time"

	"linewatch/internal/model"
)

// Line is a directed candidate trend line from its start point C to its
// later, lower end point E. StandIns records tolerated intervening points
// discovered during blocking checks; they substitute for the literal
// endpoints when the pattern geometry needs them.
type Line struct {
	C        model.GraphPoint
	E        model.GraphPoint
	Gradient float64 // price change per second, negative for descending
	StandIns []model.GraphPoint
}

// NewLine derives the gradient between two points. The start must be
// strictly earlier.
func NewLine(c, e model.GraphPoint) Line {
	seconds := e.Time.Sub(c.Time).Seconds()
	var gradient float64
	if seconds != 0 {
		gradient = (e.High - c.High) / seconds
	}
	return Line{C: c, E: e, Gradient: gradient}
}

// ValueAt interpolates the line's price at ts.
func (l Line) ValueAt(ts time.Time) float64 {
	return l.C.High + l.Gradient*ts.Sub(l.C.Time).Seconds()
}

// Candidates generates every pairwise descending-price line between the
// pivots: each earlier, higher pivot pairs with each later, lower one.
func Candidates(pivots []model.GraphPoint) []Line {
	var out []Line
	for i := 0; i < len(pivots); i++ {
		for j := i + 1; j < len(pivots); j++ {
			c, e := pivots[i], pivots[j]
			if !c.Time.Before(e.Time) {
				continue
			}
			if e.High >= c.High {
				continue
			}
			out = append(out, NewLine(c, e))
		}
	}
	return out
}
