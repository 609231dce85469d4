package lines

import (
	"errors"
	"math"

	"linewatch/internal/model"
)

var (
	// ErrNoCandidates means selection had nothing to choose from.
	ErrNoCandidates = errors.New("lines: no candidates")
	// ErrEscalationExhausted means the deepening procedure hit its
	// iteration cap without producing a decider; callers treat this as
	// a fatal data gap for the security.
	ErrEscalationExhausted = errors.New("lines: escalation cap exceeded")
)

// DefaultEscalationCap bounds how many times selection may ask for
// deeper history before giving up.
const DefaultEscalationCap = 4

// Scores holds the two per-endpoint measures used by selection, both
// relative to the lowest point of the session: how far above the low the
// endpoint sits, and how long before the evaluation end it formed.
type Scores struct {
	Depth    float64
	Duration float64
}

// Selection is the outcome of one selection pass.
type Selection struct {
	// Winner is set when a sole deciding point existed.
	Winner *Line
	// Survivors is the final surviving set when no decider emerged and
	// escalation was exhausted by the caller.
	Survivors []Line
	// NeedDeeper asks the caller to load deeper history and re-run.
	NeedDeeper bool
}

// Select picks the winning line. When one endpoint simultaneously holds
// the maximum depth score and the maximum duration score it is the sole
// decider, and the winner is the shallowest-gradient surviving line
// through it. Otherwise the caller is asked to deepen history, up to cap
// iterations; past the cap the pairwise survives-against elimination
// picks the final set.
func Select(candidates []Line, points []model.GraphPoint, calendar *model.Calendar, iteration, maxIter int) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, ErrNoCandidates
	}
	if maxIter <= 0 {
		maxIter = DefaultEscalationCap
	}

	low, last, ok := sessionBounds(points)
	if !ok {
		return Selection{}, ErrNoCandidates
	}

	scores := endpointScores(candidates, low, last, calendar)
	if decider, found := soleDecider(scores); found {
		winner := shallowestThrough(candidates, decider)
		if winner != nil {
			return Selection{Winner: winner}, nil
		}
	}

	if iteration < maxIter {
		return Selection{NeedDeeper: true}, nil
	}
	if iteration > maxIter {
		return Selection{}, ErrEscalationExhausted
	}

	survivors := eliminate(candidates, low, last, calendar)
	if len(survivors) == 0 {
		return Selection{}, ErrNoCandidates
	}
	winner := shallowest(survivors)
	return Selection{Winner: winner, Survivors: survivors}, nil
}

func sessionBounds(points []model.GraphPoint) (low model.GraphPoint, last model.GraphPoint, ok bool) {
	if len(points) == 0 {
		return low, last, false
	}
	low = points[0]
	last = points[0]
	for _, p := range points[1:] {
		if p.Low < low.Low {
			low = p
		}
		if p.Time.After(last.Time) {
			last = p
		}
	}
	return low, last, true
}

func scoresFor(p model.GraphPoint, low, last model.GraphPoint, calendar *model.Calendar) Scores {
	duration := last.Time.Sub(p.Time).Seconds()
	if calendar != nil {
		// deeper history counts trading days, not wall time
		if days := calendar.TradingDaysBetween(p.Time, last.Time); days > 0 {
			duration = float64(days) * 86400
		}
	}
	return Scores{
		Depth:    p.High - low.Low,
		Duration: duration,
	}
}

type scoredPoint struct {
	point  model.GraphPoint
	scores Scores
}

func endpointScores(candidates []Line, low, last model.GraphPoint, calendar *model.Calendar) []scoredPoint {
	seen := make(map[int64]struct{})
	var out []scoredPoint
	for _, l := range candidates {
		for _, p := range []model.GraphPoint{l.C, l.E} {
			key := p.Time.UnixNano()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, scoredPoint{point: p, scores: scoresFor(p, low, last, calendar)})
		}
	}
	return out
}

// soleDecider finds the endpoint holding both maxima, if exactly one does.
func soleDecider(scored []scoredPoint) (model.GraphPoint, bool) {
	maxDepth, maxDuration := math.Inf(-1), math.Inf(-1)
	for _, s := range scored {
		if s.scores.Depth > maxDepth {
			maxDepth = s.scores.Depth
		}
		if s.scores.Duration > maxDuration {
			maxDuration = s.scores.Duration
		}
	}
	var decider model.GraphPoint
	count := 0
	for _, s := range scored {
		if s.scores.Depth == maxDepth && s.scores.Duration == maxDuration {
			decider = s.point
			count++
		}
	}
	return decider, count == 1
}

// shallowestThrough returns the surviving line with the flattest gradient
// having the decider as an endpoint.
func shallowestThrough(candidates []Line, decider model.GraphPoint) *Line {
	var best *Line
	for i := range candidates {
		l := &candidates[i]
		if !l.C.SameInstant(decider) && !l.E.SameInstant(decider) {
			continue
		}
		if best == nil || math.Abs(l.Gradient) < math.Abs(best.Gradient) {
			best = l
		}
	}
	return best
}

func shallowest(candidates []Line) *Line {
	var best *Line
	for i := range candidates {
		l := &candidates[i]
		if best == nil || math.Abs(l.Gradient) < math.Abs(best.Gradient) {
			best = l
		}
	}
	return best
}

// eliminate applies the pairwise survives-against formula: a line is
// eliminated only when another candidate strictly beats it on both its
// start point's depth and duration scores.
func eliminate(candidates []Line, low, last model.GraphPoint, calendar *model.Calendar) []Line {
	type scoredLine struct {
		line   Line
		scores Scores
	}
	scored := make([]scoredLine, len(candidates))
	for i, l := range candidates {
		scored[i] = scoredLine{line: l, scores: scoresFor(l.C, low, last, calendar)}
	}

	var survivors []Line
	for i, a := range scored {
		dominated := false
		for j, b := range scored {
			if i == j {
				continue
			}
			if b.scores.Depth > a.scores.Depth && b.scores.Duration > a.scores.Duration {
				dominated = true
				break
			}
		}
		if !dominated {
			survivors = append(survivors, a.line)
		}
	}
	return survivors
}
