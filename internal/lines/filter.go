package lines

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"linewatch/internal/model"
)

// FilterConfig tunes the parallel blocking filter.
type FilterConfig struct {
	// Tolerance is the minimum-pivot threshold as a fraction of the
	// line's interpolated value; an intervening point above the line by
	// no more than this becomes a stand-in instead of blocking.
	Tolerance float64
	// Workers bounds the feasibility-check pool. Zero means GOMAXPROCS.
	Workers int
}

func (c FilterConfig) withDefaults() FilterConfig {
	if c.Tolerance <= 0 {
		c.Tolerance = 0.001
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Filter drops blocked candidates. Feasibility checks are independent per
// line and run across a bounded worker pool in two phases: the span from
// C to E, then the projection from E to now. A line survives only when
// both phases approve it, possibly via recorded stand-in points.
func Filter(ctx context.Context, candidates []Line, points []model.GraphPoint, now time.Time, cfg FilterConfig) ([]Line, error) {
	cfg = cfg.withDefaults()
	if len(candidates) == 0 {
		return nil, nil
	}

	type verdict struct {
		line Line
		ok   bool
	}
	verdicts := make([]verdict, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, line := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			span, ok := checkSpan(line, points, line.C.Time, line.E.Time, cfg.Tolerance)
			if !ok {
				verdicts[i] = verdict{}
				return nil
			}
			proj, ok := checkSpan(span, points, span.E.Time, now, cfg.Tolerance)
			if !ok {
				verdicts[i] = verdict{}
				return nil
			}
			verdicts[i] = verdict{line: proj, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var survivors []Line
	for _, v := range verdicts {
		if v.ok {
			survivors = append(survivors, v.line)
		}
	}
	return survivors, nil
}

// checkSpan approves the line over (from, to): every intervening point
// must sit at or below the interpolated line value plus tolerance. Points
// above the line but inside tolerance are recorded as stand-ins on the
// returned copy.
func checkSpan(line Line, points []model.GraphPoint, from, to time.Time, tolerance float64) (Line, bool) {
	for _, p := range points {
		if !p.Time.After(from) || !p.Time.Before(to) {
			continue
		}
		value := line.ValueAt(p.Time)
		if p.High <= value {
			continue
		}
		if p.High <= value*(1+tolerance) {
			line.StandIns = append(line.StandIns, p)
			continue
		}
		return line, false
	}
	return line, true
}
