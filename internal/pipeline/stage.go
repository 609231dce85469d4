// Package pipeline composes data tasks into fan-out/fan-in stages for
// staged historical preloading. A parent computes child time windows,
// submits one task per window, and blocks on a pending counter until every
// child reported; partial data is never silently treated as complete.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/yanun0323/logs"

	"linewatch/internal/dispatch"
	"linewatch/internal/gateway"
	"linewatch/internal/model"
	"linewatch/internal/model/enum"
	"linewatch/internal/obs"
	"linewatch/internal/putup"
	"linewatch/internal/task"
)

var (
	ErrStageTimeout = errors.New("pipeline: stage deadline elapsed")
	ErrChildFailed  = errors.New("pipeline: child task failed")
	ErrNoWindows    = errors.New("pipeline: no child windows")
)

// Window is one child time span of a fan-out stage.
type Window struct {
	EndTime  time.Time
	Duration time.Duration
	BarSize  enum.BarSize
}

// Finalize transforms the merged point set when the counter reaches zero.
type Finalize func(points []model.GraphPoint) []model.GraphPoint

// StageConfig describes one fan-out stage.
type StageConfig struct {
	Security   putup.Handle
	ContractID int64
	Kind       enum.ResultKind
	DataKind   enum.DataKind
	Calendar   *model.Calendar
	Priority   enum.Priority

	// AbortAfter bounds the whole stage; callers size it to the fan-out
	// width. ChildAbortAfter bounds each child task.
	AbortAfter      time.Duration
	ChildAbortAfter time.Duration
	// PacingDelay passes through to each child's post-request pause.
	PacingDelay time.Duration

	// DisableSessionFilter passes through to children whose windows span
	// multiple days.
	DisableSessionFilter bool

	Finalize Finalize
	Metrics  *obs.Metrics
}

func (c StageConfig) withDefaults() StageConfig {
	if c.AbortAfter <= 0 {
		c.AbortAfter = 5 * time.Minute
	}
	if c.ChildAbortAfter <= 0 {
		c.ChildAbortAfter = 30 * time.Second
	}
	if c.Priority == 0 {
		c.Priority = enum.PriorityNormal
	}
	return c
}

// RunStage fans the windows out over the queue and blocks until every
// child completed or the stage aborted. On success the returned graph
// holds the union of all children's points, deduplicated, finalized.
func RunStage(ctx context.Context, q *dispatch.Queue, cfg StageConfig, windows []Window) (*model.Graph, error) {
	cfg = cfg.withDefaults()
	if len(windows) == 0 {
		return nil, ErrNoWindows
	}

	counter := NewPendingCounter(len(windows))
	for _, w := range windows {
		child := task.New(task.Options{
			Security: cfg.Security,
			Request: gateway.HistoricalRequest{
				ContractID:  cfg.ContractID,
				EndTime:     w.EndTime,
				Duration:    w.Duration,
				BarSize:     w.BarSize,
				DataKind:    cfg.DataKind,
				SessionOnly: !cfg.DisableSessionFilter,
			},
			Kind:                 cfg.Kind,
			Calendar:             cfg.Calendar,
			AbortAfter:           cfg.ChildAbortAfter,
			PacingDelay:          cfg.PacingDelay,
			DisableSessionFilter: cfg.DisableSessionFilter,
			Metrics:              cfg.Metrics,
		})
		child.AddListener(task.ListenerFunc(func(r *task.Result) {
			if !r.OK() {
				counter.Abort(errors.Join(ErrChildFailed, r.Err))
				return
			}
			counter.Merge(r.Graph.Snapshot())
		}))
		if err := q.Submit(child, cfg.Priority); err != nil {
			counter.Abort(err)
		}
	}

	deadline := time.Now().Add(cfg.AbortAfter)
	points, err := counter.Wait(ctx, deadline)
	if err != nil {
		logs.Errorf("stage for security %d aborted: %+v", cfg.Security, err)
		return nil, err
	}

	if cfg.Finalize != nil {
		points = cfg.Finalize(points)
	}

	graph := model.NewGraph(int(cfg.Security), cfg.Calendar)
	if err := graph.AppendAll(points); err != nil {
		return nil, err
	}
	graph.Freeze()
	return graph, nil
}

func sortByTime(points []model.GraphPoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})
}
