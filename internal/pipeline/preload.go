package pipeline

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"linewatch/internal/dispatch"
	"linewatch/internal/gateway"
	"linewatch/internal/model"
	"linewatch/internal/model/enum"
	"linewatch/internal/obs"
	"linewatch/internal/putup"
	"linewatch/internal/task"
)

// Archive persists bars delivered by completed stages. A nil archive
// disables persistence.
type Archive interface {
	SaveBars(ctx context.Context, security putup.Handle, barSize enum.BarSize, points []model.GraphPoint) error
}

// PreloadConfig tunes the staged historical preload.
type PreloadConfig struct {
	// LookbackDays is how far the coarse stage reaches back.
	LookbackDays int
	// AbortAfter bounds the whole preload chain.
	AbortAfter time.Duration
	// FineWindow is the span of per-second bars loaded around each
	// surviving high point.
	FineWindow time.Duration
	// HighPointTolerance overrides the retention tolerance.
	HighPointTolerance float64
	// PacingDelay passes through to every task issued by the preload.
	PacingDelay time.Duration

	Metrics *obs.Metrics
}

func (c PreloadConfig) withDefaults() PreloadConfig {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 10
	}
	if c.AbortAfter <= 0 {
		c.AbortAfter = time.Hour
	}
	if c.FineWindow <= 0 {
		c.FineWindow = 30 * time.Minute
	}
	if c.HighPointTolerance <= 0 {
		c.HighPointTolerance = DefaultHighPointTolerance
	}
	return c
}

// Preloader runs the multi-stage historical preload that narrows
// granularity stage by stage: daily bars, hourly bars, minute-bar high
// points, then per-second detail around each surviving high point.
type Preloader struct {
	queue    *dispatch.Queue
	arena    *putup.Arena
	calendar *model.Calendar
	archive  Archive
	cfg      PreloadConfig
}

// NewPreloader wires a preloader over the shared queue and arena.
func NewPreloader(queue *dispatch.Queue, arena *putup.Arena, calendar *model.Calendar, archive Archive, cfg PreloadConfig) *Preloader {
	return &Preloader{
		queue:    queue,
		arena:    arena,
		calendar: calendar,
		archive:  archive,
		cfg:      cfg.withDefaults(),
	}
}

// Preload fills the security's live graph ending at endTime. On success
// the security moves to active monitoring; any stage failure leaves the
// graph untouched and surfaces the cause.
func (p *Preloader) Preload(ctx context.Context, h putup.Handle, endTime time.Time) error {
	sec, err := p.arena.Security(h)
	if err != nil {
		return err
	}
	if err := p.arena.SetStatus(h, putup.StatusPreloading); err != nil {
		return err
	}
	deadline := time.Now().Add(p.cfg.AbortAfter)

	daily, err := p.coarseStage(ctx, sec, endTime)
	if err != nil {
		return errors.Wrap(err, "coarse stage").With("symbol", sec.Symbol)
	}
	if prev, ok := prevClose(daily, p.calendar, endTime); ok {
		if err := p.arena.SetPrevClose(h, prev); err != nil {
			return err
		}
	}

	days := tradingDays(daily, p.calendar)
	if len(days) == 0 {
		return ErrNoWindows
	}

	hourly, err := p.fanoutStage(ctx, sec, days, enum.BarSizeHour, enum.ResultMerged, nil, deadline)
	if err != nil {
		return errors.Wrap(err, "hourly stage").With("symbol", sec.Symbol)
	}

	highFilter := HighPointFilter(p.calendar, p.cfg.HighPointTolerance)
	highs, err := p.fanoutStage(ctx, sec, days, enum.BarSizeMinute, enum.ResultHighPoints, highFilter, deadline)
	if err != nil {
		return errors.Wrap(err, "high-point stage").With("symbol", sec.Symbol)
	}

	fine, err := p.fineStage(ctx, sec, highs.Snapshot(), deadline)
	if err != nil {
		return errors.Wrap(err, "fine stage").With("symbol", sec.Symbol)
	}

	graph, err := p.arena.Graph(h)
	if err != nil {
		return err
	}
	for _, stage := range []*model.Graph{daily, hourly, highs, fine} {
		if stage == nil {
			continue
		}
		if err := graph.AppendAll(stage.Snapshot()); err != nil {
			return err
		}
	}
	p.persist(ctx, h, enum.BarSizeMinute, highs.Snapshot())
	p.persist(ctx, h, enum.BarSizeSecond, fine.Snapshot())

	if err := p.arena.SetStatus(h, putup.StatusMonitoring); err != nil {
		return err
	}
	logs.Infof("preloaded %s: %d points", sec.Symbol, graph.Len())
	return nil
}

// coarseStage loads one multi-day daily window through a single task.
func (p *Preloader) coarseStage(ctx context.Context, sec putup.Security, endTime time.Time) (*model.Graph, error) {
	t := task.New(task.Options{
		Security: sec.Handle,
		Request: gateway.HistoricalRequest{
			ContractID: sec.ContractID,
			EndTime:    endTime,
			Duration:   time.Duration(p.cfg.LookbackDays) * 24 * time.Hour,
			BarSize:    enum.BarSizeDay,
			DataKind:   enum.DataKindTrades,
		},
		Kind:        enum.ResultHistoricalBatch,
		Calendar:    p.calendar,
		AbortAfter:  30 * time.Second,
		PacingDelay: p.cfg.PacingDelay,
		Metrics:     p.cfg.Metrics,
	})
	r, err := task.SubmitAndWait(ctx, p.queue, t, enum.PriorityNormal)
	if err != nil {
		return nil, err
	}
	if !r.OK() {
		return nil, r.Err
	}
	return r.Graph, nil
}

func (p *Preloader) fanoutStage(ctx context.Context, sec putup.Security, days []time.Time, barSize enum.BarSize, kind enum.ResultKind, finalize Finalize, deadline time.Time) (*model.Graph, error) {
	windows := make([]Window, 0, len(days))
	for _, day := range days {
		session, ok := p.calendar.SessionFor(day.Add(12 * time.Hour))
		if !ok {
			continue
		}
		windows = append(windows, Window{
			EndTime:  session.Close,
			Duration: session.Close.Sub(session.Open),
			BarSize:  barSize,
		})
	}
	return RunStage(ctx, p.queue, StageConfig{
		Security:        sec.Handle,
		ContractID:      sec.ContractID,
		Kind:            kind,
		DataKind:        enum.DataKindTrades,
		Calendar:        p.calendar,
		AbortAfter:      time.Until(deadline),
		ChildAbortAfter: 30 * time.Second,
		PacingDelay:     p.cfg.PacingDelay,
		Finalize:        finalize,
		Metrics:         p.cfg.Metrics,
	}, windows)
}

// fineStage loads per-second detail around each surviving high point.
func (p *Preloader) fineStage(ctx context.Context, sec putup.Security, highs []model.GraphPoint, deadline time.Time) (*model.Graph, error) {
	if len(highs) == 0 {
		return nil, ErrNoWindows
	}
	windows := make([]Window, 0, len(highs))
	for _, hp := range highs {
		windows = append(windows, Window{
			EndTime:  hp.Time.Add(p.cfg.FineWindow / 2),
			Duration: p.cfg.FineWindow,
			BarSize:  enum.BarSizeSecond,
		})
	}
	return RunStage(ctx, p.queue, StageConfig{
		Security:        sec.Handle,
		ContractID:      sec.ContractID,
		Kind:            enum.ResultMerged,
		DataKind:        enum.DataKindTrades,
		Calendar:        p.calendar,
		AbortAfter:      time.Until(deadline),
		ChildAbortAfter: 30 * time.Second,
		PacingDelay:     p.cfg.PacingDelay,
		Metrics:         p.cfg.Metrics,
	}, windows)
}

func (p *Preloader) persist(ctx context.Context, h putup.Handle, barSize enum.BarSize, points []model.GraphPoint) {
	if p.archive == nil || len(points) == 0 {
		return
	}
	if err := p.archive.SaveBars(ctx, h, barSize, points); err != nil {
		logs.Errorf("archive bars for security %d: %+v", h, err)
	}
}

// prevClose extracts the close of the trading day before the one holding
// endTime.
func prevClose(daily *model.Graph, calendar *model.Calendar, endTime time.Time) (float64, bool) {
	if daily == nil || calendar == nil {
		return 0, false
	}
	prevDay := calendar.PrevTradingDay(endTime)
	points := daily.Range(prevDay, prevDay.AddDate(0, 0, 1))
	if len(points) == 0 {
		return 0, false
	}
	return points[len(points)-1].Close, true
}

// tradingDays lists the distinct trading days covered by the coarse stage.
func tradingDays(daily *model.Graph, calendar *model.Calendar) []time.Time {
	if daily == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var days []time.Time
	for _, p := range daily.Snapshot() {
		if !calendar.IsTradingDay(p.Time) {
			continue
		}
		key := p.Time.Format("2006-01-02")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		day := time.Date(p.Time.Year(), p.Time.Month(), p.Time.Day(), 0, 0, 0, 0, p.Time.Location())
		days = append(days, day)
	}
	return days
}
