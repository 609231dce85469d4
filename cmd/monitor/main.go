package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"linewatch/internal/config"
	"linewatch/internal/dispatch"
	"linewatch/internal/gateway"
	"linewatch/internal/lines"
	"linewatch/internal/model"
	"linewatch/internal/model/enum"
	"linewatch/internal/obs"
	"linewatch/internal/pipeline"
	"linewatch/internal/putup"
	"linewatch/internal/rule"
	"linewatch/internal/store"
	"linewatch/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	demo := flag.Bool("demo", false, "Force the simulated gateway regardless of config")
	feedURL := flag.String("feed-url", "", "Realtime bar feed websocket URL (empty=disabled)")
	profileAddr := flag.String("profile-addr", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "linewatch/monitor",
			ServerAddress:   *profileAddr,
			Tags:            map[string]string{"env": "local"},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *demo {
		cfg.Simulate = true
	}

	if err := run(ctx, cfg, *feedURL); err != nil {
		log.Fatalf("monitor failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, feedURL string) error {
	metrics := obs.NewMetrics()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return err
	}
	calendar := model.NewCalendar(9*time.Hour+30*time.Minute, 16*time.Hour, loc)

	arena := putup.NewArena()

	// the broker wire protocol lives outside this process; the simulator
	// stands in for the native connector when none is configured
	dialer := gateway.NewSim(gateway.SimConfig{})
	if !cfg.Simulate {
		logs.Warn("native gateway connector not configured, using simulator for historical data")
	}

	accounts := make([]*dispatch.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, dispatch.NewAccount(a.Name, dialer))
	}
	if len(accounts) == 0 {
		accounts = append(accounts, dispatch.NewAccount("sim", dialer))
	}

	queue, err := dispatch.NewQueue(dispatch.Config{
		PacingDelay:    cfg.Queue.PacingDelay,
		ExhaustPenalty: cfg.Queue.ExhaustPenalty,
		MaxRetries:     cfg.Queue.MaxRetries,
	}, accounts, metrics)
	if err != nil {
		return err
	}
	if err := queue.Start(ctx); err != nil {
		return err
	}
	defer queue.Close()

	var (
		archive  pipeline.Archive
		barStore *store.Archive
	)
	if cfg.Archive.DSN != "" {
		client, err := conn.New(conn.Option{DSN: cfg.Archive.DSN})
		if err != nil {
			return err
		}
		defer func() {
			_ = client.Close()
		}()
		ar, err := store.NewArchive(client.DB(), arena)
		if err != nil {
			return err
		}
		archive = ar
		barStore = ar
	}

	preloader := pipeline.NewPreloader(queue, arena, calendar, archive, pipeline.PreloadConfig{
		LookbackDays:       cfg.Preload.LookbackDays,
		AbortAfter:         cfg.Preload.AbortAfter,
		FineWindow:         cfg.Preload.FineWindow,
		HighPointTolerance: cfg.Preload.HighPointTolerance,
		PacingDelay:        cfg.Queue.PacingDelay,
	})

	engine := rule.NewEngine(arena, queue, calendar, metrics, func(h putup.Handle) {
		sec, err := arena.Security(h)
		if err != nil {
			return
		}
		logs.Infof("entry signal: %s", sec.Symbol)
	})

	handles := make(map[string]putup.Handle, len(cfg.Securities))
	for _, s := range cfg.Securities {
		h := arena.Register(putup.Security{
			Symbol:     s.Symbol,
			ContractID: s.ContractID,
			MinPivot:   s.MinPivot,
		}, calendar)
		handles[s.Symbol] = h

		engine.Attach(h, rule.NewComposite("putup",
			rule.NewLeaf("monitoring", func(env *rule.Env) rule.Verdict {
				status, err := env.Arena.Status(env.Security)
				if err != nil || status != putup.StatusMonitoring {
					return rule.Fail()
				}
				return rule.Pass()
			}),
			rule.NewThreatLine(rule.ThreatLineConfig{
				Proximity:     cfg.Rules.Proximity,
				EscalationCap: cfg.Rules.EscalationCap,
				Filter:        lines.FilterConfig{Tolerance: cfg.Rules.LineTolerance},
			}),
		))
	}

	for symbol, h := range handles {
		if err := preloader.Preload(ctx, h, time.Now().In(loc)); err != nil {
			logs.Errorf("preload %s: %+v", symbol, err)
			if werr := arena.Withdraw(h, err); werr != nil {
				logs.Errorf("withdraw %s: %+v", symbol, werr)
			}
			engine.Detach(h)
			continue
		}
		logs.Infof("preloaded %s", symbol)

		if barStore != nil {
			now := time.Now().In(loc)
			from := now.AddDate(0, 0, -cfg.Preload.LookbackDays)
			bars, err := barStore.LoadBars(ctx, symbol, enum.BarSizeMinute, from, now)
			if err != nil {
				logs.Warnf("archive read %s: %v", symbol, err)
			} else {
				logs.Infof("archive holds %d minute bars for %s", len(bars), symbol)
			}
		}
	}

	if feedURL != "" {
		if err := streamRealtime(ctx, feedURL, arena, handles); err != nil {
			return err
		}
	}

	if err := engine.Register(ctx, cfg.Rules.CronSpec); err != nil {
		return err
	}
	engine.Start()
	defer engine.Stop()

	logs.Infof("monitoring %d securities", len(handles))
	<-ctx.Done()
	logs.Info("shutting down")
	return nil
}

// streamRealtime subscribes each symbol on the feed and appends live bars
// to the arena graphs.
func streamRealtime(ctx context.Context, url string, arena *putup.Arena, handles map[string]putup.Handle) error {
	feed := gateway.NewBarFeed(ctx, url)
	if err := feed.StartWebsocket(ctx); err != nil {
		return err
	}

	for symbol := range handles {
		if err := feed.SubscribeBars(ctx, symbol, 5); err != nil {
			return err
		}
	}

	feed.ObserveBars(ctx, func(b gateway.FeedBar) {
		h, ok := handles[b.Symbol]
		if !ok {
			return
		}
		p, err := b.Point()
		if err != nil {
			logs.Warnf("drop malformed feed bar for %s: %v", b.Symbol, err)
			return
		}
		g, err := arena.Graph(h)
		if err != nil {
			return
		}
		if err := g.Append(p); err != nil {
			logs.Warnf("append realtime bar for %s: %v", b.Symbol, err)
		}
	})
	return nil
}
