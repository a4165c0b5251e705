package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"margin_sim/internal/alert"
	"margin_sim/internal/config"
	"margin_sim/internal/core"
	"margin_sim/internal/engine"
	"margin_sim/internal/feed"
	"margin_sim/internal/infrastructure/metrics"
	"margin_sim/internal/store"
	"margin_sim/pkg/logging"
	"margin_sim/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/simulator.yaml", "Path to configuration file")
	profileID := flag.String("profile", "", "Profile id (overrides config)")
	watch := flag.Bool("watch", false, "Keep recomputing as prices move")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("simulator version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobalLogger(logger)

	logger.Info("Starting simulator",
		"version", version,
		"feed", cfg.Feed.Type,
		"storage", cfg.Storage.Type,
	)

	if cfg.Telemetry.EnableMetrics {
		if err := telemetry.InitMetrics(); err != nil {
			logger.Warn("Failed to initialize metrics exporter", "error", err)
		}
	}

	st, err := newStore(cfg)
	if err != nil {
		logger.Error("Failed to open profile store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	id := *profileID
	if id == "" {
		id = cfg.Profile.DefaultID
	}
	if id == "" {
		id = "default"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	profile, err := loadProfile(ctx, st, id, cfg, logger)
	if err != nil {
		logger.Error("Failed to load profile", "id", id, "error", err)
		os.Exit(1)
	}

	priceFeed, stopFeed, err := newFeed(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start price feed", "error", err)
		os.Exit(1)
	}
	defer stopFeed()

	eng := engine.New(engine.Config{
		LossOnlyFreeMargin: cfg.LossOnlyFreeMargin(),
		LotSteps:           cfg.Venue.LotSteps,
	}, logger)

	alerts := newAlerts(cfg, logger)

	run := &runner{
		engine:    eng,
		feed:      priceFeed,
		alerts:    alerts,
		profileID: id,
		profile:   profile,
		logger:    logger,
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Telemetry.EnableMetrics {
		srv := metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		srv.Start()
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Stop(shutdownCtx)
		})
	}

	if *watch {
		interval := time.Duration(cfg.System.WatchIntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = 2 * time.Second
		}
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			run.once(ctx)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					run.once(ctx)
				}
			}
		})
	} else {
		run.once(ctx)
		cancel()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Simulator stopped")
}

// runner drives one recompute: snapshot prices, run the engine, publish
// metrics, and fire the kill-switch alert on a fresh breach.
type runner struct {
	engine    *engine.Engine
	feed      core.IPriceFeed
	alerts    *alert.AlertManager
	profileID string
	profile   *core.ProfileState
	logger    core.ILogger

	killAlerted bool
}

func (r *runner) once(ctx context.Context) {
	res := r.engine.Compute(*r.profile, r.feed.Snapshot())
	if res.Cached {
		return
	}

	mh := telemetry.GetGlobalMetrics()
	mh.SetAccountTotals(res.Snap.Equity, res.Snap.FreeMargin, res.Snap.TotalPnL, res.Snap.UsedMargin)

	r.logger.Info("Account snapshot",
		"profile", r.profileID,
		"equity", res.Snap.Equity,
		"free_margin", res.Snap.FreeMargin,
		"used_margin", res.Snap.UsedMargin,
		"pnl", res.Snap.TotalPnL,
	)

	for _, c := range res.Coins {
		if c.MMRValid {
			mh.SetInferredMMR(c.Coin, c.MMR.Rate)
		}
		if c.LiqOK {
			mh.SetLiqDistancePct(c.Coin, c.LiqDistPct)
		}
		r.logger.Info("Coin report",
			"coin", c.Coin,
			"price", c.Price,
			"mmr", c.MMR.Rate,
			"mmr_valid", c.MMRValid,
			"liq", c.Liq,
			"liq_ok", c.LiqOK,
			"liq_dist_pct", c.LiqDistPct,
		)
	}

	if ev := res.HedgeEval; ev != nil {
		r.logger.Info("Hedge cycle",
			"state", ev.State.String(),
			"action", ev.Action.String(),
			"winner_roe", ev.WinnerROE,
			"loser_roe", ev.LoserROE,
			"projected_equity", ev.ProjectedEquity,
			"kill_threshold", ev.KillThreshold,
		)
		mh.SetKillSwitchBreached(ev.KillBreached)

		if ev.KillBreached && !r.killAlerted {
			r.killAlerted = true
			if r.alerts != nil {
				r.alerts.KillSwitchBreach(ctx, r.profileID, ev.ProjectedEquity, ev.KillThreshold)
			}
		} else if !ev.KillBreached {
			r.killAlerted = false
		}
	}
}

func newStore(cfg *config.Config) (core.IProfileStore, error) {
	switch {
	case cfg.Storage.Type == "sqlite":
		return store.NewSQLiteStore(cfg.Storage.Path)
	case cfg.Storage.Type == "" && cfg.Storage.Path != "":
		return store.NewSQLiteStore(cfg.Storage.Path)
	default:
		return store.NewMemoryStore(), nil
	}
}

// loadProfile loads the persisted state, falling back to a fresh profile
// seeded from config defaults when none exists. The seeded profile is saved so
// the next run starts from the same state.
func loadProfile(ctx context.Context, st core.IProfileStore, id string, cfg *config.Config, logger core.ILogger) (*core.ProfileState, error) {
	profile, err := st.LoadProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		logger.Info("No saved profile, starting fresh", "id", id)
		profile = &core.ProfileState{}
	}

	if profile.FeeRate <= 0 {
		profile.FeeRate = cfg.Venue.FeeRate
	}
	if profile.HedgeCycle == (core.HedgeCycleParams{}) {
		profile.HedgeCycle = core.HedgeCycleParams{
			TakeProfitROE:    cfg.HedgeCycle.TakeProfitROE,
			RecoveryROE:      cfg.HedgeCycle.RecoveryROE,
			CutRatio:         cfg.HedgeCycle.CutRatio,
			BaseMargin:       cfg.HedgeCycle.BaseMargin,
			KillPct:          cfg.HedgeCycle.KillPct,
			BalanceTolerance: cfg.HedgeCycle.BalanceTolerance,
		}
	}

	if err := st.SaveProfile(ctx, id, profile); err != nil {
		logger.Warn("Failed to persist profile", "id", id, "error", err)
	} else if mh := telemetry.GetGlobalMetrics(); mh.ProfileSavesTotal != nil {
		mh.ProfileSavesTotal.Add(ctx, 1)
	}
	return profile, nil
}

func newFeed(ctx context.Context, cfg *config.Config, logger core.ILogger) (core.IPriceFeed, func(), error) {
	switch cfg.Feed.Type {
	case "rest":
		poller := feed.NewRESTPoller(feed.RESTPollerConfig{
			BaseURL:         cfg.Feed.RestURL,
			Coins:           cfg.Feed.Coins,
			PollInterval:    time.Duration(cfg.Feed.PollIntervalMs) * time.Millisecond,
			RateLimitPerSec: cfg.Feed.RateLimitPerSec,
			PoolSize:        cfg.Feed.PollerPoolSize,
			PoolBuffer:      cfg.Feed.PollerPoolBuffer,
		}, logger)
		poller.Start(ctx)
		return poller, poller.Stop, nil
	case "websocket":
		stream := feed.NewStream(cfg.Feed.WsURL, cfg.Feed.Coins, logger)
		stream.Start()
		return stream, stream.Stop, nil
	default:
		return feed.NewStatic(cfg.Feed.Prices), func() {}, nil
	}
}

func newAlerts(cfg *config.Config, logger core.ILogger) *alert.AlertManager {
	if !cfg.Alerts.Enabled {
		return nil
	}
	am := alert.NewAlertManager(logger)
	if token := cfg.Alerts.Telegram.BotToken.Reveal(); token != "" {
		am.AddChannel(alert.NewTelegramChannel(token, cfg.Alerts.Telegram.ChatID))
	}
	if url := cfg.Alerts.Slack.WebhookURL.Reveal(); url != "" {
		am.AddChannel(alert.NewSlackChannel(url))
	}
	return am
}
