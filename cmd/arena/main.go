package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bot-arena/internal/api"
	"bot-arena/internal/assets"
	"bot-arena/internal/bots"
	"bot-arena/internal/config"
	"bot-arena/internal/game"
	"bot-arena/internal/render"
	"bot-arena/internal/store"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const statsInterval = 5 * time.Second

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if envErr != nil {
		log.Debug("no .env file, using environment only")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("arena stopped", zap.Error(err))
	}
}

func run(cfg config.AppConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("battle bots arena",
		zap.Int("bots", cfg.Rules.NumBots),
		zap.Int("tps", cfg.Rules.TickRate),
		zap.Float64("timeLimit", cfg.Rules.TimeLimit),
		zap.Bool("cumulative", cfg.Rules.Cumulative))

	hooks := []game.Hooks{}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			log.Warn("sentry disabled", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
			hooks = append(hooks, faultReporter())
			log.Info("agent faults reported to sentry")
		}
	}

	if cfg.Database.DSN != "" {
		st, err := openStore(ctx, cfg.Database, log)
		if err != nil {
			log.Warn("round results will not be saved", zap.Error(err))
		} else {
			defer st.Close()
			hooks = append(hooks, st.Hooks())
		}
	}

	var entries []bots.Entry
	if cfg.Roster.Path != "" {
		var err error
		if entries, err = bots.LoadRoster(cfg.Roster.Path); err != nil {
			return err
		}
	}
	roster, err := bots.Build(entries, bots.Options{
		Seats:       cfg.Rules.NumBots,
		Radius:      cfg.Rules.Radius,
		Seed:        cfg.Roster.Seed,
		CallTimeout: cfg.Roster.CallTimeout,
		Log:         log,
	})
	if err != nil {
		return err
	}
	defer roster.Close()
	log.Info("roster seated", zap.Int("entrants", len(entries)), zap.Int("seats", len(roster.Strategies)))

	calibrator := game.NewCalibrator(log)
	go calibrator.Run(ctx)

	imageCache := assets.NewCache(cfg.Roster.AssetsDir, assets.DefaultMaxImages, log)
	ring := render.NewReplayBuffer(cfg.Arena, cfg.Replay)
	screen := &render.Screen{Ring: ring, Overlay: render.NewOverlay(cfg.Arena, cfg.Rules, log)}
	hub := api.NewWebSocketHub(cfg.Server.CORSOrigins, log)
	hooks = append(hooks, hub.Hooks(), logHooks(log))

	engine, err := game.NewEngine(game.EngineConfig{
		Rules:      cfg.Rules,
		Arena:      cfg.Arena,
		Replay:     cfg.Replay,
		Seed:       cfg.Roster.Seed,
		Logger:     log,
		Canvas:     ring,
		Assets:     imageCache,
		Calibrator: calibrator,
		Hooks:      api.MetricsHooks(game.MergeHooks(hooks...)),
	}, roster.Strategies)
	if err != nil {
		return err
	}
	log.Info("match created", zap.String("match", engine.MatchID().String()))

	if cfg.EventLog.Path != "" {
		if err := engine.StartEventLog(cfg.EventLog.Path); err != nil {
			log.Warn("event log disabled", zap.Error(err))
		} else {
			defer engine.StopEventLog()
			log.Info("event log", zap.String("path", cfg.EventLog.Path))
		}
	}

	debugSrv, err := api.StartDebugServer(cfg.Observability, log)
	if err != nil {
		log.Warn("debug server disabled", zap.Error(err))
	}
	if cfg.Observability.Enabled {
		stopStats := api.StartStatsView(cfg.Observability.StatsViewAddr, log)
		defer stopStats()
	}

	srv := api.NewServer(engine, screen, hub, cfg.Server, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(":" + strconv.Itoa(cfg.Server.Port))
	}()

	engine.Start()
	go reportStats(ctx, engine, imageCache, ring, log)

	log.Info("arena ready, waiting for the start command",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("controlToken", cfg.Server.ControlToken != ""))

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
	}

	engine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("api shutdown", zap.Error(err))
	}
	if debugSrv != nil {
		debugSrv.Shutdown(shutdownCtx)
	}
	return serveErr
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	log.Info("round results saved to postgres")
	return st, nil
}

// reportStats refreshes the gauges that are polled rather than pushed.
func reportStats(ctx context.Context, engine *game.Engine, cache *assets.Cache, ring *render.ReplayBuffer, log *zap.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap := engine.GetSnapshot()
		api.UpdateLiveAgents(snap.LiveCount)
		api.UpdateEventLogStats(engine.EventLogStats())

		hits, misses := cache.Stats()
		frames, replays := ring.GetStats()
		log.Debug("stats",
			zap.Stringer("phase", snap.Phase),
			zap.Int("round", snap.Round),
			zap.Int("live", snap.LiveCount),
			zap.Uint64("assetHits", hits),
			zap.Uint64("assetMisses", misses),
			zap.Uint64("frames", frames),
			zap.Uint64("replays", replays))
	}
}

// logHooks logs match milestones. Faults are logged by the engine itself.
func logHooks(log *zap.Logger) game.Hooks {
	return game.Hooks{
		OnOverheat: func(r game.AgentRecord) {
			log.Info("agent overheated", zap.String("agent", r.Name), zap.Duration("thinkTime", r.ThinkTime))
		},
		OnRoundOver: func(s game.RoundSummary) {
			log.Info("round over",
				zap.Int("round", s.Round),
				zap.String("leader", s.Leader),
				zap.Strings("eliminated", s.Eliminated),
				zap.Bool("final", s.Final))
		},
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
