// Package main is the entry point for the Hogwarts Productivity Hub
// presence worker. It wires together the session tracking engine and its
// infrastructure: PostgreSQL for durable stats and crash markers, Redis
// for the gateway presence feed and cache invalidation, the in-memory
// event bus, and the background scheduler that runs the periodic sweep
// and the midnight rollover.
//
// The worker never talks to the chat platform directly. A separate
// gateway process publishes join/leave/switch transitions to Redis and
// mirrors current occupancy into a snapshot hash; this process consumes
// that feed and owns all session state.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/config"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/shared"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/stats"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/infrastructure/messaging"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/infrastructure/persistence/postgres"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/infrastructure/persistence/redis"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/infrastructure/scheduler"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/infrastructure/scheduler/jobs"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/tracker"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Level: logger.ParseLevel(cfg.Observability.LogLevel),
	})
	slogger := newSlogLogger(cfg.Observability.LogLevel)

	log.Info("starting Hogwarts Productivity Hub worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	sessionStore := postgres.NewSessionStore(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = slogger
	eventBus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (presence feed + cache invalidation)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCache, err = redis.NewCache(redisConfigFrom(cfg.Redis))
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer func() {
			log.Info("closing Redis connection...")
			_ = redisCache.Close()
		}()

		invalidator := redis.NewInvalidator(redisCache, log)
		if err := eventBus.Subscribe(shared.EventSessionFinalized, redis.NewFinalizeHandler(invalidator)); err != nil {
			return fmt.Errorf("failed to subscribe cache invalidator: %w", err)
		}
		log.Info("Redis connection established")
	} else {
		log.Warn("Redis disabled: no presence feed, cache invalidation off")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SESSION TRACKER
	// ─────────────────────────────────────────────────────────────────────────
	clock := tracker.NewSystemClock(cfg.App.Location)
	engine := tracker.New(trackerConfigFrom(cfg.Tracker), clock, sessionStore, eventBus, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. STARTUP RECOVERY
	// ─────────────────────────────────────────────────────────────────────────
	// Reconcile crash-left markers against current occupancy before any
	// live event is consumed, so pre-restart minutes are settled exactly
	// once.
	var presence tracker.PresenceSource = noPresence{}
	var feed *redis.PresenceFeed
	if redisCache != nil {
		feed = redis.NewPresenceFeed(redisCache, engine, log)
		presence = feed
	}

	log.Info("running startup recovery...")
	report, err := engine.Recover(ctx, presence)
	if err != nil {
		if !tracker.IsPartialRecovery(err) {
			return fmt.Errorf("startup recovery failed: %w", err)
		}
		log.Warn("recovery left users unreconciled; their markers will be retried next restart",
			logger.Int("failed", len(report.Failed)))
	}
	log.Info("startup recovery complete",
		logger.Int("rebuilt", report.Rebuilt),
		logger.Int("capped", report.Capped),
		logger.Int("estimated_closes", report.EstimatedCloses),
		logger.Int("fresh_starts", report.FreshStarts))

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SCHEDULER (sweep + midnight rollover)
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:   slogger,
		Timezone: cfg.App.Location,
	})

	if cfg.Scheduler.Enabled {
		sweepJob := jobs.NewSweepSessionsJob(engine, slogger)
		if err := sched.Register(sweepJob, scheduler.NewIntervalSchedule(cfg.Scheduler.SweepInterval)); err != nil {
			return fmt.Errorf("failed to register sweep job: %w", err)
		}

		rolloverJob := jobs.NewMidnightRolloverJob(engine, cfg.App.Location, slogger)
		if err := sched.Register(rolloverJob, scheduler.NewMidnightSchedule(cfg.App.Location)); err != nil {
			return fmt.Errorf("failed to register rollover job: %w", err)
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	} else {
		log.Warn("scheduler disabled: grace windows and midnight rollover will not fire")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. PRESENCE FEED
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	if feed != nil {
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("presence feed: %w", err)
			}
		}()
	}

	snap := engine.Snapshot()
	log.Info("Hogwarts Productivity Hub worker is running",
		logger.Int("active_sessions", snap.Active),
		logger.Int("grace_entries", snap.Grace))

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("service error", logger.Err(err))
		return err
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...",
		logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	// One last sweep so nothing sits past its deadline over the restart.
	// Sessions still open simply keep their markers and are recovered on
	// the next boot.
	swept := engine.Sweep(shutdownCtx)
	if len(swept) > 0 {
		log.Info("final sweep settled sessions", logger.Int("count", len(swept)))
	}

	return nil
}

// noPresence is the snapshot source used when Redis is disabled: every
// marker is treated as absent and settled with an estimated close.
type noPresence struct{}

func (noPresence) CurrentlyPresent(context.Context) ([]tracker.PresenceEntry, error) {
	return nil, nil
}

func trackerConfigFrom(tc config.TrackerConfig) tracker.Config {
	cfg := tracker.DefaultConfig()
	cfg.GraceWindow = tc.GraceWindow
	cfg.StaleThreshold = tc.StaleThreshold
	cfg.MaxSessionMinutes = tc.MaxSessionMinutes
	cfg.MaxRecoverableGap = tc.MaxRecoverableGap
	cfg.ShardCount = tc.ShardCount
	cfg.Accrual = stats.Accrual{
		PointsPerHour:           tc.PointsPerHour,
		RoundUpThresholdMinutes: tc.RoundUpThreshold,
	}
	if len(tc.NoGraceRooms) > 0 {
		cfg.NoGraceRooms = make(map[session.RoomID]bool, len(tc.NoGraceRooms))
		for _, room := range tc.NoGraceRooms {
			cfg.NoGraceRooms[session.RoomID(room)] = true
		}
	}
	return cfg
}

func redisConfigFrom(rc config.RedisConfig) redis.Config {
	cfg := redis.DefaultConfig()
	cfg.Host = rc.Host
	cfg.Port = rc.Port
	cfg.Password = rc.Password
	cfg.DB = rc.DB
	cfg.PoolSize = rc.PoolSize
	cfg.MinIdleConns = rc.MinIdleConns
	cfg.DialTimeout = rc.DialTimeout
	cfg.ReadTimeout = rc.ReadTimeout
	cfg.WriteTimeout = rc.WriteTimeout
	return cfg
}

func newSlogLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
