// Package main is the entry point of the medal engine worker.
//
// The worker:
//   - reconciles medals whenever a check-in is recorded
//   - sweeps active challenge weeks on an interval to catch lost events
//   - announces challenge results the day after a challenge ends
//   - serves the read API, health checks and Prometheus metrics
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fitness-challenge/medal-engine/config"
	"github.com/fitness-challenge/medal-engine/internal/application/command"
	"github.com/fitness-challenge/medal-engine/internal/application/eventhandler"
	"github.com/fitness-challenge/medal-engine/internal/application/query"
	"github.com/fitness-challenge/medal-engine/internal/domain/medal"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/internal/domain/standings"
	"github.com/fitness-challenge/medal-engine/internal/infrastructure/external/points"
	"github.com/fitness-challenge/medal-engine/internal/infrastructure/messaging"
	"github.com/fitness-challenge/medal-engine/internal/infrastructure/metrics"
	"github.com/fitness-challenge/medal-engine/internal/infrastructure/persistence/postgres"
	"github.com/fitness-challenge/medal-engine/internal/infrastructure/persistence/redis"
	"github.com/fitness-challenge/medal-engine/internal/infrastructure/scheduler"
	"github.com/fitness-challenge/medal-engine/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/fitness-challenge/medal-engine/internal/interface/http"
	"github.com/fitness-challenge/medal-engine/internal/interface/http/handlers"
	"github.com/fitness-challenge/medal-engine/pkg/circuitbreaker"
	"github.com/fitness-challenge/medal-engine/pkg/logger"
)

// eventBus is satisfied by both the in-memory and the Redis bus.
type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

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
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	appLog := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.IsDevelopment(),
	}).With(logger.String("app", cfg.App.Name), logger.String("version", cfg.App.Version))

	log.Info("starting medal engine worker",
		"env", cfg.App.Environment,
		"timezone", cfg.App.Timezone,
		"version", cfg.App.Version,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. POSTGRES
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if cfg.Database.Migrate {
		applied, err := postgres.NewMigrator(dbConn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", "applied", applied)
	}

	challenges := postgres.NewChallengeRepository(dbConn)
	ledger := postgres.NewLedgerRepository(dbConn)
	store := postgres.NewMedalStore(dbConn)

	var pointsSource standings.PointsSource = postgres.NewPointsRepository(dbConn)
	if cfg.Engine.PointsServiceURL != "" {
		pointsCfg := points.DefaultClientConfig(cfg.Engine.PointsServiceURL)
		pointsCfg.APIKey = cfg.Engine.PointsServiceAPIKey
		pointsCfg.Logger = log
		pointsSource = points.NewClient(pointsCfg)
		log.Info("reading points from the scoring service", "url", cfg.Engine.PointsServiceURL)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (results cache and cross-process events)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisClient  *goredis.Client
		invalidator  command.ResultsInvalidator
		resultsCache query.ResultsCache
	)
	if !cfg.Redis.Disabled {
		redisClient, err = redis.NewClient(redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("redis unavailable, running without cache and with a local event bus", "error", err)
		} else {
			defer redisClient.Close()
			cache := redis.NewResultsCache(redisClient, cfg.Engine.ResultsCacheTTL)
			invalidator = cache
			resultsCache = cache
			log.Info("redis connection established", "addr", redisClient.Options().Addr)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. METRICS & EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New()

	localBus := messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: cfg.EventBus.Workers,
		Logger:         log,
		Observer:       m,
	}
	var bus eventBus
	if redisClient != nil {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(redisClient),
			ChannelName:    cfg.EventBus.RedisChannel,
			LocalBusConfig: localBus,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		bus = redisBus
	} else {
		bus = messaging.NewInMemoryEventBus(localBus)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	catalog := medal.DefaultCatalog()

	reconcile := command.NewReconcileMedalsHandler(
		store,
		catalog,
		medal.NewChallengeLocks(),
		bus,
		invalidator,
		m,
		appLog,
		command.ReconcileMedalsHandlerConfig{MaxAttempts: cfg.Engine.MaxAttempts},
	)

	breaker := circuitbreaker.New("points",
		circuitbreaker.WithFailureThreshold(cfg.Engine.PointsBreakerThreshold),
		circuitbreaker.WithTimeout(cfg.Engine.PointsBreakerTimeout),
		circuitbreaker.WithOnStateChange(m.BreakerStateChanged),
	)
	results := query.NewGetChallengeResultsHandler(
		challenges, ledger, pointsSource, breaker, resultsCache, catalog,
		clubsFromThresholds(cfg.Engine.ClubThresholds), appLog,
	)
	medalLog := query.NewGetMedalLogHandler(challenges, ledger)
	latest := query.NewFindLatestEndedChallengeHandler(challenges, cfg.App.Location)

	onCheckin := eventhandler.NewOnCheckinRecordedHandler(reconcile, log,
		eventhandler.CheckinRecordedConfig{Timeout: cfg.Engine.ReconcileTimeout})
	if err := bus.Subscribe(shared.EventCheckinRecorded, onCheckin.Handle); err != nil {
		return fmt.Errorf("failed to subscribe check-in handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
		Observer:   m,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	sweep := jobs.NewReconcileActiveChallengesJob(challenges, reconcile, cfg.App.Location, log)
	publish := jobs.NewPublishChallengeResultsJob(challenges, reconcile, results, bus, cfg.App.Location, log)

	if cfg.Scheduler.Enabled {
		if err := sched.Register(sweep, scheduler.Every(cfg.Scheduler.SweepInterval)); err != nil {
			return fmt.Errorf("failed to register sweep: %w", err)
		}
		daily := scheduler.DailyAt(uint(cfg.Scheduler.ResultsHour), uint(cfg.Scheduler.ResultsMinute))
		if err := sched.Register(publish, daily); err != nil {
			return fmt.Errorf("failed to register results job: %w", err)
		}
		sched.Start()
		log.Info("scheduler started",
			"sweep_interval", cfg.Scheduler.SweepInterval.String(),
			"results_at", fmt.Sprintf("%02d:%02d", cfg.Scheduler.ResultsHour, cfg.Scheduler.ResultsMinute),
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP (read API, health, metrics)
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("postgres", handlers.NewPingCheck(dbConn))
	if redisClient != nil {
		health.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Port = cfg.Observability.HTTPPort
	deps := httpapi.Dependencies{
		Results:  results,
		MedalLog: medalLog,
		Latest:   latest,
		Health:   health,
		Logger:   appLog,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = m.Handler()
	}
	server := httpapi.NewServer(httpCfg, deps)
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	if err := sched.Stop(); err != nil {
		log.Error("scheduler shutdown failed", "error", err)
	}

	log.Info("shutdown completed")
	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures slog for the infrastructure packages.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("app", cfg.App.Name)
	slog.SetDefault(log)
	return log
}

func slogLevel(s string) slog.Level {
	switch logger.ParseLevel(s) {
	case logger.LevelDebug:
		return slog.LevelDebug
	case logger.LevelWarn:
		return slog.LevelWarn
	case logger.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// clubsFromThresholds names a club per threshold; thresholds arrive sorted
// highest first.
func clubsFromThresholds(thresholds []float64) []standings.Club {
	if len(thresholds) == 0 {
		return standings.DefaultClubs()
	}
	clubs := make([]standings.Club, 0, len(thresholds))
	for i, t := range thresholds {
		emoji := "⭐"
		if i == 0 {
			emoji = "🌟"
		}
		clubs = append(clubs, standings.Club{
			Name:      fmt.Sprintf("club_%g", t),
			Label:     fmt.Sprintf("Club %g", t),
			Emoji:     emoji,
			Threshold: t,
		})
	}
	return clubs
}
