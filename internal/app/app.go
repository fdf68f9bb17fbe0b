// Package app wires the engine together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/amplify/internal/abtest"
	"github.com/jonesrussell/amplify/internal/api"
	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/collector"
	"github.com/jonesrussell/amplify/internal/config"
	"github.com/jonesrussell/amplify/internal/database"
	"github.com/jonesrussell/amplify/internal/engagement"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/notify"
	"github.com/jonesrussell/amplify/internal/platform"
	"github.com/jonesrussell/amplify/internal/producer"
	"github.com/jonesrussell/amplify/internal/publisher"
	"github.com/jonesrussell/amplify/internal/scheduler"
	"github.com/jonesrussell/amplify/internal/telemetry"
	"github.com/jonesrussell/amplify/internal/viral"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	pingTimeout            = 5 * time.Second

	clickRateLimit  = 120
	clickRateWindow = time.Minute
)

// App holds the assembled engine.
type App struct {
	config      *config.Config
	logger      logger.Logger
	db          *sqlx.DB
	redisClient *redis.Client

	server          *api.Server
	dispatchWorker  *scheduler.Worker
	collectorWorker *collector.Worker
	sessionWorker   *engagement.SessionWorker
	viralMonitor    *viral.Monitor

	version string
}

// Options contains configuration for creating a new App.
type Options struct {
	ConfigPath string
	Version    string
}

// New loads configuration and builds every component.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "amplify"),
		logger.String("version", opts.Version),
	)

	db, err := database.NewPostgresConnection(cfg.Database.DSN())
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		_ = db.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to redis: %w", pingErr)
	}

	a := &App{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		redisClient: redisClient,
		version:     opts.Version,
	}
	a.build()
	return a, nil
}

// build assembles the component graph. Split from New so the wiring reads
// top to bottom.
func (a *App) build() {
	cfg := a.config
	clk := clock.NewReal()
	metrics := telemetry.NewMetrics()

	contentRepo := database.NewContentRepository(a.db)
	metricsRepo := database.NewMetricsRepository(a.db)
	experimentRepo := database.NewExperimentRepository(a.db)
	engagementRepo := database.NewEngagementRepository(a.db)

	notifier := notify.New(cfg.Notify.WebhookURL, cfg.Notify.Timeout, a.logger)

	sender := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Token, cfg.Platform.Timeout, a.logger)
	pub := publisher.New(sender, contentRepo, publisher.Config{
		MaxAttempts:    cfg.Publisher.MaxAttempts,
		AttemptTimeout: cfg.Publisher.AttemptTimeout,
		BackoffBase:    cfg.Publisher.BackoffBase,
		BackoffCap:     cfg.Publisher.BackoffCap,
		SendsPerMinute: cfg.Publisher.SendsPerMinute,
	}, clk, a.logger, metrics)

	sched := scheduler.NewService(contentRepo, clk, cfg.Scheduler.GraceWindow, cfg.Publisher.MaxAttempts, a.logger)
	a.dispatchWorker = scheduler.NewWorker(sched, pub, experimentRepo, engagementRepo, notifier, scheduler.WorkerConfig{
		TickInterval:     cfg.Scheduler.TickInterval,
		BatchSize:        cfg.Scheduler.BatchSize,
		StaleDispatchAge: cfg.Scheduler.StaleDispatchAge,
	}, clk, a.logger, metrics)

	sources := []collector.Source{
		collector.NewPlatformSource(cfg.Platform.BaseURL, cfg.Platform.Token, cfg.Collector.SourceTimeout),
		collector.NewClickSource(metricsRepo),
	}
	if cfg.Collector.AnalyticsURL != "" {
		sources = append(sources, collector.NewAnalyticsSource(cfg.Collector.AnalyticsURL, cfg.Collector.SourceTimeout))
	}
	coll := collector.New(sources, metricsRepo, cfg.Collector.SourceTimeout, clk, a.logger, metrics)

	experiments := abtest.NewEngine(experimentRepo, contentRepo, metricsRepo, sched, notifier, clk, abtest.Config{
		DefaultConfidenceLevel: cfg.Experiment.ConfidenceLevel,
		ForceWinnerOnTimeout:   cfg.Experiment.ForceWinnerOnTimeout,
	}, a.logger, metrics)

	a.collectorWorker = collector.NewWorker(coll, contentRepo, experiments, cfg.Collector.Interval, clk, a.logger, metrics)

	bursts := engagement.NewAuthorBurst(a.redisClient, cfg.Engagement.SpamBurstWindow, a.logger)
	replies := engagement.NewReplyDedup(a.redisClient, cfg.Engagement.ReplyDedupTTL, a.logger)
	manager := engagement.NewManager(
		engagementRepo, contentRepo,
		engagement.NewClassifier(), engagement.NewResponsePolicy(),
		pub, notifier, bursts, replies,
		engagement.Config{
			SpamConfidence: cfg.Engagement.SpamConfidence,
			SpamBurstCount: cfg.Engagement.SpamBurstCount,
		}, clk, a.logger, metrics)
	a.sessionWorker = engagement.NewSessionWorker(engagementRepo, engagement.DefaultPhaseSchedule(),
		engagement.SessionWorkerConfig{}, clk, a.logger)

	a.viralMonitor = viral.NewMonitor(metricsRepo, engagementRepo, contentRepo, sched, a.redisClient, viral.Config{
		Interval:       cfg.Viral.Interval,
		TrailingWindow: cfg.Viral.TrailingWindow,
		Cooldown:       cfg.Viral.Cooldown,
		Thresholds: viral.Thresholds{
			ReachGrowthRate:   cfg.Viral.ReachGrowthRate,
			EngagementSpike:   cfg.Viral.EngagementSpike,
			CommentsPerMinute: cfg.Viral.CommentsPerMinute,
		},
	}, clk, a.logger, metrics)

	var prod producer.Producer
	if cfg.Producer.Enabled {
		prod = producer.NewClient(cfg.Producer.URL, cfg.Producer.Timeout)
	}

	a.server = api.NewServer(cfg.Server.Address, cfg.Debug, api.Handlers{
		Content:     api.NewContentHandler(sched, prod, a.logger),
		Experiments: api.NewExperimentHandler(experiments, a.logger),
		Events:      api.NewEventHandler(manager, a.logger),
		Clicks:      api.NewClickHandler(metricsRepo, clk, a.logger),
		Dashboard:   api.NewDashboardHandler(sched, metricsRepo, experimentRepo, a.logger),
		Health:      api.NewHealthHandler(a.version, a.db, a.redisClient),
		Metrics:     metrics,
	}, api.RouteConfig{
		JWTSecret:       cfg.Server.JWTSecret,
		ClickRateLimit:  clickRateLimit,
		ClickRateWindow: clickRateWindow,
	}, a.logger)
}

// Run starts every worker and the HTTP server, then blocks until a shutdown
// signal or a server failure.
func (a *App) Run(ctx context.Context) error {
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	a.dispatchWorker.Start(workerCtx)
	a.collectorWorker.Start(workerCtx)
	a.sessionWorker.Start(workerCtx)
	a.viralMonitor.Start(workerCtx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		a.logger.Info("shutting down gracefully", logger.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("http server failed", logger.Error(err))
			runErr = err
		}
	case <-ctx.Done():
	}

	a.shutdown(workerCancel)
	return runErr
}

func (a *App) shutdown(workerCancel context.CancelFunc) {
	workerCancel()

	a.viralMonitor.Stop()
	a.sessionWorker.Stop()
	a.collectorWorker.Stop()
	a.dispatchWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("server shutdown error", logger.Error(err))
	}

	a.logger.Info("engine stopped")
}

// Close releases connections.
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis client", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close postgres connection", logger.Error(err))
		}
	}
	return a.logger.Sync()
}

// Logger returns the application logger.
func (a *App) Logger() logger.Logger {
	return a.logger
}
