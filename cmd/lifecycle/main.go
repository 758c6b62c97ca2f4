package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/phase-lifecycle-go/internal/config"
	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/handler"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/cache"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/clock"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/memstore"
	mongostore "github.com/boddenberg/phase-lifecycle-go/internal/infra/mongo"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/observability"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/resilience"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/storage"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/supabase"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"
	"github.com/boddenberg/phase-lifecycle-go/internal/program"
	"github.com/boddenberg/phase-lifecycle-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Config ---
	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.Log.Level)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("use_mongo", cfg.Mongo.URI != ""),
		zap.Bool("use_supabase", cfg.Supabase.URL != ""),
		zap.Bool("archive_runs", cfg.S3.Bucket != ""),
		zap.Duration("scheduler_interval", cfg.Scheduler.Interval),
		zap.Int("scheduler_workers", cfg.Scheduler.Workers),
		zap.Duration("outbox_interval", cfg.Scheduler.OutboxInterval),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.Int("max_retries", cfg.Resilience.MaxRetries),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTel.Endpoint, "phase-lifecycle")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Program catalog ---
	catalog := program.DefaultCatalog()
	if cfg.Program.CatalogFile != "" {
		data, err := os.ReadFile(cfg.Program.CatalogFile)
		if err != nil {
			logger.Fatal("failed to read tier catalog", zap.String("path", cfg.Program.CatalogFile), zap.Error(err))
		}
		if catalog, err = program.LoadCatalog(data); err != nil {
			logger.Fatal("invalid tier catalog", zap.String("path", cfg.Program.CatalogFile), zap.Error(err))
		}
		logger.Info("tier catalog loaded", zap.String("path", cfg.Program.CatalogFile))
	}

	// --- Store ---
	var store port.PhaseStore
	if cfg.Mongo.URI != "" {
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			logger.Fatal("failed to connect to mongo", zap.Error(err))
		}
		defer mongostore.Disconnect(client)

		ms := mongostore.NewStore(client, cfg.Mongo.Database, logger)
		if err := mongostore.EnsureIndexes(ctx, ms.Database()); err != nil {
			logger.Fatal("failed to ensure mongo indexes", zap.Error(err))
		}
		logger.Info("using mongo as phase store", zap.String("database", cfg.Mongo.Database))
		store = ms
	} else {
		logger.Warn("mongo not configured, using in-memory phase store: state is lost on restart and scheduler units run one at a time")
		store = memstore.New()
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.Resilience.MaxRetries,
		InitialBackoff: cfg.Resilience.InitialBackoff,
		MaxConcurrency: cfg.Resilience.MaxConcurrency,
	}

	// --- Notifier ---
	var notifier port.Notifier
	if cfg.Supabase.URL != "" {
		httpClient := &http.Client{Timeout: cfg.Supabase.HTTPTimeout}
		cb := resilience.NewCircuitBreaker("supabase")
		notifier = supabase.NewClient(httpClient, cfg.Supabase.URL, cfg.Supabase.ServiceKey, cb, resilienceCfg, logger)
		logger.Info("notifications delivered through supabase", zap.String("supabase_url", cfg.Supabase.URL))
	} else {
		logger.Warn("supabase not configured, notifications are only logged")
		notifier = service.NewLogNotifier(logger)
	}

	// --- Services ---
	clk := clock.System{}
	dispatcher := service.NewNotificationDispatcher(store, notifier, clk,
		cfg.Resilience.MaxConcurrency, cfg.Scheduler.OutboxBatch, metrics, logger)

	schedulerOpts := []service.SchedulerOption{service.WithDispatcher(dispatcher)}
	if cfg.S3.Bucket != "" {
		s3Client, err := storage.NewS3Client(ctx, storage.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			logger.Fatal("failed to build s3 client", zap.Error(err))
		}
		schedulerOpts = append(schedulerOpts,
			service.WithArchiver(storage.NewS3Archiver(s3Client, cfg.S3.Bucket, cfg.S3.Prefix, logger)))
		logger.Info("scheduler run reports archived to s3", zap.String("bucket", cfg.S3.Bucket))
	}

	scheduler := service.NewTransitionScheduler(store, program.NewBlueprint(catalog), clk,
		cfg.Scheduler.Workers, metrics, logger, schedulerOpts...)
	projections := cache.New[[]domain.SessionPlan](cfg.Cache.TTL)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret not set, admin routes reject every request")
	}

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Store:      store,
		Scheduler:  scheduler,
		Override:   service.NewOverrideService(store, catalog, clk, resilienceCfg, metrics, logger),
		Onboarding: service.NewOnboardingService(store, catalog, clk, metrics, logger),
		Progress:   service.NewProgressService(store, catalog, clk, projections, metrics, logger),
	}, cfg.Auth.JWTSecret, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// --- Scheduler loop ---
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx, cfg.Scheduler.Interval, cfg.Scheduler.RunOnStart)
	}()

	// --- Outbox dispatcher loop ---
	go dispatcher.Start(ctx, cfg.Scheduler.OutboxInterval)

	// --- Graceful shutdown ---
	<-ctx.Done()
	logger.Info("server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler run still in progress at shutdown")
	}

	logger.Info("server stopped")
}
