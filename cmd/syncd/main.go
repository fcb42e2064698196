package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumehealth/lume-sync/api/routes"
	"github.com/lumehealth/lume-sync/internal/health"
	"github.com/lumehealth/lume-sync/internal/mutations"
	"github.com/lumehealth/lume-sync/internal/processor"
	"github.com/lumehealth/lume-sync/internal/reconcile"
	"github.com/lumehealth/lume-sync/internal/records"
	"github.com/lumehealth/lume-sync/internal/session"
	"github.com/lumehealth/lume-sync/internal/uploads"
	"github.com/lumehealth/lume-sync/pkg/backend"
	"github.com/lumehealth/lume-sync/pkg/config"
	"github.com/lumehealth/lume-sync/pkg/db"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
	"github.com/lumehealth/lume-sync/pkg/migrate"
	"github.com/lumehealth/lume-sync/pkg/outbox"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "syncd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "syncd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetrics(promRegistry)
	jobMetrics := metrics.NewJobMetrics(promRegistry)

	backendClient, err := backend.NewClient(cfg.Backend)
	if err != nil {
		logg.Error(context.Background(), "failed to build backend client", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(
		outboxRepo,
		outbox.NewPolicy(cfg.Outbox.BackoffBase, cfg.Outbox.BackoffCap),
		cfg.Outbox.MaxAttempts,
		logg,
	)
	recordsRepo := records.NewRepository(dbClient.DB())

	proc, err := processor.NewService(processor.ServiceParams{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		Queue:     outboxRepo,
		Lifecycle: outboxService,
		Records:   recordsRepo,
		Handlers:  uploads.NewDefaultRegistry(backendClient),
		Metrics:   syncMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sync processor", err)
		os.Exit(1)
	}

	gate, err := session.NewGate(session.GateParams{Runner: proc, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create session gate", err)
		os.Exit(1)
	}

	sessionStore, err := session.NewStore(cfg.Session)
	if err != nil {
		logg.Error(context.Background(), "failed to open session store", err)
		os.Exit(1)
	}

	mutationsService, err := mutations.NewService(dbClient, recordsRepo, outboxService, outboxRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create mutations service", err)
		os.Exit(1)
	}

	healthService, err := health.NewService(recordsRepo, outboxRepo, cfg.Reconcile.StuckAfter)
	if err != nil {
		logg.Error(context.Background(), "failed to create health service", err)
		os.Exit(1)
	}

	staleClaims, err := reconcile.NewStaleClaimsJob(reconcile.StaleClaimsJobParams{
		Logger:     logg,
		Queue:      outboxRepo,
		Metrics:    syncMetrics,
		StuckAfter: cfg.Reconcile.StuckAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stale claims job", err)
		os.Exit(1)
	}
	missingEvents, err := reconcile.NewMissingEventsJob(reconcile.MissingEventsJobParams{
		Logger:   logg,
		DB:       dbClient,
		Queue:    outboxRepo,
		Enqueuer: outboxService,
		Records:  recordsRepo,
		Metrics:  syncMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create missing events job", err)
		os.Exit(1)
	}
	orphanedEvents, err := reconcile.NewOrphanedEventsJob(reconcile.OrphanedEventsJobParams{
		Logger:  logg,
		DB:      dbClient,
		Queue:   outboxRepo,
		Parker:  outboxService,
		Records: recordsRepo,
		Metrics: syncMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orphaned events job", err)
		os.Exit(1)
	}
	retention, err := reconcile.NewRetentionJob(reconcile.RetentionJobParams{
		Logger:    logg,
		DB:        dbClient,
		Queue:     outboxRepo,
		Retention: cfg.Reconcile.CompletedRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retention job", err)
		os.Exit(1)
	}

	reconciler, err := reconcile.NewService(reconcile.ServiceParams{
		Logger:   logg,
		Registry: reconcile.NewRegistry(staleClaims, missingEvents, orphanedEvents, retention),
		Metrics:  jobMetrics,
		Interval: cfg.Reconcile.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"dataDir": cfg.App.DataDir,
	})
	logg.Info(ctx, "starting sync agent")

	if cfg.FeatureFlags.ResumeSession {
		session.Resume(ctx, sessionStore, gate, logg)
	}

	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "reconciler stopped unexpectedly", err)
		}
	}()

	addr := net.JoinHostPort("127.0.0.1", cfg.App.Port)
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			gate,
			sessionStore,
			mutationsService,
			healthService,
			promRegistry,
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", addr), "control api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logg.Error(ctx, "control api stopped unexpectedly", err)
		gate.Shutdown(context.Background())
		os.Exit(1)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "error draining control api", err)
	}
	gate.Shutdown(shutdownCtx)

	logg.Info(ctx, "sync agent shutting down gracefully")
}
