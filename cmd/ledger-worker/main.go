package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/api"
	"github.com/hackgods/clinica/internal/billing"
	"github.com/hackgods/clinica/internal/config"
	"github.com/hackgods/clinica/internal/db"
	"github.com/hackgods/clinica/internal/jobs"
	"github.com/hackgods/clinica/internal/logging"
	"github.com/hackgods/clinica/internal/observability/metrics"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("ledger-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.ReceivablesCron),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	ledger := billing.NewService(billing.NewPgRepository(pgPool), billing.Deps{
		Logger:   logger,
		Metrics:  m,
		Location: cfg.ClinicTimezone,
	})
	job := jobs.NewReceivablesJob(ledger, m, logger)

	// Run once at startup so the gauges are populated before the first tick
	if _, err := job.RunOnce(rootCtx); err != nil {
		logger.Error("initial receivables run failed", zap.Error(err))
	}

	scheduler := jobs.NewScheduler(cfg.ClinicTimezone, logger)
	err = scheduler.Add(rootCtx, cfg.ReceivablesCron, "receivables", func(ctx context.Context) error {
		_, err := job.RunOnce(ctx)
		return err
	})
	if err != nil {
		logger.Fatal("schedule receivables job", zap.Error(err))
	}
	scheduler.Start()

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	health := api.NewHealthHandler(pgPool, nil, cfg.Env, version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	srv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutdown signal received, stopping ledger-worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}
	logger.Info("ledger-worker stopped")
}
