package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/api"
	"github.com/hackgods/clinica/internal/appointment"
	"github.com/hackgods/clinica/internal/audit"
	"github.com/hackgods/clinica/internal/auth"
	"github.com/hackgods/clinica/internal/billing"
	"github.com/hackgods/clinica/internal/clock"
	"github.com/hackgods/clinica/internal/config"
	"github.com/hackgods/clinica/internal/db"
	"github.com/hackgods/clinica/internal/logging"
	"github.com/hackgods/clinica/internal/medical"
	"github.com/hackgods/clinica/internal/observability/metrics"
	"github.com/hackgods/clinica/internal/observability/tracing"
	"github.com/hackgods/clinica/internal/patient"
	redisclient "github.com/hackgods/clinica/internal/redis"
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

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("timezone", cfg.ClinicTimezone.String()),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(rootCtx, tracing.Config{
		ServiceName:    "clinica-api",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal("tracing init error", zap.Error(err))
	}

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clk := clock.Real()

	auditStore := audit.NewPgStore(pgPool)
	recorderOpts := []audit.Option{audit.WithClock(clk), audit.WithMetrics(m)}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, logger)
		if err != nil {
			logger.Fatal("kafka publisher error", zap.Error(err))
		}
		defer publisher.Close()
		recorderOpts = append(recorderOpts, audit.WithPublisher(publisher))
		logger.Info("publishing audit events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.AuditTopic))
	}
	recorder := audit.NewStoreRecorder(auditStore, logger, recorderOpts...)

	scheduling := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait),
		cfg,
		appointment.Deps{Audit: recorder, Clock: clk, Logger: logger, Metrics: m},
	)
	ledger := billing.NewService(billing.NewPgRepository(pgPool), billing.Deps{
		Audit:    recorder,
		Clock:    clk,
		Logger:   logger,
		Metrics:  m,
		Location: cfg.ClinicTimezone,
	})
	patients := patient.NewService(patient.NewPgRepository(pgPool), patient.Deps{
		Audit:    recorder,
		Clock:    clk,
		Logger:   logger,
		Location: cfg.ClinicTimezone,
	})
	attentions := medical.NewService(medical.NewPgRepository(pgPool), scheduling, medical.Deps{
		Audit:  recorder,
		Clock:  clk,
		Logger: logger,
	})
	authSvc := auth.NewService(
		auth.NewPgRepository(pgPool),
		auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL, clk),
		redisclient.NewSessionStore(rdb),
		auth.Policy{MaxAttempts: cfg.LoginMaxAttempts, Lockout: cfg.LoginLockout},
		recorder,
		clk,
		logger,
	)

	redisPing := api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

	router := api.NewRouter(api.RouterConfig{
		Scheduling:     scheduling,
		Billing:        ledger,
		Patients:       patients,
		Medical:        attentions,
		Auth:           authSvc,
		Audit:          auditStore,
		Health:         api.NewHealthHandler(pgPool, redisPing, cfg.Env, version),
		Metrics:        m,
		MetricsHandler: metrics.Handler(reg),
		Logger:         logger,
		Location:       cfg.ClinicTimezone,
		CORSOrigins:    cfg.CORSOrigins,
		ServiceName:    "clinica-api",
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Warn("audit flush error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", zap.Error(err))
	}

	logger.Info("api-server stopped", zap.String("audit_breaker", recorder.State()))
}
