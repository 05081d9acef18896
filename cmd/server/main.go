package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gigmarket/notify-pipeline/internal/api"
	"github.com/gigmarket/notify-pipeline/internal/config"
	"github.com/gigmarket/notify-pipeline/internal/db"
	"github.com/gigmarket/notify-pipeline/internal/delivery"
	"github.com/gigmarket/notify-pipeline/internal/directory"
	"github.com/gigmarket/notify-pipeline/internal/metrics"
	"github.com/gigmarket/notify-pipeline/internal/provider"
	"github.com/gigmarket/notify-pipeline/internal/ratelimiter"
	"github.com/gigmarket/notify-pipeline/internal/repository"
	"github.com/gigmarket/notify-pipeline/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repo := repository.NewPgQueueRepository(pool)
	resolver := directory.NewPgResolver(pool)
	inbox := directory.NewPgInboxStore(pool)
	flags := directory.FlagsFromConfig(cfg)
	limiter := ratelimiter.New(cfg.RateLimit)

	providers := []provider.Provider{
		provider.NewPushProvider(cfg.PushEndpoint, cfg.PushServerKey, cfg.PushTimeout),
		provider.NewEmailProvider(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.EmailFrom),
	}

	orch := delivery.NewOrchestrator(providers, resolver, flags, inbox, repo, limiter, logger)

	// ---- worker loop ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	w := worker.New(repo, orch, worker.Config{
		BatchSize:     cfg.WorkerBatchSize,
		PollInterval:  cfg.WorkerPollInterval,
		BusyDelay:     cfg.WorkerBusyDelay,
		ErrorBackoff:  cfg.WorkerErrorBackoff,
		MaxIterations: cfg.WorkerMaxIterations,
	}, logger, m.WorkerHooks())
	w.Start(workerCtx)

	go m.RunQueueDepth(workerCtx, repo, cfg.MetricsInterval, logger)

	// ---- HTTP server ----
	router := api.NewRouter(repo, inbox, w, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal the worker to stop: cooperative, never interrupts an
	// in-flight delivery or its result write-back.
	w.Stop()

	// 3. Wait (bounded) for the in-flight item to finish. Only then cancel
	// the worker context, as the force-exit fallback.
	if err := w.Wait(shutdownCtx); err != nil {
		logger.Warn("worker did not stop within grace period, forcing exit", zap.Error(err))
	}
	cancelWorkers()

	logger.Info("server stopped cleanly")
}
