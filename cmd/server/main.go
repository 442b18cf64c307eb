// Command server starts the task scheduler: the management HTTP API plus
// the polling, reaping and retention loops for this replica.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/adapter/alert"
	"github.com/fairyhunter13/task-scheduler/internal/adapter/client"
	httpserver "github.com/fairyhunter13/task-scheduler/internal/adapter/httpserver"
	"github.com/fairyhunter13/task-scheduler/internal/adapter/observability"
	"github.com/fairyhunter13/task-scheduler/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/task-scheduler/internal/app"
	"github.com/fairyhunter13/task-scheduler/internal/config"
	"github.com/fairyhunter13/task-scheduler/internal/domain"
	"github.com/fairyhunter13/task-scheduler/internal/engine"
	"github.com/fairyhunter13/task-scheduler/internal/handler"
	"github.com/fairyhunter13/task-scheduler/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL, cfg.ExecutorPoolSize)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	taskRepo := postgres.NewTaskRepo(pool)
	logRepo := postgres.NewLogRepo(pool)
	mutexRepo := postgres.NewMutexRepo(pool)

	var alerter domain.Alerter = alert.NopAlerter{}
	if cfg.AlertingEnabled() {
		alerter = alert.NewSlackAlerter(cfg.AlertWebhookURL, cfg.AlertChannel, cfg.DashboardBaseURL)
		slog.Info("alerting enabled", slog.String("channel", cfg.AlertChannel))
	}

	orders := client.NewOrderClient(cfg.OrderServiceURL, cfg.ClientTimeout)
	payments := client.NewPaymentClient(cfg.PaymentServiceURL, cfg.ClientTimeout)
	webhooks := client.NewWebhookClient(cfg.ClientTimeout)

	registry := engine.NewRegistry(
		handler.NewOrderCancelHandler(orders),
		handler.NewPaymentRefundHandler(payments),
		handler.NewPaymentPartialRefundHandler(payments),
		handler.NewPaymentVoidHandler(payments),
		handler.NewWebhookHandler(webhooks),
	)

	instanceID := engine.InstanceID()
	executor := engine.NewExecutor(
		taskRepo, logRepo, registry, alerter,
		instanceID, cfg.LockDuration,
		cfg.DefaultMaxRetries, cfg.DefaultRetryDelayHours,
	)
	poller := engine.NewPoller(
		taskRepo, mutexRepo, executor, alerter,
		instanceID, cfg.PollInterval, cfg.BatchSize, cfg.ExecutorPoolSize,
	)
	reaper := engine.NewReaper(
		taskRepo, mutexRepo, alerter,
		instanceID, cfg.StaleCheckInterval, cfg.StaleTaskThreshold,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); poller.Run(ctx) }()
	go func() { defer wg.Done(); reaper.Run(ctx) }()

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(taskRepo, logRepo, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	taskSvc := usecase.NewTaskService(taskRepo, logRepo, executor, cfg)
	dbCheck := func(ctx context.Context) error { return pool.Ping(ctx) }
	srv := httpserver.NewServer(cfg, taskSvc, dbCheck)
	handlerChain := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handlerChain,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting",
			slog.Int("port", cfg.Port),
			slog.String("instance", instanceID))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	// Let in-flight task batches drain before exiting.
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		slog.Info("background loops drained")
	case <-time.After(cfg.ShutdownGrace):
		slog.Warn("shutdown grace elapsed with work still in flight")
	}
}
