package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/groupspend/groupspend/internal/app"
	"github.com/groupspend/groupspend/internal/events"
	jobmetrics "github.com/groupspend/groupspend/internal/jobs"
	"github.com/groupspend/groupspend/internal/observability"
	"github.com/groupspend/groupspend/internal/platform/cache"
	"github.com/groupspend/groupspend/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	storage, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer storage.Close()

	// The worker cannot consume tasks without Redis, so unlike the server it
	// fails fast.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var publisher *events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Error("connect broker", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("broker close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, storage, app.ServiceDeps{
		Redis:     redisClient,
		Publisher: publisher,
		Metrics:   metrics,
	}, logger)
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	if cfg.WorkerMetricsAddr != "" {
		go serveMetrics(ctx, cfg.WorkerMetricsAddr, metrics, logger)
	}

	extractJob := jobs.NewReceiptExtractJob(services.Receipts, logger, jobMetrics)
	warmupJob := jobs.NewBalancesWarmupJob(storage.Receipts, services.Balances, logger, jobMetrics)

	warmupTask, err := jobs.NewBalancesWarmupTask(0)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("redis address", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReceiptExtract, Handler: extractJob.Handle},
			{Type: jobs.TaskBalancesWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// serveMetrics exposes the worker's registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, metrics *observability.Metrics, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("worker metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("worker metrics", slog.Any("error", err))
	}
}
