package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/groupspend/groupspend/cmd/groupspend/cli"
	"github.com/groupspend/groupspend/internal/allocation"
	"github.com/groupspend/groupspend/internal/app"
	"github.com/groupspend/groupspend/internal/auth"
	"github.com/groupspend/groupspend/internal/balances"
	"github.com/groupspend/groupspend/internal/events"
	"github.com/groupspend/groupspend/internal/groups"
	"github.com/groupspend/groupspend/internal/observability"
	"github.com/groupspend/groupspend/internal/platform/cache"
	"github.com/groupspend/groupspend/internal/receipts"
	"github.com/groupspend/groupspend/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobs(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	storage, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	var publisher *events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
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

	var scanQueue receipts.ScanQueue
	var jobHandler *jobs.Handler
	if redisClient != nil {
		redisOpts, err := jobs.RedisOpt(cfg.RedisAddr)
		if err != nil {
			return err
		}
		jobClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		scanQueue = jobClient

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, logger)
	}

	receiptsHandler := receipts.NewHandler(logger, services.Receipts, services.Groups, scanQueue, receipts.HandlerConfig{
		MaxImageBytes:    cfg.MaxImageBytes,
		ExtractPerMinute: cfg.ExtractPerMin,
	})
	if redisClient != nil {
		receiptsHandler.WithIdempotency(cache.NewIdempotencyStore(redisClient, 24*time.Hour))
	}
	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Verifier:          auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Metrics:           metrics,
		GroupsHandler:     groups.NewHandler(logger, services.Groups),
		ReceiptsHandler:   receiptsHandler,
		AllocationHandler: allocation.NewHandler(logger, services.Allocation),
		BalancesHandler:   balances.NewHandler(logger, services.Balances),
		JobHandler:        jobHandler,
		Ready:             storage.Ping,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.DataBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	lookback := fs.Duration("lookback", 24*time.Hour, "warmup window for recently active groups")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	switch fs.Arg(0) {
	case "stats", "":
		stats, err := c.InspectQueues()
		if err != nil {
			return err
		}
		return cli.WriteStats(os.Stdout, stats)
	case "warmup":
		info, err := c.TriggerWarmup(ctx, *lookback)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "enqueued %s (%s)\n", info.ID, info.Type)
		return nil
	case "retrying":
		tasks, err := c.ListRetrying(20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(os.Stdout, "%s\tretried=%d\t%s\n", t.ID, t.Retried, t.LastErr)
		}
		return nil
	default:
		return fmt.Errorf("unknown jobs command %q (want stats, warmup or retrying)", fs.Arg(0))
	}
}
