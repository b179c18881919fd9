package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskHandler routes one task type.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration schedules Task on a cron Spec evaluated in UTC.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig configures NewWorker. Concurrency defaults to 5.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// queueWeights gives scans three slots for every default task.
var queueWeights = map[string]int{
	QueueScans:   3,
	QueueDefault: 1,
}

// Worker consumes the scan and default queues and, when cron entries are
// configured, runs the periodic scheduler alongside.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}

	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, fmt.Errorf("jobs: incomplete handler registration %q", h.Type)
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	for _, entry := range cfg.Cron {
		if entry.Task == nil {
			return nil, fmt.Errorf("jobs: cron %q has no task", entry.Spec)
		}
	}

	w := &Worker{mux: mux, logger: logger}
	w.server = asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queueWeights,
		// Archived-without-retry tasks are not counted as queue failures.
		IsFailure: func(err error) bool { return !errors.Is(err, asynq.SkipRetry) },
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			logger.WarnContext(ctx, "task failed",
				slog.String("type", task.Type()),
				slog.Int("retry", retried),
				slog.Any("error", err))
		}),
	})

	if len(cfg.Cron) == 0 {
		return w, nil
	}
	w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
	for _, entry := range cfg.Cron {
		if _, err := w.scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
			return nil, fmt.Errorf("jobs: register cron %q: %w", entry.Spec, err)
		}
	}
	return w, nil
}

// Run starts the server and scheduler, then blocks until ctx is cancelled
// and both have drained. It returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return errors.New("jobs: worker not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start server: %w", err)
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return fmt.Errorf("jobs: start scheduler: %w", err)
		}
	}
	w.logger.Info("worker started", slog.Bool("scheduler", w.scheduler != nil))

	<-ctx.Done()
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	w.logger.Info("worker stopped")
	return ctx.Err()
}
