package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/groupspend/groupspend/internal/jobs"
)

const defaultWarmupLookback = 24 * time.Hour

type activeGroupLister interface {
	ListActiveGroupIDs(ctx context.Context, since time.Time) ([]string, error)
}

type groupWarmer interface {
	WarmGroup(ctx context.Context, groupID string) error
}

// BalancesWarmupJob pre-populates the balance cache for recently active groups.
type BalancesWarmupJob struct {
	Receipts activeGroupLister
	Balances groupWarmer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewBalancesWarmupJob wires dependencies for the warmup handler.
func NewBalancesWarmupJob(receipts activeGroupLister, balances groupWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalancesWarmupJob {
	return &BalancesWarmupJob{
		Receipts: receipts,
		Balances: balances,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes balance warmup tasks. A group that fails to warm is
// logged and skipped; the run fails only when the group lookup fails.
func (j *BalancesWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Receipts == nil || j.Balances == nil {
		return errors.New("balances warmup: handler not configured")
	}
	var payload BalancesWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	lookback := time.Duration(payload.LookbackHours) * time.Hour
	if lookback <= 0 {
		lookback = defaultWarmupLookback
	}

	tracker := j.Metrics.Track(jobmetrics.JobBalancesWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Duration("lookback", lookback))
	now := j.now()
	groupIDs, err := j.Receipts.ListActiveGroupIDs(ctx, now.Add(-lookback))
	if err != nil {
		logger.ErrorContext(ctx, "load active groups", slog.Any("error", err))
		return err
	}
	if len(groupIDs) == 0 {
		logger.InfoContext(ctx, "no active groups to warm")
		return nil
	}

	warmed := 0
	for _, id := range groupIDs {
		groupCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		err := j.Balances.WarmGroup(groupCtx, id)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.WarnContext(ctx, "warm group", slog.String("group_id", id), slog.Any("error", err))
			continue
		}
		warmed++
	}
	j.Metrics.AddWarmed(warmed)
	logger.InfoContext(ctx, "completed balances warmup", slog.Int("groups", warmed), slog.Int("candidates", len(groupIDs)))
	return nil
}

func (j *BalancesWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBalancesWarmup))
	}
	return slog.Default().With(slog.String("job", TaskBalancesWarmup))
}

func (j *BalancesWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
