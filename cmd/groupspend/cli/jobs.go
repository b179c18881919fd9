package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"

	"github.com/groupspend/groupspend/jobs"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    taskEnqueuer
	inspector queueInspector
}

// NewJobsCLI connects the helpers to redisAddr, a host:port or redis:// URL.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts, err := jobs.RedisOpt(redisAddr)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// TriggerWarmup enqueues a balances warmup covering the lookback window.
func (c *JobsCLI) TriggerWarmup(ctx context.Context, lookback time.Duration) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewBalancesWarmupTask(lookback)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueues reports the state of every groupspend queue. Queues that were
// never written to are reported empty.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, name := range []string{jobs.QueueScans, jobs.QueueDefault} {
		stats := QueueStats{Queue: name}
		info, err := c.inspector.GetQueueInfo(name)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("inspect %s: %w", name, err)
		}
		if info != nil {
			stats.Pending, stats.Active, stats.Scheduled = info.Pending, info.Active, info.Scheduled
			stats.Retry, stats.Archived = info.Retry, info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

// ListRetrying returns scan tasks waiting for another attempt.
func (c *JobsCLI) ListRetrying(size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListRetryTasks(jobs.QueueScans, asynq.PageSize(size), asynq.Page(1))
}

// WriteStats renders queue stats as an aligned table.
func WriteStats(w io.Writer, stats []QueueStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
	}
	return tw.Flush()
}
