package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/groupspend/groupspend/internal/receipts"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits scan tasks. It satisfies receipts.ScanQueue.
type Client struct {
	client enqueuer
}

func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueScan queues an uploaded image and returns the task id.
func (c *Client) EnqueueScan(ctx context.Context, req receipts.ScanRequest) (string, error) {
	task, err := NewReceiptExtractTask(req)
	if err != nil {
		return "", fmt.Errorf("jobs: build scan task: %w", err)
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("jobs: enqueue scan: %w", err)
	}
	return info.ID, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
