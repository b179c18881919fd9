package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/groupspend/groupspend/internal/receipts"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueScans holds receipt image extraction tasks.
	QueueScans = "scans"

	// TaskReceiptExtract extracts and stores a receipt from an uploaded image.
	TaskReceiptExtract = "receipts:extract"
	// TaskBalancesWarmup precomputes balance summaries of recently active groups.
	TaskBalancesWarmup = "balances:warmup"
)

// NewReceiptExtractTask constructs a scan task. Extraction itself is not
// retried; the retry budget covers storage failures after a successful read.
func NewReceiptExtractTask(req receipts.ScanRequest) (*asynq.Task, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceiptExtract, data,
		asynq.Queue(QueueScans),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	), nil
}

// BalancesWarmupPayload selects groups with receipts newer than the lookback.
type BalancesWarmupPayload struct {
	LookbackHours int `json:"lookback_hours"`
}

// NewBalancesWarmupTask constructs a warmup task.
func NewBalancesWarmupTask(lookback time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(BalancesWarmupPayload{LookbackHours: int(lookback / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalancesWarmup, body, asynq.Queue(QueueDefault)), nil
}
