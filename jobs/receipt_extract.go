package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/groupspend/groupspend/internal/jobs"
	"github.com/groupspend/groupspend/internal/receipts"
	"github.com/groupspend/groupspend/internal/shared"
)

type receiptExtractor interface {
	ExtractAndCreate(ctx context.Context, image []byte, mimeType, groupID, userID string) (receipts.Draft, error)
}

// ReceiptExtractJob runs queued receipt scans.
type ReceiptExtractJob struct {
	receipts receiptExtractor
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
}

// NewReceiptExtractJob wires dependencies for the scan handler.
func NewReceiptExtractJob(svc receiptExtractor, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptExtractJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptExtractJob{receipts: svc, logger: logger, metrics: metrics}
}

// Handle processes TaskReceiptExtract tasks. Validation, membership and
// extraction failures are final; only storage failures are retried.
func (j *ReceiptExtractJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.receipts == nil {
		return errors.New("receipt extract: handler not configured")
	}
	var req receipts.ScanRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("decode scan payload: %v: %w", err, asynq.SkipRetry)
	}
	if req.GroupID == "" || req.UploadedBy == "" || len(req.Image) == 0 {
		return fmt.Errorf("incomplete scan payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics.Track(jobmetrics.JobReceiptsExtract)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger.With(slog.String("group_id", req.GroupID), slog.String("uploaded_by", req.UploadedBy))
	draft, err := j.receipts.ExtractAndCreate(ctx, req.Image, req.MimeType, req.GroupID, req.UploadedBy)
	if err != nil {
		var ee *shared.ExtractionError
		switch {
		case errors.As(err, &ee):
			j.metrics.AddScan(jobmetrics.ScanFailed, false)
			logger.WarnContext(ctx, "scan extraction failed", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrUnavailable):
			j.metrics.AddScan(jobmetrics.ScanRejected, false)
			logger.WarnContext(ctx, "scan rejected", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		default:
			logger.ErrorContext(ctx, "scan store failed", slog.Any("error", err))
			return err
		}
	}
	j.metrics.AddScan(jobmetrics.ScanStored, draft.Divergence.Flagged)
	logger.InfoContext(ctx, "scan stored", slog.String("receipt_id", draft.Receipt.ID))
	return nil
}
