package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
)

// PeriodCloser runs the full close of one period.
type PeriodCloser interface {
	CloseWithEntries(ctx context.Context, periodID, actor int64) (accounting.CloseReport, error)
}

// PeriodCloseJob executes queued period closes.
type PeriodCloseJob struct {
	Closer  PeriodCloser
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPeriodCloseJob wires the period close handler.
func NewPeriodCloseJob(closer PeriodCloser, logger *slog.Logger, metrics *jobmetrics.Metrics) *PeriodCloseJob {
	return &PeriodCloseJob{Closer: closer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPeriodClose. Lock contention and serialization
// failures are returned as-is so asynq retries them; anything a retry cannot
// fix is marked SkipRetry.
func (j *PeriodCloseJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Closer == nil {
		return errors.New("period close: handler not configured")
	}
	var payload PeriodClosePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("period close: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.PeriodID <= 0 {
		return fmt.Errorf("period close: period id required: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskPeriodClose)
	logger := j.logger().With(slog.Int64("period_id", payload.PeriodID), slog.Int64("actor_id", payload.ActorID))

	report, err := j.Closer.CloseWithEntries(ctx, payload.PeriodID, payload.ActorID)
	if err != nil {
		kind := shared.KindOf(err)
		logger.Error("period close failed", slog.String("kind", kind.String()), slog.Any("error", err))
		if shared.IsRetryable(err) || kind == shared.KindInternal {
			return tracker.End(err)
		}
		return tracker.End(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
	}
	attrs := []any{slog.String("status", string(report.Period.Status))}
	if report.Closing.Voucher != nil {
		attrs = append(attrs,
			slog.String("voucher", report.Closing.Voucher.Number),
			slog.String("net_income", report.Closing.NetIncome.String()))
	}
	logger.Info("period close completed", attrs...)
	return tracker.End(nil)
}

func (j *PeriodCloseJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
