package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
)

// TenantLister enumerates tenants with a chart of accounts.
type TenantLister interface {
	Tenants(ctx context.Context) ([]int64, error)
}

// TrialBalancer computes a tenant's trial balance.
type TrialBalancer interface {
	GetTrialBalance(ctx context.Context, asOf time.Time, tenantID int64) (reports.TrialBalance, error)
}

// GLIntegrityJob verifies that every tenant's ledger still balances.
type GLIntegrityJob struct {
	Tenants  TenantLister
	Balances TrialBalancer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewGLIntegrityJob wires the integrity check.
func NewGLIntegrityJob(tenants TenantLister, balances TrialBalancer, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{
		Tenants:  tenants,
		Balances: balances,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// IntegrityReport summarises one run.
type IntegrityReport struct {
	Checked    int
	Unbalanced []int64
}

// Handle processes TaskGLIntegrity. Unbalanced tenants are reported through
// logs and metrics; the task itself only fails on infrastructure errors.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Balances == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("gl integrity: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	asOf, err := payload.asOf(j.now())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskGLIntegrity)
	_, err = j.Run(ctx, payload.TenantID, asOf)
	return tracker.End(err)
}

// Run checks one tenant, or every tenant when tenantID is zero.
func (j *GLIntegrityJob) Run(ctx context.Context, tenantID int64, asOf time.Time) (IntegrityReport, error) {
	logger := j.logger().With(slog.String("as_of", asOf.Format(dateLayout)))
	tenants := []int64{tenantID}
	if tenantID == 0 {
		if j.Tenants == nil {
			return IntegrityReport{}, errors.New("gl integrity: tenant lister not configured")
		}
		var err error
		if tenants, err = j.Tenants.Tenants(ctx); err != nil {
			return IntegrityReport{}, fmt.Errorf("gl integrity: list tenants: %w", err)
		}
	}

	var (
		report IntegrityReport
		errs   []error
	)
	for _, id := range tenants {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := j.Balances.GetTrialBalance(ctx, asOf, id)
		report.Checked++
		var unbalanced *shared.TrialBalanceError
		switch {
		case errors.As(err, &unbalanced):
			report.Unbalanced = append(report.Unbalanced, id)
			j.Metrics.AddIntegrityViolations("trial_balance", id, 1)
			logger.Error("ledger out of balance",
				slog.String("kind", shared.KindIntegrity.String()),
				slog.Int64("tenant_id", id),
				slog.String("debits", unbalanced.TotalDebits.String()),
				slog.String("credits", unbalanced.TotalCredits.String()))
		case err != nil:
			logger.Warn("trial balance failed", slog.Int64("tenant_id", id), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("tenant %d: %w", id, err))
		}
	}
	logger.Info("gl integrity completed",
		slog.Int("tenants", report.Checked),
		slog.Int("unbalanced", len(report.Unbalanced)))
	return report, errors.Join(errs...)
}

func (j *GLIntegrityJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
