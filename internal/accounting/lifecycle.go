package accounting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/ledger/internal/accounting/closing"
	"github.com/odyssey-erp/ledger/internal/accounting/periods"
)

type registry interface {
	Tenants(ctx context.Context) ([]int64, error)
	EnsureSystemAccounts(ctx context.Context, tenantID int64) (int, error)
	SeedDefaultAccounts(ctx context.Context, tenantID int64) (int, error)
}

// BootstrapReport summarises the startup reconciliation.
type BootstrapReport struct {
	Tenants  int
	Created  int
	Seeded   int
	Failures map[int64]error
}

// OK reports whether every tenant reconciled.
func (r BootstrapReport) OK() bool {
	return len(r.Failures) == 0
}

// bootstrap never aborts: a failing tenant is logged and the next one is tried.
func bootstrap(ctx context.Context, reg registry, logger *slog.Logger) BootstrapReport {
	report := BootstrapReport{Failures: map[int64]error{}}
	tenants, err := reg.Tenants(ctx)
	if err != nil {
		logger.Error("ledger bootstrap: list tenants", slog.Any("error", err))
		report.Failures[0] = err
		return report
	}
	report.Tenants = len(tenants)
	for _, tenantID := range tenants {
		created, err := reg.EnsureSystemAccounts(ctx, tenantID)
		if err != nil {
			logger.Error("ledger bootstrap: system accounts missing, postings will fail",
				slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			report.Failures[tenantID] = err
			continue
		}
		report.Created += created
		seeded, err := reg.SeedDefaultAccounts(ctx, tenantID)
		if err != nil {
			logger.Error("ledger bootstrap: seed default accounts",
				slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			report.Failures[tenantID] = err
			continue
		}
		report.Seeded += seeded
	}
	logger.Info("ledger bootstrap finished",
		slog.Int("tenants", report.Tenants),
		slog.Int("created", report.Created),
		slog.Int("seeded", report.Seeded),
		slog.Int("failures", len(report.Failures)))
	return report
}

type periodCloser interface {
	GetPeriod(ctx context.Context, periodID int64) (periods.Period, error)
	LockPeriod(ctx context.Context, fiscalYearID int64, number int, actor int64) (periods.Period, error)
	ClosePeriod(ctx context.Context, fiscalYearID int64, number int, actor int64) (periods.Period, error)
}

type closingGenerator interface {
	GenerateClosingEntries(ctx context.Context, periodID, actor int64) (closing.Result, error)
}

// CloseReport is the outcome of a full period close.
type CloseReport struct {
	Period  periods.Period
	Closing closing.Result
}

// closePeriodWithEntries runs lock, closing entries and close in that order.
// Each step is safe to repeat, so a failed run can be queued again.
func closePeriodWithEntries(ctx context.Context, per periodCloser, gen closingGenerator, logger *slog.Logger, periodID, actor int64) (CloseReport, error) {
	period, err := per.GetPeriod(ctx, periodID)
	if err != nil {
		return CloseReport{}, err
	}
	if period.Status == periods.PeriodStatusClosed {
		return CloseReport{Period: period}, nil
	}
	if period.Status == periods.PeriodStatusOpen {
		period, err = per.LockPeriod(ctx, period.FiscalYearID, period.Number, actor)
		if err != nil {
			return CloseReport{}, fmt.Errorf("lock period %d: %w", periodID, err)
		}
	}
	result, err := gen.GenerateClosingEntries(ctx, periodID, actor)
	if err != nil {
		return CloseReport{Period: period}, fmt.Errorf("closing entries for period %d: %w", periodID, err)
	}
	period, err = per.ClosePeriod(ctx, period.FiscalYearID, period.Number, actor)
	if err != nil {
		return CloseReport{Period: period, Closing: result}, fmt.Errorf("close period %d: %w", periodID, err)
	}
	logger.Info("period closed",
		slog.Int64("tenant_id", period.TenantID),
		slog.Int64("period_id", periodID),
		slog.Bool("closing_posted", result.Voucher != nil))
	return CloseReport{Period: period, Closing: result}, nil
}
