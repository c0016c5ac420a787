package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/ledger/internal/shared"
)

// AuditPort records privileged period actions.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service is the fiscal year and period state machine.
type Service struct {
	repo    Repository
	audit   AuditPort
	logger  *slog.Logger
	retries int
	now     func() time.Time
}

// NewService constructs the period lock manager.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, retries: 3, now: time.Now}
}

// WithNow overrides the clock, mainly for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRetries bounds attempts on concurrent transitions.
func (s *Service) WithRetries(n int) {
	if n > 0 {
		s.retries = n
	}
}

// CreateFiscalYear creates a year starting on StartDate with contiguous periods.
func (s *Service) CreateFiscalYear(ctx context.Context, in CreateFiscalYearInput) (FiscalYear, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return FiscalYear{}, err
	}
	start := shared.DateOnly(in.StartDate)
	if start.Day() != 1 {
		return FiscalYear{}, &shared.InvalidInputError{Fields: map[string]string{"startdate": "first day of month"}}
	}
	fy := FiscalYear{
		TenantID:  in.TenantID,
		Year:      in.Year,
		StartDate: start,
		EndDate:   start.AddDate(1, 0, -1),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		overlap, err := tx.HasOverlap(ctx, fy.TenantID, fy.StartDate, fy.EndDate)
		if err != nil {
			return err
		}
		if overlap {
			return shared.ErrFiscalYearOverlap
		}
		created, err := tx.InsertFiscalYear(ctx, fy)
		if err != nil {
			return err
		}
		for _, p := range BuildPeriods(created.StartDate, in.Periods) {
			p.FiscalYearID = created.ID
			p.TenantID = created.TenantID
			inserted, err := tx.InsertPeriod(ctx, p)
			if err != nil {
				return err
			}
			created.Periods = append(created.Periods, inserted)
		}
		fy = created
		return nil
	})
	if err != nil {
		return FiscalYear{}, err
	}
	s.record(ctx, in.ActorID, "fiscal_year.create", "fiscal_year", fy.ID, map[string]any{"year": fy.Year})
	return fy, nil
}

// GetFiscalYear loads a fiscal year with its periods.
func (s *Service) GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error) {
	return s.repo.GetFiscalYear(ctx, id)
}

// ListFiscalYears lists a tenant's fiscal years without periods.
func (s *Service) ListFiscalYears(ctx context.Context, tenantID int64) ([]FiscalYear, error) {
	return s.repo.ListFiscalYears(ctx, tenantID)
}

// GetPeriod loads a period by id.
func (s *Service) GetPeriod(ctx context.Context, periodID int64) (Period, error) {
	return s.repo.GetPeriodByID(ctx, periodID)
}

// DeleteFiscalYear removes a year that never received a posting.
func (s *Service) DeleteFiscalYear(ctx context.Context, id, actor int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetFiscalYearForUpdate(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountVouchers(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return shared.ErrFiscalYearHasPostings
		}
		return tx.DeleteFiscalYear(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "fiscal_year.delete", "fiscal_year", id, nil)
	return nil
}

// LockPeriod moves a period from OPEN to LOCKED.
func (s *Service) LockPeriod(ctx context.Context, fiscalYearID int64, number int, actor int64) (Period, error) {
	return s.transition(ctx, fiscalYearID, number, PeriodStatusLocked, actor)
}

// ClosePeriod moves a period from LOCKED to CLOSED. Closing straight from OPEN
// is refused so a period cannot be closed by accident.
func (s *Service) ClosePeriod(ctx context.Context, fiscalYearID int64, number int, actor int64) (Period, error) {
	return s.transition(ctx, fiscalYearID, number, PeriodStatusClosed, actor)
}

func (s *Service) transition(ctx context.Context, fiscalYearID int64, number int, to PeriodStatus, actor int64) (Period, error) {
	var out Period
	err := shared.Retry(ctx, s.retries, func(int) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.GetPeriod(ctx, fiscalYearID, number)
			if err != nil {
				return err
			}
			next, ok := p.Status.next()
			if !ok || next != to {
				if to == PeriodStatusClosed && p.Status == PeriodStatusOpen {
					return fmt.Errorf("%w: period %d", shared.ErrPeriodStillOpen, number)
				}
				return fmt.Errorf("%w: period %d is %s", shared.ErrInvalidStatus, number, p.Status)
			}
			at := s.now()
			moved, err := tx.TransitionPeriod(ctx, p.ID, p.Status, to, actor, at)
			if err != nil {
				return err
			}
			if !moved {
				return shared.ErrConcurrentTransition
			}
			p.Status = to
			p.UpdatedAt = at
			if to == PeriodStatusLocked {
				p.LockedBy, p.LockedAt = &actor, &at
			} else {
				p.ClosedBy, p.ClosedAt = &actor, &at
			}
			out = p
			return nil
		})
	})
	if err != nil {
		return Period{}, err
	}
	action := "period.lock"
	if to == PeriodStatusClosed {
		action = "period.close"
	}
	s.logger.Info(action, slog.Int64("tenant_id", out.TenantID), slog.Int64("fiscal_year_id", fiscalYearID), slog.Int("period", number))
	s.record(ctx, actor, action, "period", out.ID, map[string]any{"fiscal_year_id": fiscalYearID, "number": number})
	return out, nil
}

// CloseFiscalYear closes the year once every period is CLOSED.
func (s *Service) CloseFiscalYear(ctx context.Context, fiscalYearID, actor int64) (FiscalYear, error) {
	var fy FiscalYear
	err := shared.Retry(ctx, s.retries, func(int) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetFiscalYearForUpdate(ctx, fiscalYearID)
			if err != nil {
				return err
			}
			if current.IsClosed {
				return shared.ErrFiscalYearClosed
			}
			periods, err := tx.ListPeriods(ctx, fiscalYearID)
			if err != nil {
				return err
			}
			var blocking []shared.PeriodState
			for _, p := range periods {
				if p.Status != PeriodStatusClosed {
					blocking = append(blocking, shared.PeriodState{Number: p.Number, Status: string(p.Status)})
				}
			}
			if len(blocking) > 0 {
				return &shared.OpenPeriodsError{FiscalYearID: fiscalYearID, Periods: blocking}
			}
			at := s.now()
			if err := tx.MarkFiscalYearClosed(ctx, fiscalYearID, actor, at); err != nil {
				return err
			}
			current.IsClosed = true
			current.ClosedBy, current.ClosedAt = &actor, &at
			current.Periods = periods
			fy = current
			return nil
		})
	})
	if err != nil {
		return FiscalYear{}, err
	}
	s.record(ctx, actor, "fiscal_year.close", "fiscal_year", fiscalYearID, map[string]any{"year": fy.Year})
	return fy, nil
}

// GetPeriodForDate returns the period of the fiscal year covering date. The
// boolean is false when date lies outside the fiscal year.
func (s *Service) GetPeriodForDate(ctx context.Context, fiscalYearID int64, date time.Time) (Period, bool, error) {
	fy, err := s.repo.GetFiscalYear(ctx, fiscalYearID)
	if err != nil {
		return Period{}, false, err
	}
	date = shared.DateOnly(date)
	for _, p := range fy.Periods {
		if p.Contains(date) {
			return p, true, nil
		}
	}
	return Period{}, false, nil
}

// IsPostable reports whether an ordinary voucher may be dated on date.
func (s *Service) IsPostable(ctx context.Context, tenantID int64, date time.Time) (bool, error) {
	err := s.EnsurePostable(ctx, tenantID, date)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, shared.ErrPeriodLocked) {
		return false, nil
	}
	return false, err
}

// EnsurePostable returns a PeriodLockedError unless an OPEN period covers date.
func (s *Service) EnsurePostable(ctx context.Context, tenantID int64, date time.Time) error {
	date = shared.DateOnly(date)
	p, err := s.repo.FindByDate(ctx, tenantID, date)
	if errors.Is(err, shared.ErrPeriodNotFound) {
		return &shared.PeriodLockedError{Date: date}
	}
	if err != nil {
		return err
	}
	if p.Status != PeriodStatusOpen {
		return &shared.PeriodLockedError{Date: date, PeriodNumber: p.Number, Status: string(p.Status)}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
