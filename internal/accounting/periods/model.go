package periods

import "time"

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusLocked PeriodStatus = "LOCKED"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// next returns the only status reachable from s.
func (s PeriodStatus) next() (PeriodStatus, bool) {
	switch s {
	case PeriodStatusOpen:
		return PeriodStatusLocked, true
	case PeriodStatusLocked:
		return PeriodStatusClosed, true
	default:
		return "", false
	}
}

// FiscalYear groups contiguous periods for a tenant.
type FiscalYear struct {
	ID        int64
	TenantID  int64
	Year      int
	StartDate time.Time
	EndDate   time.Time
	IsClosed  bool
	ClosedBy  *int64
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	Periods   []Period
}

// Contains reports whether date falls inside the fiscal year.
func (fy FiscalYear) Contains(date time.Time) bool {
	return !date.Before(fy.StartDate) && !date.After(fy.EndDate)
}

// Period represents a fiscal period window.
type Period struct {
	ID           int64
	FiscalYearID int64
	TenantID     int64
	Number       int
	StartDate    time.Time
	EndDate      time.Time
	Status       PeriodStatus
	LockedBy     *int64
	LockedAt     *time.Time
	ClosedBy     *int64
	ClosedAt     *time.Time
	UpdatedAt    time.Time
}

// Contains reports whether date falls inside the period, both ends inclusive.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}

// CreateFiscalYearInput describes a new fiscal year.
type CreateFiscalYearInput struct {
	TenantID  int64     `validate:"required,gt=0"`
	Year      int       `validate:"required,gte=1900,lte=9999"`
	StartDate time.Time `validate:"required"`
	// Periods defaults to twelve monthly periods.
	Periods int `validate:"omitempty,oneof=1 2 3 4 6 12"`
	ActorID int64
}

// BuildPeriods splits [start, start+1y) into n contiguous periods of equal months.
func BuildPeriods(start time.Time, n int) []Period {
	if n <= 0 {
		n = 12
	}
	months := 12 / n
	out := make([]Period, 0, n)
	for i := 0; i < n; i++ {
		from := start.AddDate(0, i*months, 0)
		to := start.AddDate(0, (i+1)*months, -1)
		out = append(out, Period{
			Number:    i + 1,
			StartDate: from,
			EndDate:   to,
			Status:    PeriodStatusOpen,
		})
	}
	return out
}
