package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// Repository persists fiscal years and periods.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error)
	GetPeriodByID(ctx context.Context, id int64) (Period, error)
	GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error)
	ListFiscalYears(ctx context.Context, tenantID int64) ([]FiscalYear, error)
}

// TxRepository exposes operations available inside a transaction.
type TxRepository interface {
	HasOverlap(ctx context.Context, tenantID int64, start, end time.Time) (bool, error)
	InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error)
	InsertPeriod(ctx context.Context, p Period) (Period, error)
	GetFiscalYearForUpdate(ctx context.Context, id int64) (FiscalYear, error)
	ListPeriods(ctx context.Context, fiscalYearID int64) ([]Period, error)
	GetPeriod(ctx context.Context, fiscalYearID int64, number int) (Period, error)
	// TransitionPeriod moves a period from one status to the next only if it
	// still holds from. It reports false when another writer got there first.
	TransitionPeriod(ctx context.Context, id int64, from, to PeriodStatus, actor int64, at time.Time) (bool, error)
	MarkFiscalYearClosed(ctx context.Context, id, actor int64, at time.Time) error
	CountVouchers(ctx context.Context, fiscalYearID int64) (int64, error)
	DeleteFiscalYear(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return shared.StoreError(err)
}

const periodColumns = `id, fiscal_year_id, tenant_id, number, start_date, end_date, status, locked_by, locked_at, closed_by, closed_at, updated_at`

const fiscalYearColumns = `id, tenant_id, year, start_date, end_date, is_closed, closed_by, closed_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.FiscalYearID, &p.TenantID, &p.Number, &p.StartDate, &p.EndDate, &p.Status,
		&p.LockedBy, &p.LockedAt, &p.ClosedBy, &p.ClosedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrPeriodNotFound
	}
	return p, err
}

func scanFiscalYear(row pgx.Row) (FiscalYear, error) {
	var fy FiscalYear
	err := row.Scan(&fy.ID, &fy.TenantID, &fy.Year, &fy.StartDate, &fy.EndDate, &fy.IsClosed,
		&fy.ClosedBy, &fy.ClosedAt, &fy.CreatedAt, &fy.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return FiscalYear{}, shared.ErrFiscalYearNotFound
	}
	return fy, err
}

func queryPeriods(ctx context.Context, q db.Querier, fiscalYearID int64) ([]Period, error) {
	rows, err := q.Query(ctx, `SELECT `+periodColumns+` FROM periods WHERE fiscal_year_id=$1 ORDER BY number`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindByDate returns the period covering date across the tenant's fiscal years.
func (r *repository) FindByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods
WHERE tenant_id=$1 AND $2::date BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, tenantID, date))
}

func (r *repository) GetPeriodByID(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1`, id))
}

func (r *repository) GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error) {
	fy, err := scanFiscalYear(r.pool.QueryRow(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE id=$1`, id))
	if err != nil {
		return FiscalYear{}, err
	}
	fy.Periods, err = queryPeriods(ctx, r.pool, fy.ID)
	return fy, err
}

func (r *repository) ListFiscalYears(ctx context.Context, tenantID int64) ([]FiscalYear, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE tenant_id=$1 ORDER BY start_date`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FiscalYear
	for rows.Next() {
		fy, err := scanFiscalYear(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fy)
	}
	return out, rows.Err()
}

func (r *txRepository) HasOverlap(ctx context.Context, tenantID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fiscal_years
WHERE tenant_id=$1 AND start_date <= $3::date AND end_date >= $2::date)`, tenantID, start, end).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error) {
	inserted, err := scanFiscalYear(r.tx.QueryRow(ctx, `INSERT INTO fiscal_years (tenant_id, year, start_date, end_date)
VALUES ($1,$2,$3,$4) RETURNING `+fiscalYearColumns, fy.TenantID, fy.Year, fy.StartDate, fy.EndDate))
	if db.IsUniqueViolation(err, "uq_fiscal_years_tenant_year") {
		return FiscalYear{}, shared.ErrFiscalYearOverlap
	}
	return inserted, err
}

func (r *txRepository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `INSERT INTO periods (fiscal_year_id, tenant_id, number, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+periodColumns, p.FiscalYearID, p.TenantID, p.Number, p.StartDate, p.EndDate, p.Status))
}

func (r *txRepository) GetFiscalYearForUpdate(ctx context.Context, id int64) (FiscalYear, error) {
	return scanFiscalYear(r.tx.QueryRow(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) ListPeriods(ctx context.Context, fiscalYearID int64) ([]Period, error) {
	return queryPeriods(ctx, r.tx, fiscalYearID)
}

func (r *txRepository) GetPeriod(ctx context.Context, fiscalYearID int64, number int) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE fiscal_year_id=$1 AND number=$2`, fiscalYearID, number))
}

func (r *txRepository) TransitionPeriod(ctx context.Context, id int64, from, to PeriodStatus, actor int64, at time.Time) (bool, error) {
	var sql string
	switch to {
	case PeriodStatusLocked:
		sql = `UPDATE periods SET status=$3, locked_by=$4, locked_at=$5, updated_at=$5 WHERE id=$1 AND status=$2`
	case PeriodStatusClosed:
		sql = `UPDATE periods SET status=$3, closed_by=$4, closed_at=$5, updated_at=$5 WHERE id=$1 AND status=$2`
	default:
		return false, shared.ErrInvalidStatus
	}
	cmd, err := r.tx.Exec(ctx, sql, id, from, to, nullActor(actor), at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *txRepository) MarkFiscalYearClosed(ctx context.Context, id, actor int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_years SET is_closed=TRUE, closed_by=$2, closed_at=$3, updated_at=$3 WHERE id=$1 AND NOT is_closed`,
		id, nullActor(actor), at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrConcurrentTransition
	}
	return nil
}

func (r *txRepository) CountVouchers(ctx context.Context, fiscalYearID int64) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_vouchers v JOIN periods p ON p.id = v.period_id WHERE p.fiscal_year_id=$1`, fiscalYearID).Scan(&n)
	return n, err
}

func (r *txRepository) DeleteFiscalYear(ctx context.Context, id int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM fiscal_years WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrFiscalYearNotFound
	}
	return nil
}

func nullActor(actor int64) any {
	if actor == 0 {
		return nil
	}
	return actor
}
