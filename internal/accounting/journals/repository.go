package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger/internal/accounting/periods"
	"github.com/odyssey-erp/ledger/internal/accounting/sequences"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/db"
	internalShared "github.com/odyssey-erp/ledger/internal/shared"
)

// Repository encapsulates DB operations for vouchers.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// WithClosingTx runs fn at READ COMMITTED so balances read after
	// LockPeriodsThrough include every posting the lock waited for.
	WithClosingTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVoucher(ctx context.Context, tenantID, id int64) (Voucher, error)
	ListVouchers(ctx context.Context, f Filter) ([]Voucher, int, error)
}

// TxRepository exposes methods available within a posting transaction.
type TxRepository interface {
	AccountsByCode(ctx context.Context, tenantID int64, codes []string) (map[string]accounts.Account, error)
	// PeriodForDate returns the covering period and holds a share lock on it
	// until commit so a concurrent lock or close waits for this posting.
	PeriodForDate(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error)
	NextSequence(ctx context.Context, key sequences.Key) (int64, error)
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	InsertLines(ctx context.Context, voucherID int64, lines []Line) error
	LinkSource(ctx context.Context, tenantID int64, module string, ref uuid.UUID, voucherID int64) error
	GetVoucherForUpdate(ctx context.Context, tenantID, id int64) (Voucher, error)
	HasReversal(ctx context.Context, voucherID int64) (bool, error)
	// LockPeriodsThrough takes FOR UPDATE on every period starting on or
	// before end. It conflicts with the FOR SHARE held by PeriodForDate.
	LockPeriodsThrough(ctx context.Context, tenantID int64, end time.Time) error
	// TemporaryNets returns debit minus credit of each revenue and expense
	// account with lines dated on or before asOf.
	TemporaryNets(ctx context.Context, tenantID int64, asOf time.Time) (map[string]decimal.Decimal, error)
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

func (r *repository) WithClosingTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return shared.StoreError(err)
}

const voucherColumns = `id, tenant_id, number, prefix, voucher_date, period_id, kind, reversal_of, source_module, source_id, memo, metadata, COALESCE(posted_by, 0), posted_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.TenantID, &v.Number, &v.Prefix, &v.Date, &v.PeriodID, &v.Kind, &v.ReversalOf,
		&v.SourceModule, &v.SourceID, &v.Memo, &v.Metadata, &v.PostedBy, &v.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, shared.ErrJournalNotFound
	}
	return v, err
}

func loadLines(ctx context.Context, q db.Querier, voucherID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, voucher_id, position, account_id, account_code, account_name, debit, credit
FROM journal_lines WHERE voucher_id=$1 ORDER BY position`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.VoucherID, &l.Position, &l.AccountID, &l.AccountCode, &l.AccountName, &l.Debit, &l.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) GetVoucher(ctx context.Context, tenantID, id int64) (Voucher, error) {
	v, err := scanVoucher(r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM journal_vouchers WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		return Voucher{}, err
	}
	v.Lines, err = loadLines(ctx, r.pool, v.ID)
	return v, err
}

func (r *repository) ListVouchers(ctx context.Context, f Filter) ([]Voucher, int, error) {
	where := []string{"tenant_id=$1"}
	args := []any{f.TenantID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !f.From.IsZero() {
		add("voucher_date >= $%d", shared.DateOnly(f.From))
	}
	if !f.To.IsZero() {
		add("voucher_date <= $%d", shared.DateOnly(f.To))
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if f.AccountCode != "" {
		add("EXISTS (SELECT 1 FROM journal_lines l WHERE l.voucher_id = journal_vouchers.id AND l.account_code = $%d)", f.AccountCode)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM journal_vouchers WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := pageWindow(f)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM journal_vouchers WHERE %s
ORDER BY voucher_date, id LIMIT $%d OFFSET $%d`, voucherColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func (r *txRepository) AccountsByCode(ctx context.Context, tenantID int64, codes []string) (map[string]accounts.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, code, name, type, normal_balance, is_active, allow_direct_posting
FROM accounts WHERE tenant_id=$1 AND code = ANY($2)`, tenantID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]accounts.Account, len(codes))
	for rows.Next() {
		a := accounts.Account{TenantID: tenantID}
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.IsActive, &a.AllowDirectPosting); err != nil {
			return nil, err
		}
		out[a.Code] = a
	}
	return out, rows.Err()
}

func (r *txRepository) PeriodForDate(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error) {
	var p periods.Period
	err := r.tx.QueryRow(ctx, `SELECT id, fiscal_year_id, tenant_id, number, start_date, end_date, status
FROM periods WHERE tenant_id=$1 AND $2::date BETWEEN start_date AND end_date
ORDER BY start_date LIMIT 1 FOR SHARE`, tenantID, date).
		Scan(&p.ID, &p.FiscalYearID, &p.TenantID, &p.Number, &p.StartDate, &p.EndDate, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.Period{}, shared.ErrPeriodNotFound
	}
	return p, err
}

func (r *txRepository) NextSequence(ctx context.Context, key sequences.Key) (int64, error) {
	return sequences.NewPGCounter(r.tx).Increment(ctx, key)
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	if v.Metadata == nil {
		v.Metadata = map[string]any{}
	}
	inserted, err := scanVoucher(r.tx.QueryRow(ctx, `INSERT INTO journal_vouchers
(tenant_id, number, prefix, voucher_date, period_id, kind, reversal_of, source_module, source_id, memo, metadata, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING `+voucherColumns,
		v.TenantID, v.Number, v.Prefix, v.Date, v.PeriodID, v.Kind, v.ReversalOf, v.SourceModule, v.SourceID,
		v.Memo, v.Metadata, nullInt(v.PostedBy), v.PostedAt))
	switch {
	case db.IsUniqueViolation(err, "uq_journal_vouchers_number"):
		return Voucher{}, fmt.Errorf("%w: %s", shared.ErrDuplicateCode, v.Number)
	case db.IsUniqueViolation(err, "uq_journal_vouchers_reversal"):
		return Voucher{}, shared.ErrAlreadyReversed
	case err != nil:
		return Voucher{}, err
	}
	return inserted, nil
}

// InsertLines queues every line in one batch. Amounts travel as text so
// NUMERIC receives them without float rounding.
func (r *txRepository) InsertLines(ctx context.Context, voucherID int64, lines []Line) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO journal_lines (voucher_id, position, account_id, account_code, account_name, debit, credit)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, voucherID, l.Position, l.AccountID, l.AccountCode, l.AccountName, l.Debit.String(), l.Credit.String())
	}
	br := r.tx.SendBatch(ctx, batch)
	for i := range lines {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("journals: insert line %d: %w", i+1, err)
		}
	}
	return br.Close()
}

func (r *txRepository) LinkSource(ctx context.Context, tenantID int64, module string, ref uuid.UUID, voucherID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (tenant_id, module, ref_id, voucher_id) VALUES ($1,$2,$3,$4)`, tenantID, module, ref, voucherID)
	if db.IsUniqueViolation(err, "uq_source_links") {
		return shared.ErrSourceConflict
	}
	return err
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, tenantID, id int64) (Voucher, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM journal_vouchers WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return Voucher{}, err
	}
	v.Lines, err = loadLines(ctx, r.tx, v.ID)
	return v, err
}

func (r *txRepository) HasReversal(ctx context.Context, voucherID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_vouchers WHERE reversal_of=$1)`, voucherID).Scan(&exists)
	return exists, err
}

// LockPeriodsThrough locks in start date order so concurrent closers queue
// instead of deadlocking.
func (r *txRepository) LockPeriodsThrough(ctx context.Context, tenantID int64, end time.Time) error {
	_, err := r.tx.Exec(ctx, `SELECT id FROM periods WHERE tenant_id=$1 AND start_date <= $2::date
ORDER BY start_date FOR UPDATE`, tenantID, end)
	return err
}

func (r *txRepository) TemporaryNets(ctx context.Context, tenantID int64, asOf time.Time) (map[string]decimal.Decimal, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.code, SUM(l.debit) - SUM(l.credit)
FROM journal_lines l
JOIN journal_vouchers v ON v.id = l.voucher_id
JOIN accounts a ON a.id = l.account_id
WHERE v.tenant_id = $1 AND v.voucher_date <= $2::date AND a.type IN ($3, $4)
GROUP BY a.code`, tenantID, asOf, accounts.AccountTypeRevenue, accounts.AccountTypeExpense)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var code string
		var net decimal.Decimal
		if err := rows.Scan(&code, &net); err != nil {
			return nil, err
		}
		out[code] = net
	}
	return out, rows.Err()
}

func pageWindow(f Filter) (int, int) {
	return internalShared.PageWindow(f.Page, f.PerPage)
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
