package balances

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Query selects the vouchers summed into account totals. Nil bounds are open.
type Query struct {
	TenantID       int64
	From           *time.Time
	To             *time.Time
	ExcludeClosing bool
	// AccountID limits the result to one account when nonzero.
	AccountID int64
}

// AccountTotal is an account with the debits and credits summed for a Query.
type AccountTotal struct {
	Account accounts.Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// StatementLine is one posted line as it appears in an account statement.
type StatementLine struct {
	VoucherID     int64
	VoucherNumber string
	Date          time.Time
	Kind          string
	Memo          string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	Balance       decimal.Decimal
}

// Repository reads committed ledger lines.
type Repository interface {
	GetAccount(ctx context.Context, tenantID int64, code string) (accounts.Account, error)
	AccountTotals(ctx context.Context, q Query) ([]AccountTotal, error)
	StatementLines(ctx context.Context, tenantID, accountID int64, from, to time.Time) ([]StatementLine, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetAccount(ctx context.Context, tenantID int64, code string) (accounts.Account, error) {
	a := accounts.Account{TenantID: tenantID}
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, type, normal_balance, is_active
FROM accounts WHERE tenant_id=$1 AND code=$2`, tenantID, code).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return accounts.Account{}, shared.ErrAccountNotFound
	}
	return a, shared.StoreError(err)
}

// AccountTotals returns every account of the tenant, or only q.AccountID,
// including those without movements, so zero balances are explicit.
func (r *repository) AccountTotals(ctx context.Context, q Query) ([]AccountTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.normal_balance, a.is_active,
	COALESCE(t.debit, 0), COALESCE(t.credit, 0)
FROM accounts a
LEFT JOIN (
	SELECT l.account_id, SUM(l.debit) AS debit, SUM(l.credit) AS credit
	FROM journal_lines l
	JOIN journal_vouchers v ON v.id = l.voucher_id
	WHERE v.tenant_id = $1
		AND ($2::date IS NULL OR v.voucher_date >= $2::date)
		AND ($3::date IS NULL OR v.voucher_date <= $3::date)
		AND (NOT $4::bool OR v.kind <> 'CLOSING')
		AND ($5::bigint = 0 OR l.account_id = $5::bigint)
	GROUP BY l.account_id
) t ON t.account_id = a.id
WHERE a.tenant_id = $1 AND ($5::bigint = 0 OR a.id = $5::bigint)
ORDER BY a.code`, q.TenantID, q.From, q.To, q.ExcludeClosing, q.AccountID)
	if err != nil {
		return nil, shared.StoreError(err)
	}
	defer rows.Close()
	var out []AccountTotal
	for rows.Next() {
		t := AccountTotal{Account: accounts.Account{TenantID: q.TenantID}}
		if err := rows.Scan(&t.Account.ID, &t.Account.Code, &t.Account.Name, &t.Account.Type,
			&t.Account.NormalBalance, &t.Account.IsActive, &t.Debit, &t.Credit); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, shared.StoreError(rows.Err())
}

func (r *repository) StatementLines(ctx context.Context, tenantID, accountID int64, from, to time.Time) ([]StatementLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT v.id, v.number, v.voucher_date, v.kind, v.memo, l.debit, l.credit
FROM journal_lines l
JOIN journal_vouchers v ON v.id = l.voucher_id
WHERE v.tenant_id = $1 AND l.account_id = $2 AND v.voucher_date BETWEEN $3 AND $4
ORDER BY v.voucher_date, v.id, l.position`, tenantID, accountID, from, to)
	if err != nil {
		return nil, shared.StoreError(err)
	}
	defer rows.Close()
	var out []StatementLine
	for rows.Next() {
		var l StatementLine
		if err := rows.Scan(&l.VoucherID, &l.VoucherNumber, &l.Date, &l.Kind, &l.Memo, &l.Debit, &l.Credit); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, shared.StoreError(rows.Err())
}
