package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// Repository abstracts transactional chart of accounts persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListTenants(ctx context.Context) ([]int64, error)
}

// TxRepository exposes operations available inside a transaction.
type TxRepository interface {
	LockTenant(ctx context.Context, tenantID int64) error
	List(ctx context.Context, tenantID int64) ([]Account, error)
	GetByCode(ctx context.Context, tenantID int64, code string) (Account, error)
	GetByID(ctx context.Context, id int64) (Account, error)
	Insert(ctx context.Context, a Account) (Account, error)
	Update(ctx context.Context, a Account) error
	Delete(ctx context.Context, id int64) error
	CountReferences(ctx context.Context, id int64) (int64, error)
	ReassignReferences(ctx context.Context, from, to Account) (int64, error)
}

// referenceColumn is a foreign key into accounts owned by another module.
type referenceColumn struct {
	table    string
	column   string
	optional bool
}

// referenceColumns lists every column that may point at an account. Optional
// tables belong to modules that may not be installed.
var referenceColumns = []referenceColumn{
	{table: "account_mappings", column: "account_id"},
	{table: "customers", column: "ledger_account_id", optional: true},
	{table: "suppliers", column: "ledger_account_id", optional: true},
	{table: "payments", column: "expense_account_id", optional: true},
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

// WithTx runs fn in a read-committed transaction; callers serialise per tenant
// through LockTenant so each statement observes rows committed while waiting.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounts repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return shared.StoreError(err)
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return shared.StoreError(err)
	}
	return shared.StoreError(tx.Commit(ctx))
}

func (r *repository) ListTenants(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const accountColumns = `id, tenant_id, code, name, type, category, normal_balance, parent_id, is_system, is_active, allow_direct_posting, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.Category, &a.NormalBalance, &a.ParentID,
		&a.IsSystem, &a.IsActive, &a.AllowDirectPosting, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) LockTenant(ctx context.Context, tenantID int64) error {
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('coa'), $1::int)`, tenantID)
	return err
}

func (r *txRepository) List(ctx context.Context, tenantID int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) GetByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND code=$2`, tenantID, code))
}

func (r *txRepository) GetByID(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

func (r *txRepository) Insert(ctx context.Context, a Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (tenant_id, code, name, type, category, normal_balance, parent_id, is_system, is_active, allow_direct_posting)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING `+accountColumns,
		a.TenantID, a.Code, a.Name, a.Type, a.Category, a.NormalBalance, a.ParentID, a.IsSystem, a.IsActive, a.AllowDirectPosting)
	inserted, err := scanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_accounts_tenant_code") {
			return Account{}, shared.ErrDuplicateAccountCode
		}
		return Account{}, err
	}
	return inserted, nil
}

func (r *txRepository) Update(ctx context.Context, a Account) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET name=$2, type=$3, category=$4, normal_balance=$5, parent_id=$6,
is_system=$7, is_active=$8, allow_direct_posting=$9, updated_at=NOW() WHERE id=$1`,
		a.ID, a.Name, a.Type, a.Category, a.NormalBalance, a.ParentID, a.IsSystem, a.IsActive, a.AllowDirectPosting)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) CountReferences(ctx context.Context, id int64) (int64, error) {
	var total int64
	err := r.tx.QueryRow(ctx, `SELECT
	(SELECT COUNT(*) FROM journal_lines WHERE account_id=$1) +
	(SELECT COUNT(*) FROM accounts WHERE parent_id=$1) +
	(SELECT COUNT(*) FROM account_mappings WHERE account_id=$1)`, id).Scan(&total)
	return total, err
}

// ReassignReferences points every reference at from to to. Ledger lines keep
// their amounts; only the account reference and its denormalised label move.
func (r *txRepository) ReassignReferences(ctx context.Context, from, to Account) (int64, error) {
	var total int64
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_lines SET account_id=$2, account_code=$3, account_name=$4 WHERE account_id=$1`,
		from.ID, to.ID, to.Code, to.Name)
	if err != nil {
		return 0, fmt.Errorf("reassign journal_lines: %w", err)
	}
	total += cmd.RowsAffected()
	cmd, err = r.tx.Exec(ctx, `UPDATE accounts SET parent_id=NULLIF($2::bigint, id), updated_at=NOW() WHERE parent_id=$1`, from.ID, to.ID)
	if err != nil {
		return 0, fmt.Errorf("reassign accounts.parent_id: %w", err)
	}
	total += cmd.RowsAffected()
	for _, ref := range referenceColumns {
		if ref.optional {
			var present bool
			if err := r.tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, ref.table).Scan(&present); err != nil {
				return 0, err
			}
			if !present {
				continue
			}
		}
		sql := fmt.Sprintf(`UPDATE %s SET %s=$2 WHERE %s=$1`, pgx.Identifier{ref.table}.Sanitize(), pgx.Identifier{ref.column}.Sanitize(), pgx.Identifier{ref.column}.Sanitize())
		cmd, err := r.tx.Exec(ctx, sql, from.ID, to.ID)
		if err != nil {
			return 0, fmt.Errorf("reassign %s.%s: %w", ref.table, ref.column, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}
