package mappings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

type Repository interface {
	Get(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error)
	List(ctx context.Context, tenantID int64, module string) ([]AccountMapping, error)
	// Upsert binds the mapping to the account with the given code.
	Upsert(ctx context.Context, m AccountMapping) (AccountMapping, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const mappingSelect = `SELECT m.tenant_id, m.module, m.key, m.account_id, a.code, m.created_at, m.updated_at
FROM account_mappings m JOIN accounts a ON a.id = m.account_id`

func scanMapping(row pgx.Row) (AccountMapping, error) {
	var m AccountMapping
	err := row.Scan(&m.TenantID, &m.Module, &m.Key, &m.AccountID, &m.AccountCode, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error) {
	m, err := scanMapping(r.db.QueryRow(ctx, mappingSelect+` WHERE m.tenant_id=$1 AND m.module=$2 AND m.key=$3`, tenantID, module, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return AccountMapping{}, shared.ErrMappingNotFound
	}
	return m, shared.StoreError(err)
}

func (r *repository) List(ctx context.Context, tenantID int64, module string) ([]AccountMapping, error) {
	rows, err := r.db.Query(ctx, mappingSelect+` WHERE m.tenant_id=$1 AND ($2 = '' OR m.module=$2) ORDER BY m.module, m.key`, tenantID, module)
	if err != nil {
		return nil, shared.StoreError(err)
	}
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repository) Upsert(ctx context.Context, m AccountMapping) (AccountMapping, error) {
	out, err := scanMapping(r.db.QueryRow(ctx, `WITH acc AS (
	SELECT id, code FROM accounts WHERE tenant_id=$1 AND code=$4
), up AS (
	INSERT INTO account_mappings (tenant_id, module, key, account_id)
	SELECT $1, $2, $3, acc.id FROM acc
	ON CONFLICT (tenant_id, module, key) DO UPDATE SET account_id = EXCLUDED.account_id, updated_at = NOW()
	RETURNING tenant_id, module, key, account_id, created_at, updated_at
)
SELECT up.tenant_id, up.module, up.key, up.account_id, acc.code, up.created_at, up.updated_at FROM up JOIN acc ON acc.id = up.account_id`,
		m.TenantID, m.Module, m.Key, m.AccountCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return AccountMapping{}, shared.ErrAccountNotFound
	}
	return out, shared.StoreError(err)
}
