package sequences

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// Counter atomically issues the next sequence for a key.
type Counter interface {
	Increment(ctx context.Context, key Key) (int64, error)
}

type pgCounter struct {
	q db.Querier
}

// NewPGCounter returns a counter over a pool or an open transaction. Inside a
// transaction the increment commits or rolls back with the caller's writes.
func NewPGCounter(q db.Querier) Counter {
	return &pgCounter{q: q}
}

// Increment bumps document_sequences in a single upsert. The highest voucher
// number already stored for the stem is folded in so the counter can never
// fall behind numbers issued before it existed.
func (c *pgCounter) Increment(ctx context.Context, key Key) (int64, error) {
	highest, err := c.highestIssued(ctx, key)
	if err != nil {
		return 0, err
	}
	var seq int64
	err = c.q.QueryRow(ctx, `
		INSERT INTO document_sequences (tenant_id, prefix, date_key, last_seq)
		VALUES ($1, $2, $3, $4 + 1)
		ON CONFLICT (tenant_id, prefix, date_key)
		DO UPDATE SET last_seq = GREATEST(document_sequences.last_seq + 1, EXCLUDED.last_seq), updated_at = NOW()
		RETURNING last_seq
	`, key.TenantID, key.Prefix, key.DateKey, highest).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (c *pgCounter) highestIssued(ctx context.Context, key Key) (int64, error) {
	var number string
	err := c.q.QueryRow(ctx, `
		SELECT number FROM journal_vouchers
		WHERE tenant_id = $1 AND number LIKE $2
		ORDER BY length(number) DESC, number DESC
		LIMIT 1
	`, key.TenantID, escapeLike(key.Stem())+"%").Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return Parse(number), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
