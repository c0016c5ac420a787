package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// AuditLog is one privileged ledger action: a posting, a reversal, a period
// transition or a closing run.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// execer is satisfied by *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry. A zero actor is stored as NULL (system).
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.Meta == nil {
		log.Meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var actor any
	if log.ActorID != 0 {
		actor = log.ActorID
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, NOW()))`, actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
