package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries period closing runs ahead of routine checks.
	QueueCritical = "critical"

	// TaskGLIntegrity recomputes trial balances and reports ledgers that no longer balance.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskPeriodClose locks a period, posts its closing entries and closes it.
	TaskPeriodClose = "ledger:period_close"
)

const dateLayout = "2006-01-02"

// GLIntegrityPayload scopes an integrity run. Zero values mean every tenant as of today.
type GLIntegrityPayload struct {
	TenantID int64  `json:"tenant_id,omitempty"`
	AsOf     string `json:"as_of,omitempty"`
}

func (p GLIntegrityPayload) asOf(now time.Time) (time.Time, error) {
	if p.AsOf == "" {
		return now, nil
	}
	date, err := time.Parse(dateLayout, p.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("gl integrity: invalid as_of %q: %w", p.AsOf, err)
	}
	return date, nil
}

// PeriodClosePayload identifies the period to close and who asked for it.
type PeriodClosePayload struct {
	PeriodID int64 `json:"period_id"`
	ActorID  int64 `json:"actor_id"`
}

// NewGLIntegrityTask constructs an integrity check task.
func NewGLIntegrityTask(payload GLIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewPeriodCloseTask constructs a period close task. Only one task per period
// may be queued at a time.
func NewPeriodCloseTask(payload PeriodClosePayload) (*asynq.Task, error) {
	if payload.PeriodID <= 0 {
		return nil, fmt.Errorf("period close: period id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPeriodClose, data,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
		asynq.Unique(10*time.Minute),
	), nil
}
