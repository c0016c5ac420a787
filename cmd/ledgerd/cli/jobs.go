package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledger/jobs"
)

// JobsCLI wraps manual management helpers for the ledger queues.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the queue Redis.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: jobs.NewClient(redisOpts), inspector: asynq.NewInspector(redisOpts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// TriggerIntegrity enqueues an integrity check for one tenant, or all when tenantID is zero.
func (c *JobsCLI) TriggerIntegrity(ctx context.Context, tenantID int64, asOf string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueGLIntegrity(ctx, jobs.GLIntegrityPayload{TenantID: tenantID, AsOf: asOf})
}

// TriggerClose enqueues a full period close.
func (c *JobsCLI) TriggerClose(ctx context.Context, periodID, actorID int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	info, err := c.client.EnqueuePeriodClose(ctx, jobs.PeriodClosePayload{PeriodID: periodID, ActorID: actorID})
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, fmt.Errorf("jobs cli: a close for period %d is already queued", periodID)
	}
	return info, err
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueues reports metrics for every ledger queue.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	out := make([]QueueStats, 0, 2)
	for _, queue := range []string{jobs.QueueCritical, jobs.QueueDefault} {
		stats := QueueStats{Queue: queue}
		info, err := c.inspector.GetQueueInfo(queue)
		switch {
		case errors.Is(err, asynq.ErrQueueNotFound):
		case err != nil:
			return nil, err
		case info != nil:
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
		}
		out = append(out, stats)
	}
	return out, nil
}
