package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/closing"
	"github.com/odyssey-erp/ledger/internal/accounting/journals"
	"github.com/odyssey-erp/ledger/internal/accounting/periods"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
	_ "github.com/odyssey-erp/ledger/testing"
)

type tenantList []int64

func (t tenantList) Tenants(context.Context) ([]int64, error) { return t, nil }

type balancerFunc func(ctx context.Context, asOf time.Time, tenantID int64) (reports.TrialBalance, error)

func (f balancerFunc) GetTrialBalance(ctx context.Context, asOf time.Time, tenantID int64) (reports.TrialBalance, error) {
	return f(ctx, asOf, tenantID)
}

func TestGLIntegrityReportsUnbalancedTenants(t *testing.T) {
	var seen []int64
	balancer := balancerFunc(func(_ context.Context, asOf time.Time, tenantID int64) (reports.TrialBalance, error) {
		seen = append(seen, tenantID)
		assert.Equal(t, "2025-11-30", asOf.Format(dateLayout))
		if tenantID == 2 {
			return reports.TrialBalance{}, &shared.TrialBalanceError{TenantID: 2, AsOf: asOf,
				TotalDebits: decimal.NewFromInt(10), TotalCredits: decimal.NewFromInt(9)}
		}
		return reports.TrialBalance{IsBalanced: true}, nil
	})
	job := NewGLIntegrityJob(tenantList{1, 2, 3}, balancer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	report, err := job.Run(context.Background(), 0, time.Date(2025, time.November, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err, "an unbalanced ledger is reported, not retried")
	assert.Equal(t, []int64{1, 2, 3}, seen)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, []int64{2}, report.Unbalanced)
}

func TestGLIntegrityHandleSingleTenant(t *testing.T) {
	var seen []int64
	balancer := balancerFunc(func(_ context.Context, _ time.Time, tenantID int64) (reports.TrialBalance, error) {
		seen = append(seen, tenantID)
		return reports.TrialBalance{IsBalanced: true}, nil
	})
	job := NewGLIntegrityJob(nil, balancer, nil, nil)

	task, err := NewGLIntegrityTask(GLIntegrityPayload{TenantID: 9, AsOf: "2025-12-31"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []int64{9}, seen)
}

func TestGLIntegrityStoreFailureIsRetried(t *testing.T) {
	balancer := balancerFunc(func(context.Context, time.Time, int64) (reports.TrialBalance, error) {
		return reports.TrialBalance{}, shared.ErrStoreTimeout
	})
	job := NewGLIntegrityJob(tenantList{1}, balancer, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskGLIntegrity, nil))
	require.ErrorIs(t, err, shared.ErrStoreTimeout)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestGLIntegrityBadPayloadSkipsRetry(t *testing.T) {
	job := NewGLIntegrityJob(tenantList{1}, balancerFunc(nil), nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskGLIntegrity, []byte(`{"as_of":"yesterday"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = job.Handle(context.Background(), asynq.NewTask(TaskGLIntegrity, []byte(`{`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type closerFunc func(ctx context.Context, periodID, actor int64) (accounting.CloseReport, error)

func (f closerFunc) CloseWithEntries(ctx context.Context, periodID, actor int64) (accounting.CloseReport, error) {
	return f(ctx, periodID, actor)
}

func TestPeriodCloseHandle(t *testing.T) {
	var got [2]int64
	job := NewPeriodCloseJob(closerFunc(func(_ context.Context, periodID, actor int64) (accounting.CloseReport, error) {
		got = [2]int64{periodID, actor}
		return accounting.CloseReport{
			Period:  periods.Period{ID: periodID, Status: periods.PeriodStatusClosed},
			Closing: closing.Result{Voucher: &journals.Voucher{Number: "CE-20251130001"}, NetIncome: decimal.NewFromInt(100)},
		}, nil
	}), nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewPeriodCloseTask(PeriodClosePayload{PeriodID: 111, ActorID: 4})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, [2]int64{111, 4}, got)
}

func TestPeriodCloseRetryPolicy(t *testing.T) {
	cases := map[string]struct {
		err  error
		skip bool
	}{
		"lock held":        {err: shared.ErrCloseInProgress, skip: false},
		"serialization":    {err: shared.ErrSerialization, skip: false},
		"store down":       {err: errors.New("connection refused"), skip: false},
		"period not found": {err: shared.ErrPeriodNotFound, skip: true},
		"residue":          {err: shared.ErrClosingResidue, skip: true},
	}
	for name, tc := range cases {
		job := NewPeriodCloseJob(closerFunc(func(context.Context, int64, int64) (accounting.CloseReport, error) {
			return accounting.CloseReport{}, tc.err
		}), nil, nil)
		task, err := NewPeriodCloseTask(PeriodClosePayload{PeriodID: 1})
		require.NoError(t, err)

		err = job.Handle(context.Background(), task)
		require.ErrorIs(t, err, tc.err, name)
		assert.Equal(t, tc.skip, errors.Is(err, asynq.SkipRetry), name)
	}
}

func TestPeriodCloseRejectsMissingPeriod(t *testing.T) {
	_, err := NewPeriodCloseTask(PeriodClosePayload{})
	require.Error(t, err)

	job := NewPeriodCloseJob(closerFunc(nil), nil, nil)
	err = job.Handle(context.Background(), asynq.NewTask(TaskPeriodClose, []byte(`{"actor_id":3}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeInspector map[string]*asynq.QueueInfo

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := f[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthEndpointReportsQueues(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{QueueCritical: {Queue: QueueCritical, Pending: 2, Retry: 1}}, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body []queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, []queueHealth{
		{Queue: QueueCritical, Pending: 2, Retry: 1},
		{Queue: QueueDefault},
	}, body)
}
