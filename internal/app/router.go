package app

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/observability"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
)

// Pinger is satisfied by *pgxpool.Pool and by the redis client adapter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for the ops router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	// Checks are probed by /readyz, keyed by dependency name.
	Checks map[string]Pinger
	// Jobs mounts queue observability under /jobs when set.
	Jobs interface{ MountRoutes(chi.Router) }
	// Balances backs the read-only trial balance probe when set.
	Balances TrialBalancer
}

// TrialBalancer computes a tenant trial balance.
type TrialBalancer interface {
	GetTrialBalance(ctx context.Context, asOf time.Time, tenantID int64) (reports.TrialBalance, error)
}

// NewRouter constructs the ops chi.Router: health, readiness, metrics and job health.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		result := make(map[string]string, len(params.Checks))
		for name, check := range params.Checks {
			err := check.Ping(ctx)
			params.Metrics.ObserveDependency(name, err == nil)
			if err != nil {
				params.Logger.Warn("readiness check failed", slog.String("dependency", name), slog.Any("error", err))
				result[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		httpx.JSON(w, status, result)
	})

	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	if params.Jobs != nil {
		r.Route("/jobs", params.Jobs.MountRoutes)
	}
	if params.Balances != nil {
		r.Get("/tenants/{tenantID}/trial-balance", trialBalanceHandler(params.Balances))
	}
	return r
}

type trialBalanceResponse struct {
	AsOf         string `json:"as_of"`
	Balanced     bool   `json:"balanced"`
	TotalDebits  string `json:"total_debits"`
	TotalCredits string `json:"total_credits"`
	Accounts     int    `json:"accounts"`
}

// trialBalanceHandler reports whether a tenant ledger balances. An unbalanced
// ledger is a 200 with balanced=false; the totals are what operators need.
func trialBalanceHandler(balances TrialBalancer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
		if err != nil || tenantID <= 0 {
			httpx.RespondError(w, &shared.InvalidInputError{Fields: map[string]string{"tenant_id": "must be a positive integer"}})
			return
		}
		asOf := time.Now().UTC()
		if raw := r.URL.Query().Get("as_of"); raw != "" {
			if asOf, err = time.Parse("2006-01-02", raw); err != nil {
				httpx.RespondError(w, &shared.InvalidInputError{Fields: map[string]string{"as_of": "expected YYYY-MM-DD"}})
				return
			}
		}
		tb, err := balances.GetTrialBalance(r.Context(), asOf, tenantID)
		if err != nil && shared.KindOf(err) != shared.KindIntegrity {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, trialBalanceResponse{
			AsOf:         tb.AsOf.Format("2006-01-02"),
			Balanced:     tb.IsBalanced,
			TotalDebits:  tb.TotalDebits.String(),
			TotalCredits: tb.TotalCredits.String(),
			Accounts:     len(tb.Rows()),
		})
	}
}
