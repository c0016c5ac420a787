package balances

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

const (
	kindTrialBalance = "trial_balance"
	kindProjection   = "projection"
)

// Statement is the general ledger detail of one account between two dates.
type Statement struct {
	Account accounts.Account
	From    time.Time
	To      time.Time
	Opening decimal.Decimal
	Lines   []StatementLine
	Closing decimal.Decimal
}

// Service derives balances from committed ledger lines. Nothing it returns is
// ever written back as a source of truth.
type Service struct {
	repo    Repository
	cache   *Cache
	metrics *Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewService wires the calculator. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// WithMetrics attaches Prometheus collectors.
func (s *Service) WithMetrics(m *Metrics) {
	s.metrics = m
}

// GetAccountBalance sums every line of the account dated on or before asOf and
// orients the result by the account's normal balance. It never reads the cache.
func (s *Service) GetAccountBalance(ctx context.Context, code string, asOf time.Time, tenantID int64) (decimal.Decimal, error) {
	acc, err := s.repo.GetAccount(ctx, tenantID, code)
	if err != nil {
		return decimal.Zero, err
	}
	asOf = shared.DateOnly(asOf)
	return s.accountBalance(ctx, acc, asOf)
}

func (s *Service) accountBalance(ctx context.Context, acc accounts.Account, asOf time.Time) (decimal.Decimal, error) {
	totals, err := s.repo.AccountTotals(ctx, Query{TenantID: acc.TenantID, To: &asOf, AccountID: acc.ID})
	if err != nil {
		return decimal.Zero, err
	}
	for _, t := range totals {
		if t.Account.ID == acc.ID {
			return acc.Balance(t.Debit, t.Credit), nil
		}
	}
	return decimal.Zero, nil
}

// AccountBalances returns the cumulative position of every account as of a date.
func (s *Service) AccountBalances(ctx context.Context, tenantID int64, asOf time.Time) ([]reports.AccountBalance, error) {
	asOf = shared.DateOnly(asOf)
	totals, err := s.repo.AccountTotals(ctx, Query{TenantID: tenantID, To: &asOf})
	if err != nil {
		return nil, err
	}
	return toBalances(totals, false), nil
}

// GetTrialBalance lists every active account, plus inactive accounts still
// carrying a balance, as of the date. An unbalanced result is returned
// together with a *shared.TrialBalanceError and is never cached.
func (s *Service) GetTrialBalance(ctx context.Context, asOf time.Time, tenantID int64) (reports.TrialBalance, error) {
	asOf = shared.DateOnly(asOf)
	suffix := asOf.Format("2006-01-02")
	key, err := s.cache.BuildKey(ctx, tenantID, kindTrialBalance, suffix)
	if err != nil {
		s.logger.Warn("balance cache version", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		key = ""
	}
	if key != "" {
		var cached reports.TrialBalance
		if ok, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.Warn("balance cache read", slog.String("key", key), slog.Any("error", err))
		} else if ok {
			s.metrics.hit(kindTrialBalance)
			return cached, nil
		}
		s.metrics.miss(kindTrialBalance)
	}

	flight := fmt.Sprintf("%d:%s", tenantID, suffix)
	ch := s.group.DoChan(flight, func() (any, error) {
		return s.buildTrialBalance(context.WithoutCancel(ctx), tenantID, asOf)
	})
	var tb reports.TrialBalance
	select {
	case <-ctx.Done():
		return reports.TrialBalance{}, fmt.Errorf("%w: %v", shared.ErrStoreTimeout, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return reports.TrialBalance{}, res.Err
		}
		tb = res.Val.(reports.TrialBalance)
	}

	if !tb.IsBalanced {
		s.metrics.unbalanced()
		integrity := &shared.TrialBalanceError{TenantID: tenantID, AsOf: asOf, TotalDebits: tb.TotalDebits, TotalCredits: tb.TotalCredits}
		s.logger.Error("trial balance does not balance",
			slog.String("kind", shared.KindIntegrity.String()),
			slog.Int64("tenant_id", tenantID),
			slog.String("as_of", suffix),
			slog.String("debits", tb.TotalDebits.String()),
			slog.String("credits", tb.TotalCredits.String()))
		return tb, integrity
	}
	if key != "" {
		if err := s.cache.Put(ctx, key, tb); err != nil {
			s.logger.Warn("balance cache write", slog.String("key", key), slog.Any("error", err))
		}
	}
	return tb, nil
}

func (s *Service) buildTrialBalance(ctx context.Context, tenantID int64, asOf time.Time) (reports.TrialBalance, error) {
	defer s.metrics.observe(kindTrialBalance, time.Now())
	totals, err := s.repo.AccountTotals(ctx, Query{TenantID: tenantID, To: &asOf})
	if err != nil {
		return reports.TrialBalance{}, err
	}
	return reports.BuildTrialBalance(asOf, toBalances(totals, true)), nil
}

// BalanceSheet classifies cumulative balances as of a date.
func (s *Service) BalanceSheet(ctx context.Context, asOf time.Time, tenantID int64) (reports.BalanceSheet, error) {
	asOf = shared.DateOnly(asOf)
	totals, err := s.repo.AccountTotals(ctx, Query{TenantID: tenantID, To: &asOf})
	if err != nil {
		return reports.BalanceSheet{}, err
	}
	return reports.BuildBalanceSheet(asOf, toBalances(totals, false)), nil
}

// ProfitAndLoss aggregates revenue and expense movements within [from, to].
// Closing vouchers are excluded so a closed period still reports its result.
func (s *Service) ProfitAndLoss(ctx context.Context, from, to time.Time, tenantID int64) (reports.ProfitAndLoss, error) {
	from, to = shared.DateOnly(from), shared.DateOnly(to)
	if to.Before(from) {
		return reports.ProfitAndLoss{}, &shared.InvalidInputError{Fields: map[string]string{"to": "must not precede from"}}
	}
	totals, err := s.repo.AccountTotals(ctx, Query{TenantID: tenantID, From: &from, To: &to, ExcludeClosing: true})
	if err != nil {
		return reports.ProfitAndLoss{}, err
	}
	return reports.BuildProfitAndLoss(from, to, toBalances(totals, false)), nil
}

// AccountStatement lists the account's lines in [from, to] with a running
// balance oriented by its normal balance.
func (s *Service) AccountStatement(ctx context.Context, tenantID int64, code string, from, to time.Time) (Statement, error) {
	from, to = shared.DateOnly(from), shared.DateOnly(to)
	if to.Before(from) {
		return Statement{}, &shared.InvalidInputError{Fields: map[string]string{"to": "must not precede from"}}
	}
	acc, err := s.repo.GetAccount(ctx, tenantID, code)
	if err != nil {
		return Statement{}, err
	}
	opening, err := s.accountBalance(ctx, acc, from.AddDate(0, 0, -1))
	if err != nil {
		return Statement{}, err
	}
	lines, err := s.repo.StatementLines(ctx, tenantID, acc.ID, from, to)
	if err != nil {
		return Statement{}, err
	}
	running := opening
	for i := range lines {
		running = running.Add(acc.Balance(lines[i].Debit, lines[i].Credit))
		lines[i].Balance = running
	}
	return Statement{Account: acc, From: from, To: to, Opening: opening, Lines: lines, Closing: running}, nil
}

// ProjectedBalance is the cached, eventually consistent balance shown on
// related records. Posting decisions must use GetAccountBalance instead.
func (s *Service) ProjectedBalance(ctx context.Context, tenantID int64, code string, asOf time.Time) (decimal.Decimal, error) {
	asOf = shared.DateOnly(asOf)
	key, err := s.cache.BuildKey(ctx, tenantID, kindProjection, code+":"+asOf.Format("2006-01-02"))
	if err == nil && key != "" {
		var cached decimal.Decimal
		if ok, err := s.cache.Get(ctx, key, &cached); err == nil && ok {
			s.metrics.hit(kindProjection)
			return cached, nil
		}
		s.metrics.miss(kindProjection)
	}
	started := time.Now()
	balance, err := s.GetAccountBalance(ctx, code, asOf, tenantID)
	if err != nil {
		return decimal.Zero, err
	}
	s.metrics.observe(kindProjection, started)
	if key != "" {
		if err := s.cache.Put(ctx, key, balance); err != nil {
			s.logger.Warn("balance cache write", slog.String("key", key), slog.Any("error", err))
		}
	}
	return balance, nil
}

// Invalidate drops every cached projection of the tenant.
func (s *Service) Invalidate(ctx context.Context, tenantID int64) error {
	return s.cache.Bump(ctx, tenantID)
}

// toBalances converts totals to report input. trial drops inactive accounts
// that carry no balance.
func toBalances(totals []AccountTotal, trial bool) []reports.AccountBalance {
	out := make([]reports.AccountBalance, 0, len(totals))
	for _, t := range totals {
		if trial && !t.Account.IsActive && t.Debit.Equal(t.Credit) {
			continue
		}
		out = append(out, reports.AccountBalance{
			Code:          t.Account.Code,
			Name:          t.Account.Name,
			Type:          t.Account.Type,
			NormalBalance: t.Account.NormalBalance,
			Opening:       decimal.Zero,
			Debit:         t.Debit,
			Credit:        t.Credit,
		})
	}
	return out
}
