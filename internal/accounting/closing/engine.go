package closing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger/internal/accounting/journals"
	"github.com/odyssey-erp/ledger/internal/accounting/periods"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/ledger/internal/shared"
)

// BalanceSource returns cumulative balances of every account as of a date.
type BalanceSource interface {
	AccountBalances(ctx context.Context, tenantID int64, asOf time.Time) ([]reports.AccountBalance, error)
}

// PeriodSource resolves a period by id.
type PeriodSource interface {
	GetPeriod(ctx context.Context, periodID int64) (periods.Period, error)
}

// Poster writes the closing voucher. journals.ClosingPoster satisfies it.
type Poster interface {
	PostClosing(ctx context.Context, d journals.ClosingDraft) (journals.Voucher, error)
}

// Config tunes the engine.
type Config struct {
	RetainedEarningsCode string
	LockTTL              time.Duration
	// Attempts bounds rebuilds when balances move under a draft.
	Attempts int
}

// Result describes one closing run. Voucher is nil when nothing needed closing.
type Result struct {
	RunID     uuid.UUID
	PeriodID  int64
	Voucher   *journals.Voucher
	NetIncome decimal.Decimal
}

// Engine zeroes revenue and expense accounts into retained earnings.
type Engine struct {
	balances BalanceSource
	periods  PeriodSource
	poster   Poster
	locker   *redislock.Client
	logger   *slog.Logger
	cfg      Config
}

// NewEngine wires the closing engine. A nil locker skips the distributed lock;
// the poster still locks the periods and rejects drafts built from balances
// that have since moved, so two runs never both post.
func NewEngine(balances BalanceSource, periodSource PeriodSource, poster Poster, locker *redislock.Client, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetainedEarningsCode == "" {
		cfg.RetainedEarningsCode = accounts.CodeRetainedEarnings
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	return &Engine{balances: balances, periods: periodSource, poster: poster, locker: locker, logger: logger, cfg: cfg}
}

// AreClosingEntriesRequired reports whether any revenue or expense account
// carries a balance at the end of the period.
func (e *Engine) AreClosingEntriesRequired(ctx context.Context, periodID int64) (bool, error) {
	period, err := e.periods.GetPeriod(ctx, periodID)
	if err != nil {
		return false, err
	}
	open, err := e.temporaryBalances(ctx, period)
	if err != nil {
		return false, err
	}
	return len(open) > 0, nil
}

// GenerateClosingEntries posts one balanced CLOSING voucher that zeroes every
// temporary account as of the period end. Running it again without new
// postings is a no-op.
func (e *Engine) GenerateClosingEntries(ctx context.Context, periodID, actorID int64) (Result, error) {
	result := Result{RunID: uuid.New(), PeriodID: periodID, NetIncome: decimal.Zero}
	release, err := e.obtain(ctx, periodID)
	if err != nil {
		return result, err
	}
	defer release()

	period, err := e.periods.GetPeriod(ctx, periodID)
	if err != nil {
		return result, err
	}
	logger := e.logger.With(slog.Int64("tenant_id", period.TenantID), slog.Int64("period_id", periodID), slog.String("run_id", result.RunID.String()))

	var voucher journals.Voucher
	var lines []journals.DraftLine
	err = shared.Retry(ctx, e.cfg.Attempts, func(attempt int) error {
		open, err := e.temporaryBalances(ctx, period)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			lines = nil
			return nil
		}
		if period.Status == periods.PeriodStatusClosed {
			return &shared.PeriodLockedError{Date: period.EndDate, PeriodNumber: period.Number, Status: string(period.Status)}
		}
		var net decimal.Decimal
		lines, net = e.buildLines(open)
		result.NetIncome = net
		voucher, err = e.poster.PostClosing(ctx, journals.ClosingDraft{
			TenantID: period.TenantID,
			PeriodID: period.ID,
			RunID:    result.RunID,
			ActorID:  actorID,
			Memo:     fmt.Sprintf("Closing entries period %d", period.Number),
			Lines:    lines,
		})
		if errors.Is(err, shared.ErrClosingStale) {
			logger.Info("temporary balances moved, rebuilding closing draft", slog.Int("attempt", attempt), slog.Any("error", err))
		}
		return err
	})
	if err != nil {
		return result, err
	}
	if len(lines) == 0 {
		result.NetIncome = decimal.Zero
		logger.Info("closing entries not required")
		return result, nil
	}
	result.Voucher = &voucher
	net := result.NetIncome

	residue, err := e.temporaryBalances(ctx, period)
	if err != nil {
		return result, err
	}
	if len(residue) > 0 {
		codes := make([]string, 0, len(residue))
		for _, b := range residue {
			codes = append(codes, b.Code)
		}
		logger.Error("closing left nonzero balances",
			slog.String("kind", shared.KindIntegrity.String()),
			slog.String("voucher", voucher.Number),
			slog.Any("accounts", codes))
		return result, fmt.Errorf("%w: %v", shared.ErrClosingResidue, codes)
	}
	logger.Info("closing entries posted",
		slog.String("voucher", voucher.Number),
		slog.String("net_income", net.String()),
		slog.Int("lines", len(lines)))
	return result, nil
}

// buildLines mirrors each temporary balance and books the difference to
// retained earnings. net is revenue minus expense.
func (e *Engine) buildLines(open []reports.AccountBalance) ([]journals.DraftLine, decimal.Decimal) {
	lines := make([]journals.DraftLine, 0, len(open)+1)
	sum := decimal.Zero
	for _, b := range open {
		n := b.Net()
		sum = sum.Add(n)
		debit, credit := shared.Side(n.Neg())
		lines = append(lines, journals.DraftLine{AccountCode: b.Code, Debit: debit, Credit: credit})
	}
	if !sum.IsZero() {
		debit, credit := shared.Side(sum)
		lines = append(lines, journals.DraftLine{AccountCode: e.cfg.RetainedEarningsCode, Debit: debit, Credit: credit})
	}
	return lines, sum.Neg()
}

func (e *Engine) temporaryBalances(ctx context.Context, period periods.Period) ([]reports.AccountBalance, error) {
	all, err := e.balances.AccountBalances(ctx, period.TenantID, period.EndDate)
	if err != nil {
		return nil, err
	}
	var out []reports.AccountBalance
	for _, b := range all {
		if b.Type.IsTemporary() && !b.Net().IsZero() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return accounts.CompareCodes(out[i].Code, out[j].Code) < 0 })
	return out, nil
}

func (e *Engine) obtain(ctx context.Context, periodID int64) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	key := internalShared.PeriodCloseLockKey(periodID)
	lock, err := e.locker.Obtain(ctx, key, e.cfg.LockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 3),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: period %d", shared.ErrCloseInProgress, periodID)
	}
	if err != nil {
		return nil, fmt.Errorf("closing: obtain lock: %w", err)
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			e.logger.Warn("release closing lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
