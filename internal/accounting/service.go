package accounting

import (
	"context"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger/internal/accounting/balances"
	"github.com/odyssey-erp/ledger/internal/accounting/closing"
	"github.com/odyssey-erp/ledger/internal/accounting/journals"
	"github.com/odyssey-erp/ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/ledger/internal/accounting/periods"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/accounting/sequences"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// Config carries the ledger settings resolved from the environment.
type Config struct {
	Journals             journals.Config
	SequenceRetries      int
	RetainedEarningsCode string
	BalanceCacheTTL      time.Duration
	CloseLockTTL         time.Duration
	// Registerer receives the balance cache collectors. Nil uses the default registry.
	Registerer prometheus.Registerer
}

// Service is the in-process ledger API consumed by calling modules.
type Service struct {
	Accounts  *accounts.Service
	Sequences *sequences.Service
	Journals  *journals.Service
	Periods   *periods.Service
	Balances  *balances.Service
	Closing   *closing.Engine
	Mappings  *mappings.Service

	logger *slog.Logger
}

// New wires every component against Postgres and Redis. rdb may be nil, in
// which case balances are never cached and closing runs rely on row locks only.
func New(pool *pgxpool.Pool, rdb *redis.Client, cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	audit := shared.NewAuditLogger(pool)

	balanceSvc := balances.NewService(balances.NewRepository(pool), balances.NewCache(rdb, cfg.BalanceCacheTTL), logger)
	metrics, err := balances.NewMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}
	balanceSvc.WithMetrics(metrics)

	accountSvc := accounts.NewService(accounts.NewRepository(pool), logger)
	accountSvc.WithInvalidator(balanceSvc)

	periodSvc := periods.NewService(periods.NewRepository(pool), audit, logger)
	periodSvc.WithRetries(cfg.Journals.Retries)

	journalSvc := journals.NewService(journals.NewRepository(pool), audit, periodSvc, logger, cfg.Journals)
	journalSvc.WithInvalidator(balanceSvc)

	var locker *redislock.Client
	if rdb != nil {
		locker = redislock.New(rdb)
	}
	engine := closing.NewEngine(balanceSvc, periodSvc, journals.NewClosingPoster(journalSvc, periodSvc), locker, logger, closing.Config{
		RetainedEarningsCode: cfg.RetainedEarningsCode,
		LockTTL:              cfg.CloseLockTTL,
		Attempts:             cfg.Journals.Retries,
	})

	return &Service{
		Accounts:  accountSvc,
		Sequences: sequences.NewService(sequences.NewPGCounter(pool), cfg.SequenceRetries, logger),
		Journals:  journalSvc,
		Periods:   periodSvc,
		Balances:  balanceSvc,
		Closing:   engine,
		Mappings:  mappings.NewService(mappings.NewRepository(pool), logger),
		logger:    logger,
	}, nil
}

// IsPostable reports whether an ordinary voucher may be dated on date.
func (s *Service) IsPostable(ctx context.Context, tenantID int64, date time.Time) (bool, error) {
	return s.Periods.IsPostable(ctx, tenantID, date)
}

// NextCode issues the next document code for prefix on date.
func (s *Service) NextCode(ctx context.Context, prefix string, date time.Time, tenantID int64) (string, error) {
	return s.Sequences.NextCode(ctx, prefix, date, tenantID)
}

// PostVoucher stores a balanced voucher dated in an open period.
func (s *Service) PostVoucher(ctx context.Context, draft journals.Draft) (journals.Voucher, error) {
	return s.Journals.PostVoucher(ctx, draft)
}

// ReverseVoucher posts the mirror image of a voucher.
func (s *Service) ReverseVoucher(ctx context.Context, in journals.ReverseInput) (journals.Voucher, error) {
	return s.Journals.ReverseVoucher(ctx, in)
}

// GetAccountBalance is the authoritative balance of an account as of a date.
func (s *Service) GetAccountBalance(ctx context.Context, code string, asOf time.Time, tenantID int64) (decimal.Decimal, error) {
	return s.Balances.GetAccountBalance(ctx, code, asOf, tenantID)
}

// GetTrialBalance lists account balances with their totals.
func (s *Service) GetTrialBalance(ctx context.Context, asOf time.Time, tenantID int64) (reports.TrialBalance, error) {
	return s.Balances.GetTrialBalance(ctx, asOf, tenantID)
}

func (s *Service) LockPeriod(ctx context.Context, fiscalYearID int64, number int, actor int64) (periods.Period, error) {
	return s.Periods.LockPeriod(ctx, fiscalYearID, number, actor)
}

func (s *Service) ClosePeriod(ctx context.Context, fiscalYearID int64, number int, actor int64) (periods.Period, error) {
	return s.Periods.ClosePeriod(ctx, fiscalYearID, number, actor)
}

func (s *Service) CloseFiscalYear(ctx context.Context, fiscalYearID, actor int64) (periods.FiscalYear, error) {
	return s.Periods.CloseFiscalYear(ctx, fiscalYearID, actor)
}

// AreClosingEntriesRequired reports whether the period still carries revenue or expense balances.
func (s *Service) AreClosingEntriesRequired(ctx context.Context, periodID int64) (bool, error) {
	return s.Closing.AreClosingEntriesRequired(ctx, periodID)
}

// GenerateClosingEntries zeroes the period's temporary accounts into retained earnings.
func (s *Service) GenerateClosingEntries(ctx context.Context, periodID, actor int64) (closing.Result, error) {
	return s.Closing.GenerateClosingEntries(ctx, periodID, actor)
}

// CloseWithEntries locks the period, posts closing entries and closes it.
func (s *Service) CloseWithEntries(ctx context.Context, periodID, actor int64) (CloseReport, error) {
	return closePeriodWithEntries(ctx, s.Periods, s.Closing, s.logger, periodID, actor)
}

// Bootstrap reconciles system accounts and the default chart for every tenant.
func (s *Service) Bootstrap(ctx context.Context) BootstrapReport {
	return bootstrap(ctx, s.Accounts, s.logger)
}
