package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger/internal/accounting/periods"
	"github.com/odyssey-erp/ledger/internal/accounting/sequences"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/ledger/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// PeriodGuard pre-flights ordinary postings before a transaction is opened.
type PeriodGuard interface {
	EnsurePostable(ctx context.Context, tenantID int64, date time.Time) error
}

// Invalidator drops balance projections after a posting commits.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID int64) error
}

// Config controls numbering and amount precision.
type Config struct {
	Precision      int32
	DefaultPrefix  string
	ReversalPrefix string
	ClosingPrefix  string
	// Retries bounds attempts when a posting collides with a concurrent one.
	Retries int
}

// DefaultConfig mirrors the shipped environment defaults.
func DefaultConfig() Config {
	return Config{
		Precision:      shared.DefaultPrecision,
		DefaultPrefix:  "JV",
		ReversalPrefix: "RV",
		ClosingPrefix:  "CE",
		Retries:        3,
	}
}

type Service struct {
	repo        Repository
	audit       AuditPort
	guard       PeriodGuard
	invalidator Invalidator
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

func NewService(repo Repository, audit AuditPort, guard PeriodGuard, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Precision <= 0 || cfg.Precision > 4 {
		cfg.Precision = def.Precision
	}
	if cfg.DefaultPrefix == "" {
		cfg.DefaultPrefix = def.DefaultPrefix
	}
	if cfg.ReversalPrefix == "" {
		cfg.ReversalPrefix = def.ReversalPrefix
	}
	if cfg.ClosingPrefix == "" {
		cfg.ClosingPrefix = def.ClosingPrefix
	}
	if cfg.Retries < 1 {
		cfg.Retries = def.Retries
	}
	return &Service{repo: repo, audit: audit, guard: guard, logger: logger, cfg: cfg, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithInvalidator registers the balance projection to drop after postings.
func (s *Service) WithInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// posting is the internal, fully classified form of every voucher write.
type posting struct {
	tenantID     int64
	date         time.Time
	kind         VoucherKind
	prefix       string
	periodID     int64
	reversalOf   *int64
	sourceModule string
	sourceID     uuid.UUID
	memo         string
	metadata     map[string]any
	postedBy     int64
	lines        []DraftLine
}

// PostVoucher validates and stores an ordinary voucher. The voucher date must
// fall in an OPEN period; there is no caller controlled override.
func (s *Service) PostVoucher(ctx context.Context, draft Draft) (Voucher, error) {
	if err := shared.ValidateStruct(draft); err != nil {
		return Voucher{}, err
	}
	if err := checkLines(draft.Lines, s.cfg.Precision); err != nil {
		return Voucher{}, err
	}
	date := shared.DateOnly(draft.Date)
	if s.guard != nil {
		if err := s.guard.EnsurePostable(ctx, draft.TenantID, date); err != nil {
			return Voucher{}, err
		}
	}
	prefix := draft.Prefix
	if prefix == "" {
		prefix = s.cfg.DefaultPrefix
	}
	v, err := s.post(ctx, posting{
		tenantID:     draft.TenantID,
		date:         date,
		kind:         VoucherKindStandard,
		prefix:       prefix,
		sourceModule: strings.ToUpper(draft.SourceModule),
		sourceID:     draft.SourceID,
		memo:         draft.Memo,
		metadata:     draft.Metadata,
		postedBy:     draft.PostedBy,
		lines:        draft.Lines,
	})
	if err != nil {
		return Voucher{}, err
	}
	s.afterPost(ctx, v, "journal.post")
	return v, nil
}

// ReverseVoucher posts the exact mirror of a voucher. The original is never
// touched. A reversal may land in a LOCKED period but never a CLOSED one.
func (s *Service) ReverseVoucher(ctx context.Context, in ReverseInput) (Voucher, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Voucher{}, err
	}
	date := shared.DateOnly(s.now())
	if in.Date != nil {
		date = shared.DateOnly(*in.Date)
	}
	var reversal Voucher
	err := shared.Retry(ctx, s.cfg.Retries, func(int) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			original, err := tx.GetVoucherForUpdate(ctx, in.TenantID, in.VoucherID)
			if err != nil {
				return err
			}
			if original.Kind == VoucherKindClosing {
				return fmt.Errorf("%w: closing vouchers cannot be reversed", shared.ErrInvalidStatus)
			}
			reversed, err := tx.HasReversal(ctx, original.ID)
			if err != nil {
				return err
			}
			if reversed {
				return shared.ErrAlreadyReversed
			}
			memo := in.Memo
			if memo == "" {
				memo = "Reversal of " + original.Number
			}
			reversal, err = s.write(ctx, tx, posting{
				tenantID:   in.TenantID,
				date:       date,
				kind:       VoucherKindReversal,
				prefix:     s.cfg.ReversalPrefix,
				reversalOf: &original.ID,
				memo:       memo,
				metadata:   map[string]any{"reversal_of": original.Number},
				postedBy:   in.ActorID,
				lines:      mirror(original.Lines),
			})
			return err
		})
	})
	if err != nil {
		return Voucher{}, err
	}
	s.afterPost(ctx, reversal, "journal.reverse")
	return reversal, nil
}

// GetVoucher loads a voucher with its lines.
func (s *Service) GetVoucher(ctx context.Context, tenantID, id int64) (Voucher, error) {
	return s.repo.GetVoucher(ctx, tenantID, id)
}

// ListVouchers returns voucher headers in date order.
func (s *Service) ListVouchers(ctx context.Context, f Filter) ([]Voucher, internalShared.Pagination, error) {
	vouchers, total, err := s.repo.ListVouchers(ctx, f)
	if err != nil {
		return nil, internalShared.Pagination{}, err
	}
	return vouchers, internalShared.NewPagination(f.Page, f.PerPage, total), nil
}

func (s *Service) post(ctx context.Context, p posting) (Voucher, error) {
	var out Voucher
	err := shared.Retry(ctx, s.cfg.Retries, func(attempt int) error {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			v, err := s.write(ctx, tx, p)
			out = v
			return err
		})
		if err != nil && shared.IsRetryable(err) {
			s.logger.Debug("voucher posting conflict", slog.Int64("tenant_id", p.tenantID), slog.Int("attempt", attempt), slog.Any("error", err))
		}
		return err
	})
	return out, err
}

// write performs every check that must see committed state and stores the
// voucher. It runs inside the caller's transaction.
func (s *Service) write(ctx context.Context, tx TxRepository, p posting) (Voucher, error) {
	if err := checkLines(p.lines, s.cfg.Precision); err != nil {
		return Voucher{}, err
	}
	period, err := tx.PeriodForDate(ctx, p.tenantID, p.date)
	if errors.Is(err, shared.ErrPeriodNotFound) {
		return Voucher{}, &shared.PeriodLockedError{Date: p.date}
	}
	if err != nil {
		return Voucher{}, err
	}
	if err := admits(p, period); err != nil {
		return Voucher{}, err
	}
	resolved, err := s.resolveAccounts(ctx, tx, p)
	if err != nil {
		return Voucher{}, err
	}
	key, err := sequences.NewKey(p.tenantID, p.prefix, p.date)
	if err != nil {
		return Voucher{}, err
	}
	seq, err := tx.NextSequence(ctx, key)
	if err != nil {
		return Voucher{}, err
	}
	v := Voucher{
		TenantID:     p.tenantID,
		Number:       sequences.Format(key, seq),
		Prefix:       key.Prefix,
		Date:         p.date,
		PeriodID:     period.ID,
		Kind:         p.kind,
		ReversalOf:   p.reversalOf,
		SourceModule: p.sourceModule,
		Memo:         p.memo,
		Metadata:     p.metadata,
		PostedBy:     p.postedBy,
		PostedAt:     s.now(),
	}
	if p.sourceID != uuid.Nil {
		id := p.sourceID
		v.SourceID = &id
	}
	inserted, err := tx.InsertVoucher(ctx, v)
	if err != nil {
		return Voucher{}, err
	}
	lines := make([]Line, 0, len(p.lines))
	for idx, dl := range p.lines {
		acc := resolved[dl.AccountCode]
		lines = append(lines, Line{
			VoucherID:   inserted.ID,
			Position:    idx + 1,
			AccountID:   acc.ID,
			AccountCode: acc.Code,
			AccountName: acc.Name,
			Debit:       dl.Debit,
			Credit:      dl.Credit,
		})
	}
	if err := tx.InsertLines(ctx, inserted.ID, lines); err != nil {
		return Voucher{}, err
	}
	if p.sourceModule != "" && p.sourceID != uuid.Nil {
		if err := tx.LinkSource(ctx, p.tenantID, p.sourceModule, p.sourceID, inserted.ID); err != nil {
			if errors.Is(err, shared.ErrSourceConflict) {
				return Voucher{}, fmt.Errorf("%w: %s/%s", shared.ErrSourceAlreadyLinked, p.sourceModule, p.sourceID)
			}
			return Voucher{}, err
		}
	}
	inserted.Lines = lines
	return inserted, nil
}

// admits applies the period gate for the voucher's kind.
func admits(p posting, period periods.Period) error {
	locked := &shared.PeriodLockedError{Date: p.date, PeriodNumber: period.Number, Status: string(period.Status)}
	switch p.kind {
	case VoucherKindStandard:
		if period.Status != periods.PeriodStatusOpen {
			return locked
		}
	case VoucherKindReversal:
		if period.Status == periods.PeriodStatusClosed {
			return locked
		}
	case VoucherKindClosing:
		if period.Status == periods.PeriodStatusClosed {
			return locked
		}
		if period.ID != p.periodID {
			return fmt.Errorf("%w: closing date %s is outside period %d", shared.ErrDateOutOfRange, p.date.Format("2006-01-02"), p.periodID)
		}
	default:
		return shared.ErrInvalidStatus
	}
	return nil
}

func (s *Service) resolveAccounts(ctx context.Context, tx TxRepository, p posting) (map[string]accounts.Account, error) {
	codes := make([]string, 0, len(p.lines))
	seen := make(map[string]bool, len(p.lines))
	for _, l := range p.lines {
		if !seen[l.AccountCode] {
			seen[l.AccountCode] = true
			codes = append(codes, l.AccountCode)
		}
	}
	sort.Strings(codes)
	found, err := tx.AccountsByCode(ctx, p.tenantID, codes)
	if err != nil {
		return nil, err
	}
	for _, code := range codes {
		acc, ok := found[code]
		switch {
		case !ok:
			return nil, &shared.InvalidAccountError{Code: code, Reason: "unknown account"}
		case !acc.AllowDirectPosting:
			return nil, &shared.InvalidAccountError{Code: code, Reason: "account does not accept direct postings"}
		case !acc.IsActive && p.kind == VoucherKindStandard:
			// Reversals and closing entries must be able to clear balances
			// left on accounts deactivated since.
			return nil, &shared.InvalidAccountError{Code: code, Reason: "account is inactive"}
		}
	}
	return found, nil
}

func (s *Service) afterPost(ctx context.Context, v Voucher, action string) {
	debit, _ := v.Totals()
	s.logger.Info("voucher posted",
		slog.Int64("tenant_id", v.TenantID),
		slog.String("number", v.Number),
		slog.String("kind", string(v.Kind)),
		slog.String("amount", debit.String()))
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, v.TenantID); err != nil {
			s.logger.Warn("invalidate balances", slog.Int64("tenant_id", v.TenantID), slog.Any("error", err))
		}
	}
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"number": v.Number,
		"kind":   string(v.Kind),
		"amount": debit.String(),
	}
	if v.SourceModule != "" {
		meta["source_module"] = v.SourceModule
	}
	if v.SourceID != nil {
		meta["source_id"] = v.SourceID.String()
	}
	if v.ReversalOf != nil {
		meta["reversal_of"] = *v.ReversalOf
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  v.PostedBy,
		Action:   action,
		Entity:   "journal_voucher",
		EntityID: fmt.Sprintf("%d", v.ID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
