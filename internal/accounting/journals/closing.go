package journals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/periods"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// PeriodLookup resolves the period a closing voucher targets.
type PeriodLookup interface {
	GetPeriod(ctx context.Context, periodID int64) (periods.Period, error)
}

// ClosingPoster is the only path that writes CLOSING vouchers. It is handed
// to the closing engine at wiring time and never exposed to callers.
type ClosingPoster struct {
	svc     *Service
	periods PeriodLookup
}

// NewClosingPoster binds the ledger store to a period lookup.
func NewClosingPoster(svc *Service, lookup PeriodLookup) *ClosingPoster {
	return &ClosingPoster{svc: svc, periods: lookup}
}

// PostClosing writes a closing voucher dated on the last day of the period.
// The period may be OPEN or LOCKED. It locks every period through the closing
// date and rejects the draft with shared.ErrClosingStale unless its lines
// still zero the temporary accounts as of that date. The caller rebuilds and
// retries; the poster makes one attempt.
func (c *ClosingPoster) PostClosing(ctx context.Context, d ClosingDraft) (Voucher, error) {
	if c == nil || c.svc == nil || c.periods == nil {
		return Voucher{}, errors.New("journals: closing poster not initialised")
	}
	period, err := c.periods.GetPeriod(ctx, d.PeriodID)
	if err != nil {
		return Voucher{}, err
	}
	if period.TenantID != d.TenantID {
		return Voucher{}, shared.ErrPeriodNotFound
	}
	if period.Status == periods.PeriodStatusClosed {
		return Voucher{}, &shared.PeriodLockedError{Date: period.EndDate, PeriodNumber: period.Number, Status: string(period.Status)}
	}
	memo := d.Memo
	if memo == "" {
		memo = "Closing entries"
	}
	end := shared.DateOnly(period.EndDate)
	p := posting{
		tenantID: d.TenantID,
		date:     end,
		kind:     VoucherKindClosing,
		prefix:   c.svc.cfg.ClosingPrefix,
		periodID: period.ID,
		memo:     memo,
		metadata: map[string]any{
			"is_closing_entry": true,
			"period_id":        period.ID,
			"run_id":           d.RunID.String(),
		},
		postedBy: d.ActorID,
		lines:    d.Lines,
	}
	var v Voucher
	err = c.svc.repo.WithClosingTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockPeriodsThrough(ctx, d.TenantID, end); err != nil {
			return err
		}
		if err := checkClosingDraft(ctx, tx, d, end); err != nil {
			return err
		}
		var err error
		v, err = c.svc.write(ctx, tx, p)
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	c.svc.afterPost(ctx, v, "journal.close")
	return v, nil
}

// checkClosingDraft compares the draft against balances read under the
// period locks. Every temporary account must net to zero once the draft
// posts, and the draft may not touch a temporary account with no lines.
func checkClosingDraft(ctx context.Context, tx TxRepository, d ClosingDraft, asOf time.Time) error {
	nets, err := tx.TemporaryNets(ctx, d.TenantID, asOf)
	if err != nil {
		return err
	}
	drafted := make(map[string]decimal.Decimal, len(d.Lines))
	codes := make([]string, 0, len(d.Lines))
	for _, l := range d.Lines {
		if _, ok := drafted[l.AccountCode]; !ok {
			codes = append(codes, l.AccountCode)
		}
		drafted[l.AccountCode] = drafted[l.AccountCode].Add(l.Debit).Sub(l.Credit)
	}
	var moved []string
	for code, net := range nets {
		if !net.Add(drafted[code]).IsZero() {
			moved = append(moved, code)
		}
	}
	found, err := tx.AccountsByCode(ctx, d.TenantID, codes)
	if err != nil {
		return err
	}
	for _, code := range codes {
		if _, ok := nets[code]; !ok && found[code].Type.IsTemporary() {
			moved = append(moved, code)
		}
	}
	if len(moved) > 0 {
		sort.Strings(moved)
		return fmt.Errorf("%w: %v", shared.ErrClosingStale, moved)
	}
	return nil
}
