package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VoucherKind separates ordinary postings from engine generated ones.
type VoucherKind string

const (
	VoucherKindStandard VoucherKind = "STANDARD"
	VoucherKindReversal VoucherKind = "REVERSAL"
	VoucherKindClosing  VoucherKind = "CLOSING"
)

// Voucher is an immutable, balanced set of ledger lines.
type Voucher struct {
	ID           int64
	TenantID     int64
	Number       string
	Prefix       string
	Date         time.Time
	PeriodID     int64
	Kind         VoucherKind
	ReversalOf   *int64
	SourceModule string
	SourceID     *uuid.UUID
	Memo         string
	Metadata     map[string]any
	PostedBy     int64
	PostedAt     time.Time
	Lines        []Line
}

// IsClosingEntry reports whether the closing engine generated the voucher.
func (v Voucher) IsClosingEntry() bool {
	return v.Kind == VoucherKindClosing
}

// Totals sums both sides of the voucher.
func (v Voucher) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range v.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Line stores a debit or credit amount for an account. Code and name are
// copied at posting time so the voucher reads as it was posted.
type Line struct {
	ID          int64
	VoucherID   int64
	Position    int
	AccountID   int64
	AccountCode string
	AccountName string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}
