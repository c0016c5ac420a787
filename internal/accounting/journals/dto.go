package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// DraftLine references an account by code with one nonzero side.
type DraftLine struct {
	AccountCode string `validate:"required,max=32"`
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// Draft is a voucher submitted by a calling module.
type Draft struct {
	TenantID     int64     `validate:"required,gt=0"`
	Date         time.Time `validate:"required"`
	Prefix       string    `validate:"omitempty,max=16"`
	SourceModule string    `validate:"max=64"`
	SourceID     uuid.UUID
	Memo         string `validate:"max=500"`
	Metadata     map[string]any
	PostedBy     int64
	Lines        []DraftLine `validate:"dive"`
}

// ReverseInput requests a mirror image of a posted voucher.
type ReverseInput struct {
	TenantID  int64 `validate:"required,gt=0"`
	VoucherID int64 `validate:"required,gt=0"`
	// Date defaults to today.
	Date    *time.Time
	ActorID int64
	Memo    string `validate:"max=500"`
}

// ClosingDraft is built by the closing engine only.
type ClosingDraft struct {
	TenantID int64
	PeriodID int64
	RunID    uuid.UUID
	ActorID  int64
	Memo     string
	Lines    []DraftLine
}

// Filter narrows voucher listings. Zero dates are open bounds.
type Filter struct {
	TenantID    int64
	From        time.Time
	To          time.Time
	Kind        VoucherKind
	AccountCode string
	Page        int
	PerPage     int
}

// checkLines enforces the shape of every line and the balance of the whole.
func checkLines(lines []DraftLine, precision int32) error {
	if len(lines) < 2 {
		return shared.ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range lines {
		switch {
		case line.AccountCode == "":
			return &shared.InvalidLineError{Index: idx, Reason: "account code required"}
		case line.Debit.IsNegative() || line.Credit.IsNegative():
			return &shared.InvalidLineError{Index: idx, Reason: "negative amount"}
		case !line.Debit.IsZero() && !line.Credit.IsZero():
			return &shared.InvalidLineError{Index: idx, Reason: "both debit and credit set"}
		case line.Debit.IsZero() && line.Credit.IsZero():
			return &shared.InvalidLineError{Index: idx, Reason: "zero amount"}
		case !shared.FitsPrecision(line.Debit, precision) || !shared.FitsPrecision(line.Credit, precision):
			return &shared.InvalidLineError{Index: idx, Reason: "amount exceeds currency precision"}
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return &shared.UnbalancedVoucherError{Debits: debit, Credits: credit}
	}
	return nil
}

func mirror(lines []Line) []DraftLine {
	out := make([]DraftLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, DraftLine{AccountCode: l.AccountCode, Debit: l.Credit, Credit: l.Debit})
	}
	return out
}
