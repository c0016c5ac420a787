package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalBalance returns the side on which increases are recorded.
func (t AccountType) NormalBalance() NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

// IsTemporary reports whether the account is zeroed by closing entries.
func (t AccountType) IsTemporary() bool {
	return t == AccountTypeRevenue || t == AccountTypeExpense
}

// NormalBalance is the side that increases an account.
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "DEBIT"
	NormalBalanceCredit NormalBalance = "CREDIT"
)

// Account models a chart of accounts node.
type Account struct {
	ID                 int64
	TenantID           int64
	Code               string
	Name               string
	Type               AccountType
	Category           string
	NormalBalance      NormalBalance
	ParentID           *int64
	IsSystem           bool
	IsActive           bool
	AllowDirectPosting bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Balance orients summed debits and credits by the account's normal balance.
func (a Account) Balance(debit, credit decimal.Decimal) decimal.Decimal {
	if a.NormalBalance == NormalBalanceCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// CreateInput describes a tenant defined account.
type CreateInput struct {
	TenantID   int64       `validate:"required,gt=0"`
	Code       string      `validate:"required,max=32"`
	Name       string      `validate:"required,max=200"`
	Type       AccountType `validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	Category   string      `validate:"max=64"`
	ParentCode string      `validate:"max=32"`
	Header     bool
}

// UpdateInput changes mutable fields of a non-system account.
type UpdateInput struct {
	TenantID           int64   `validate:"required,gt=0"`
	Code               string  `validate:"required"`
	Name               *string `validate:"omitempty,min=1,max=200"`
	Category           *string `validate:"omitempty,max=64"`
	ParentCode         *string `validate:"omitempty,max=32"`
	AllowDirectPosting *bool
}

// Merge records one duplicate folded into its primary.
type Merge struct {
	PrimaryID   int64
	PrimaryCode string
	RemovedID   int64
	RemovedCode string
	Reassigned  int64
}

// MergeReport summarises a ResolveDuplicates run.
type MergeReport struct {
	Groups int
	Merges []Merge
	// Skipped lists duplicates left in place because they are system accounts.
	Skipped []string
}
