package reports

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
)

// AccountBalance models a general ledger account with aggregated movements.
// Opening is signed debit-positive; Debit and Credit are the movements since.
type AccountBalance struct {
	Code          string
	Name          string
	Type          accounts.AccountType
	NormalBalance accounts.NormalBalance
	Opening       decimal.Decimal
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

// Net is the closing position signed debit-positive.
func (a AccountBalance) Net() decimal.Decimal {
	return a.Opening.Add(a.Debit).Sub(a.Credit)
}

// Balance orients Net by the account's normal balance.
func (a AccountBalance) Balance() decimal.Decimal {
	if a.NormalBalance == accounts.NormalBalanceCredit {
		return a.Net().Neg()
	}
	return a.Net()
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}
