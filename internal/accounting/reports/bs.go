package reports

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
)

// CurrentEarningsCode labels the synthetic equity row for unclosed earnings.
const CurrentEarningsCode = "CURRENT_EARNINGS"

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	Code    string
	Name    string
	Balance decimal.Decimal
}

// BalanceSheetSection contains the accounts and totals for a classification.
type BalanceSheetSection struct {
	Label    string
	Accounts []BalanceSheetAccount
	Total    decimal.Decimal
}

// BalanceSheet is the structured response for the balance sheet report.
type BalanceSheet struct {
	AsOf                      time.Time
	Assets                    BalanceSheetSection
	Liabilities               BalanceSheetSection
	Equity                    BalanceSheetSection
	TotalLiabilitiesAndEquity decimal.Decimal
	IsBalanced                bool
}

// BuildBalanceSheet aggregates balances into assets, liabilities, and equity.
// Revenue and expense balances not yet closed are folded into equity as
// current earnings so the sheet balances between closings.
func BuildBalanceSheet(asOf time.Time, balances []AccountBalance) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets", Total: decimal.Zero}
	liabilities := BalanceSheetSection{Label: "Liabilities", Total: decimal.Zero}
	equity := BalanceSheetSection{Label: "Equity", Total: decimal.Zero}
	earnings := decimal.Zero

	for _, acc := range balances {
		balance := acc.Balance()
		row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: balance}
		switch acc.Type {
		case accounts.AccountTypeAsset:
			assets.Accounts = append(assets.Accounts, row)
			assets.Total = assets.Total.Add(balance)
		case accounts.AccountTypeLiability:
			liabilities.Accounts = append(liabilities.Accounts, row)
			liabilities.Total = liabilities.Total.Add(balance)
		case accounts.AccountTypeEquity:
			equity.Accounts = append(equity.Accounts, row)
			equity.Total = equity.Total.Add(balance)
		case accounts.AccountTypeRevenue, accounts.AccountTypeExpense:
			earnings = earnings.Sub(acc.Net())
		}
	}
	if !earnings.IsZero() {
		equity.Accounts = append(equity.Accounts, BalanceSheetAccount{Code: CurrentEarningsCode, Name: "Current Earnings", Balance: earnings})
		equity.Total = equity.Total.Add(earnings)
	}

	for _, sec := range []*BalanceSheetSection{&assets, &liabilities, &equity} {
		rows := sec.Accounts
		sort.SliceStable(rows, func(i, j int) bool { return accounts.CompareCodes(rows[i].Code, rows[j].Code) < 0 })
	}

	total := liabilities.Total.Add(equity.Total)
	return BalanceSheet{
		AsOf:                      asOf,
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		TotalLiabilitiesAndEquity: total,
		IsBalanced:                assets.Total.Equal(total),
	}
}
