package reports

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
)

// ProfitAndLossAccount represents a revenue or expense account summary.
type ProfitAndLossAccount struct {
	Code   string
	Name   string
	Amount decimal.Decimal
}

// ProfitAndLossSection groups accounts by nature.
type ProfitAndLossSection struct {
	Label    string
	Accounts []ProfitAndLossAccount
	Total    decimal.Decimal
}

// ProfitAndLoss contains the structured output for the report.
type ProfitAndLoss struct {
	From      time.Time
	To        time.Time
	Revenue   ProfitAndLossSection
	Expense   ProfitAndLossSection
	NetIncome decimal.Decimal
}

// BuildProfitAndLoss aggregates movements into revenue and expense sections.
// Callers pass movements for the range with closing vouchers excluded.
func BuildProfitAndLoss(from, to time.Time, balances []AccountBalance) ProfitAndLoss {
	revenue := ProfitAndLossSection{Label: "Revenue", Total: decimal.Zero}
	expense := ProfitAndLossSection{Label: "Expense", Total: decimal.Zero}

	for _, acc := range balances {
		net := acc.Debit.Sub(acc.Credit)
		switch acc.Type {
		case accounts.AccountTypeRevenue:
			if net.IsZero() {
				continue
			}
			revenue.Accounts = append(revenue.Accounts, ProfitAndLossAccount{Code: acc.Code, Name: acc.Name, Amount: net.Neg()})
			revenue.Total = revenue.Total.Sub(net)
		case accounts.AccountTypeExpense:
			if net.IsZero() {
				continue
			}
			expense.Accounts = append(expense.Accounts, ProfitAndLossAccount{Code: acc.Code, Name: acc.Name, Amount: net})
			expense.Total = expense.Total.Add(net)
		}
	}

	sort.Slice(revenue.Accounts, func(i, j int) bool { return revenue.Accounts[i].Code < revenue.Accounts[j].Code })
	sort.Slice(expense.Accounts, func(i, j int) bool { return expense.Accounts[i].Code < expense.Accounts[j].Code })

	return ProfitAndLoss{
		From:      from,
		To:        to,
		Revenue:   revenue,
		Expense:   expense,
		NetIncome: revenue.Total.Sub(expense.Total),
	}
}
