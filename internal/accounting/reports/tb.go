package reports

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// TrialBalanceRow places an account's balance in its debit or credit column.
type TrialBalanceRow struct {
	Code    string
	Name    string
	Type    accounts.AccountType
	Debit   decimal.Decimal
	Credit  decimal.Decimal
	Balance decimal.Decimal
}

// TrialBalanceGroup aggregates rows sharing a code prefix.
type TrialBalanceGroup struct {
	Key    string
	Rows   []TrialBalanceRow
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// TrialBalance lists every account's balance as of a date.
type TrialBalance struct {
	AsOf         time.Time
	Groups       []TrialBalanceGroup
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
	IsBalanced   bool
}

// Rows flattens the groups in code order.
func (tb TrialBalance) Rows() []TrialBalanceRow {
	var out []TrialBalanceRow
	for _, g := range tb.Groups {
		out = append(out, g.Rows...)
	}
	return out
}

// BuildTrialBalance partitions each account by the sign of its net position.
// It never adjusts totals; an unbalanced result is reported as such.
func BuildTrialBalance(asOf time.Time, balances []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	result := TrialBalance{AsOf: asOf, TotalDebits: decimal.Zero, TotalCredits: decimal.Zero}
	for _, acc := range balances {
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key, Debit: decimal.Zero, Credit: decimal.Zero}
			groups[key] = grp
			keys = append(keys, key)
		}
		debit, credit := shared.Side(acc.Net())
		grp.Rows = append(grp.Rows, TrialBalanceRow{
			Code:    acc.Code,
			Name:    acc.Name,
			Type:    acc.Type,
			Debit:   debit,
			Credit:  credit,
			Balance: acc.Balance(),
		})
		grp.Debit = grp.Debit.Add(debit)
		grp.Credit = grp.Credit.Add(credit)
	}

	sort.Strings(keys)
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Rows, func(i, j int) bool {
			return accounts.CompareCodes(grp.Rows[i].Code, grp.Rows[j].Code) < 0
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebits = result.TotalDebits.Add(grp.Debit)
		result.TotalCredits = result.TotalCredits.Add(grp.Credit)
	}
	result.IsBalanced = result.TotalDebits.Equal(result.TotalCredits)
	return result
}
