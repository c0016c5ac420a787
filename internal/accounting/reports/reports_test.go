package reports

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
	_ "github.com/odyssey-erp/ledger/testing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bal(code string, typ accounts.AccountType, debit, credit string) AccountBalance {
	return AccountBalance{
		Code:          code,
		Name:          code,
		Type:          typ,
		NormalBalance: typ.NormalBalance(),
		Opening:       decimal.Zero,
		Debit:         d(debit),
		Credit:        d(credit),
	}
}

var asOf = time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC)

func TestBuildTrialBalancePartitionsBySign(t *testing.T) {
	tb := BuildTrialBalance(asOf, []AccountBalance{
		bal("1110", accounts.AccountTypeAsset, "1500", "500"),
		bal("2100", accounts.AccountTypeLiability, "0", "300"),
		bal("4100", accounts.AccountTypeRevenue, "0", "700"),
	})

	require.True(t, tb.IsBalanced)
	assert.True(t, tb.TotalDebits.Equal(d("1000")))
	assert.True(t, tb.TotalCredits.Equal(d("1000")))

	rows := tb.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "1110", rows[0].Code)
	assert.True(t, rows[0].Debit.Equal(d("1000")))
	assert.True(t, rows[0].Credit.IsZero())
	assert.True(t, rows[1].Credit.Equal(d("300")))
	assert.True(t, rows[1].Balance.Equal(d("300")), "liability balance is credit oriented")
}

func TestBuildTrialBalanceReportsImbalance(t *testing.T) {
	tb := BuildTrialBalance(asOf, []AccountBalance{
		bal("1110", accounts.AccountTypeAsset, "100", "0"),
		bal("4100", accounts.AccountTypeRevenue, "0", "90"),
	})
	assert.False(t, tb.IsBalanced)
	assert.True(t, tb.TotalDebits.Equal(d("100")))
	assert.True(t, tb.TotalCredits.Equal(d("90")))
}

func TestBuildTrialBalanceGroupsByPrefix(t *testing.T) {
	tb := BuildTrialBalance(asOf, []AccountBalance{
		bal("1120", accounts.AccountTypeAsset, "50", "0"),
		bal("1110", accounts.AccountTypeAsset, "50", "0"),
		bal("2100", accounts.AccountTypeLiability, "0", "100"),
	})
	require.Len(t, tb.Groups, 2)
	assert.Equal(t, "11", tb.Groups[0].Key)
	assert.Equal(t, "1110", tb.Groups[0].Rows[0].Code)
	assert.True(t, tb.Groups[0].Debit.Equal(d("100")))
}

func TestBuildTrialBalanceUsesOpening(t *testing.T) {
	acc := bal("1110", accounts.AccountTypeAsset, "0", "40")
	acc.Opening = d("100")
	tb := BuildTrialBalance(asOf, []AccountBalance{acc, bal("3100", accounts.AccountTypeEquity, "0", "60")})
	assert.True(t, tb.IsBalanced)
	assert.True(t, tb.Rows()[0].Debit.Equal(d("60")))
}

func TestBuildProfitAndLoss(t *testing.T) {
	from := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	pl := BuildProfitAndLoss(from, asOf, []AccountBalance{
		bal("4100", accounts.AccountTypeRevenue, "100", "1100"),
		bal("5100", accounts.AccountTypeExpense, "400", "0"),
		bal("5200", accounts.AccountTypeExpense, "0", "0"),
		bal("1110", accounts.AccountTypeAsset, "999", "0"),
	})
	require.Len(t, pl.Revenue.Accounts, 1)
	require.Len(t, pl.Expense.Accounts, 1)
	assert.True(t, pl.Revenue.Total.Equal(d("1000")))
	assert.True(t, pl.Expense.Total.Equal(d("400")))
	assert.True(t, pl.NetIncome.Equal(d("600")))
}

func TestBuildBalanceSheetFoldsCurrentEarnings(t *testing.T) {
	bs := BuildBalanceSheet(asOf, []AccountBalance{
		bal("1110", accounts.AccountTypeAsset, "1600", "0"),
		bal("2100", accounts.AccountTypeLiability, "0", "500"),
		bal("3100", accounts.AccountTypeEquity, "0", "500"),
		bal("4100", accounts.AccountTypeRevenue, "0", "1000"),
		bal("5100", accounts.AccountTypeExpense, "400", "0"),
	})
	require.True(t, bs.IsBalanced)
	assert.True(t, bs.Assets.Total.Equal(d("1600")))
	assert.True(t, bs.Liabilities.Total.Equal(d("500")))
	assert.True(t, bs.Equity.Total.Equal(d("1100")))
	last := bs.Equity.Accounts[len(bs.Equity.Accounts)-1]
	assert.Equal(t, CurrentEarningsCode, last.Code)
	assert.True(t, last.Balance.Equal(d("600")))
}

func TestBuildBalanceSheetAfterClosing(t *testing.T) {
	bs := BuildBalanceSheet(asOf, []AccountBalance{
		bal("1110", accounts.AccountTypeAsset, "1000", "0"),
		bal("3200", accounts.AccountTypeEquity, "0", "1000"),
		bal("4100", accounts.AccountTypeRevenue, "1000", "1000"),
	})
	assert.True(t, bs.IsBalanced)
	for _, row := range bs.Equity.Accounts {
		assert.NotEqual(t, CurrentEarningsCode, row.Code)
	}
}
