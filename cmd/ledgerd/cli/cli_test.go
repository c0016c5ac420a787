package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	_ "github.com/odyssey-erp/ledger/testing"
)

type stubBalances struct {
	balances []reports.AccountBalance
	err      error
	asOf     time.Time
}

func (s *stubBalances) GetTrialBalance(ctx context.Context, asOf time.Time, tenantID int64) (reports.TrialBalance, error) {
	s.asOf = asOf
	if s.err != nil {
		return reports.TrialBalance{}, s.err
	}
	tb := reports.BuildTrialBalance(asOf, s.balances)
	if !tb.IsBalanced {
		return tb, &shared.TrialBalanceError{TenantID: tenantID, AsOf: asOf, TotalDebits: tb.TotalDebits, TotalCredits: tb.TotalCredits}
	}
	return tb, nil
}

func bal(code, name string, typ accounts.AccountType, debit, credit int64) reports.AccountBalance {
	return reports.AccountBalance{Code: code, Name: name, Type: typ, NormalBalance: typ.NormalBalance(),
		Debit: decimal.NewFromInt(debit), Credit: decimal.NewFromInt(credit)}
}

func TestTrialBalanceCommandJSON(t *testing.T) {
	stub := &stubBalances{balances: []reports.AccountBalance{
		bal("1110", "Cash", accounts.AccountTypeAsset, 500, 0),
		bal("4100", "Sales Revenue", accounts.AccountTypeRevenue, 0, 500),
	}}
	c, err := NewReportsCLI(stub)
	require.NoError(t, err)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.TrialBalanceCommand(context.Background(), TrialBalanceOptions{
		TenantID: 1, AsOf: "2025-11-30", JSONOutput: true, Stdout: stdout, Stderr: stderr,
	})
	require.Zero(t, code, stderr.String())
	assert.Equal(t, "2025-11-30", stub.asOf.Format("2006-01-02"))

	var summary TrialBalanceSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	assert.True(t, summary.Balanced)
	assert.Equal(t, "500.00", summary.TotalDebits)
	require.Len(t, summary.Rows, 2)
	assert.Equal(t, TrialBalanceRow{Code: "4100", Name: "Sales Revenue", Debit: "0.00", Credit: "500.00"}, summary.Rows[1])
}

func TestTrialBalanceCommandUnbalancedExitsTwo(t *testing.T) {
	stub := &stubBalances{balances: []reports.AccountBalance{
		bal("1110", "Cash", accounts.AccountTypeAsset, 500, 0),
		bal("4100", "Sales Revenue", accounts.AccountTypeRevenue, 0, 499),
	}}
	c, err := NewReportsCLI(stub)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := c.TrialBalanceCommand(context.Background(), TrialBalanceOptions{TenantID: 1, Stdout: stdout, Stderr: new(bytes.Buffer),
		now: func() time.Time { return time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC) }})
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout.String(), "LEDGER DOES NOT BALANCE")
	assert.Contains(t, stdout.String(), "as of 2025-12-01")
}

func TestTrialBalanceCommandRejectsBadInput(t *testing.T) {
	c, err := NewReportsCLI(&stubBalances{})
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	assert.Equal(t, 1, c.TrialBalanceCommand(context.Background(), TrialBalanceOptions{Stdout: new(bytes.Buffer), Stderr: stderr}))
	assert.Contains(t, stderr.String(), "-tenant is required")

	stderr.Reset()
	assert.Equal(t, 1, c.TrialBalanceCommand(context.Background(), TrialBalanceOptions{TenantID: 1, AsOf: "30/11/2025", Stdout: new(bytes.Buffer), Stderr: stderr}))
	assert.Contains(t, stderr.String(), "invalid -as-of")
}

func TestTrialBalanceCommandStoreFailure(t *testing.T) {
	c, err := NewReportsCLI(&stubBalances{err: shared.ErrStoreTimeout})
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	assert.Equal(t, 1, c.TrialBalanceCommand(context.Background(), TrialBalanceOptions{TenantID: 1, Stdout: new(bytes.Buffer), Stderr: stderr}))
	assert.NotEmpty(t, stderr.String())
}
