package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// TrialBalancer is the read side the report commands need.
type TrialBalancer interface {
	GetTrialBalance(ctx context.Context, asOf time.Time, tenantID int64) (reports.TrialBalance, error)
}

// ReportsCLI prints ledger reports for operators.
type ReportsCLI struct {
	balances TrialBalancer
}

// NewReportsCLI binds the report commands to a balance source.
func NewReportsCLI(balances TrialBalancer) (*ReportsCLI, error) {
	if balances == nil {
		return nil, errors.New("reports cli: balances not configured")
	}
	return &ReportsCLI{balances: balances}, nil
}

// TrialBalanceOptions defines available flags for the trial-balance command.
type TrialBalanceOptions struct {
	TenantID   int64
	AsOf       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
	now        func() time.Time
}

// TrialBalanceSummary is the JSON shape of the trial-balance command.
type TrialBalanceSummary struct {
	TenantID     int64             `json:"tenant_id"`
	AsOf         string            `json:"as_of"`
	Balanced     bool              `json:"balanced"`
	TotalDebits  string            `json:"total_debits"`
	TotalCredits string            `json:"total_credits"`
	Rows         []TrialBalanceRow `json:"rows"`
}

// TrialBalanceRow is one account line of the summary.
type TrialBalanceRow struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Debit  string `json:"debit"`
	Credit string `json:"credit"`
}

// TrialBalanceCommand prints the trial balance. It exits 2 when the ledger
// does not balance so scripts can alert on it.
func (c *ReportsCLI) TrialBalanceCommand(ctx context.Context, opts TrialBalanceOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.TenantID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "trial-balance: -tenant is required and must be positive")
		return 1
	}
	asOf := time.Now().UTC()
	if opts.now != nil {
		asOf = opts.now()
	}
	if s := strings.TrimSpace(opts.AsOf); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "trial-balance: invalid -as-of %q, expected YYYY-MM-DD\n", s)
			return 1
		}
		asOf = parsed
	}

	tb, err := c.balances.GetTrialBalance(ctx, asOf, opts.TenantID)
	var unbalanced *shared.TrialBalanceError
	if err != nil && !errors.As(err, &unbalanced) {
		_, _ = fmt.Fprintf(opts.Stderr, "trial-balance: %s\n", shared.PublicMessage(err))
		return 1
	}

	summary := buildTrialBalanceSummary(opts.TenantID, tb)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "trial-balance: encode: %v\n", err)
			return 1
		}
	} else {
		renderTrialBalanceHuman(opts.Stdout, summary)
	}
	if !summary.Balanced {
		return 2
	}
	return 0
}

func buildTrialBalanceSummary(tenantID int64, tb reports.TrialBalance) TrialBalanceSummary {
	rows := tb.Rows()
	out := TrialBalanceSummary{
		TenantID:     tenantID,
		AsOf:         tb.AsOf.Format("2006-01-02"),
		Balanced:     tb.IsBalanced,
		TotalDebits:  tb.TotalDebits.StringFixed(2),
		TotalCredits: tb.TotalCredits.StringFixed(2),
		Rows:         make([]TrialBalanceRow, 0, len(rows)),
	}
	for _, row := range rows {
		out.Rows = append(out.Rows, TrialBalanceRow{
			Code:   row.Code,
			Name:   row.Name,
			Debit:  row.Debit.StringFixed(2),
			Credit: row.Credit.StringFixed(2),
		})
	}
	return out
}

func renderTrialBalanceHuman(out io.Writer, s TrialBalanceSummary) {
	_, _ = fmt.Fprintf(out, "Trial balance for tenant %d as of %s\n", s.TenantID, s.AsOf)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "Code\tAccount\tDebit\tCredit\t")
	for _, row := range s.Rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", row.Code, row.Name, row.Debit, row.Credit)
	}
	_, _ = fmt.Fprintf(tw, "\tTotal\t%s\t%s\t\n", s.TotalDebits, s.TotalCredits)
	_ = tw.Flush()
	if s.Balanced {
		_, _ = fmt.Fprintln(out, "Ledger is balanced.")
	} else {
		_, _ = fmt.Fprintln(out, "LEDGER DOES NOT BALANCE.")
	}
}
