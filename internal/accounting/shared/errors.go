package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies ledger failures for callers.
type Kind int

const (
	// KindInternal covers infrastructure failures (store unreachable, timeouts).
	KindInternal Kind = iota
	// KindValidation is a caller error; never retried automatically.
	KindValidation
	// KindConflict is a concurrent-write collision; safe to retry.
	KindConflict
	// KindIntegrity signals a broken ledger and must be investigated.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindIntegrity:
		return "integrity"
	default:
		return "internal"
	}
}

// Validation errors.
var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrInvalidLine indicates a negative, zero, double-sided or over-precise amount.
	ErrInvalidLine = errors.New("accounting: invalid journal line")
	// ErrInvalidInput indicates a request failed struct validation.
	ErrInvalidInput = errors.New("accounting: invalid input")
	// ErrInvalidAccount indicates an unknown, inactive or non-postable account.
	ErrInvalidAccount = errors.New("accounting: invalid account")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrDuplicateAccountCode indicates the code already exists for the tenant.
	ErrDuplicateAccountCode = errors.New("accounting: account code already exists")
	// ErrSystemAccount indicates a write against a protected system account.
	ErrSystemAccount = errors.New("accounting: system account is protected")
	// ErrAccountInUse indicates the account is referenced by ledger lines.
	ErrAccountInUse = errors.New("accounting: account referenced by ledger")
	// ErrInvalidPeriod indicates missing or unknown period.
	ErrInvalidPeriod = errors.New("accounting: period is not open")
	// ErrPeriodLocked indicates locked or closed period.
	ErrPeriodLocked = errors.New("accounting: period locked")
	// ErrPeriodNotFound indicates the period does not exist.
	ErrPeriodNotFound = errors.New("accounting: period not found")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrPeriodStillOpen indicates a close attempt on a period that was never locked.
	ErrPeriodStillOpen = errors.New("accounting: period must be locked before closing")
	// ErrOpenPeriods indicates a fiscal year close with periods not yet closed.
	ErrOpenPeriods = errors.New("accounting: fiscal year has periods not closed")
	// ErrFiscalYearNotFound indicates missing fiscal year.
	ErrFiscalYearNotFound = errors.New("accounting: fiscal year not found")
	// ErrFiscalYearOverlap indicates the requested year conflicts with an existing range.
	ErrFiscalYearOverlap = errors.New("accounting: fiscal year overlaps existing range")
	// ErrFiscalYearClosed indicates the fiscal year is already closed.
	ErrFiscalYearClosed = errors.New("accounting: fiscal year already closed")
	// ErrFiscalYearHasPostings indicates deletion of a year that carries vouchers.
	ErrFiscalYearHasPostings = errors.New("accounting: fiscal year has postings")
	// ErrDateOutOfRange indicates journal date mismatch.
	ErrDateOutOfRange = errors.New("accounting: date outside period")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrAlreadyReversed indicates the voucher has a reversal already.
	ErrAlreadyReversed = errors.New("accounting: journal entry already reversed")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = errors.New("accounting: account mapping not found")
	// ErrInvalidPrefix indicates a document prefix that cannot be rendered.
	ErrInvalidPrefix = errors.New("accounting: invalid document prefix")
)

// Conflict errors.
var (
	// ErrSourceConflict indicates the source link already exists.
	ErrSourceConflict = errors.New("accounting: source link conflict")
	// ErrDuplicateCode indicates a generated document code was issued concurrently.
	ErrDuplicateCode = errors.New("accounting: document code already issued")
	// ErrConcurrentTransition indicates another actor changed the period first.
	ErrConcurrentTransition = errors.New("accounting: concurrent period transition")
	// ErrSerialization indicates the store aborted a transaction due to concurrent writes.
	ErrSerialization = errors.New("accounting: concurrent write conflict")
	// ErrCloseInProgress indicates another closing run holds the period lock.
	ErrCloseInProgress = errors.New("accounting: closing already in progress")
	// ErrStoreTimeout indicates the store call timed out before committing.
	ErrStoreTimeout = errors.New("accounting: store timed out")
	// ErrClosingStale indicates temporary balances moved after a closing draft was built.
	ErrClosingStale = errors.New("accounting: closing draft no longer matches balances")
)

// Integrity errors.
var (
	// ErrTrialBalanceUnbalanced indicates total debits != total credits across the ledger.
	ErrTrialBalanceUnbalanced = errors.New("accounting: trial balance does not balance")
	// ErrClosingResidue indicates closing entries left a nonzero revenue/expense balance.
	ErrClosingResidue = errors.New("accounting: closing left nonzero balance")
)

var validationErrors = []error{
	ErrUnbalanced, ErrTooFewLines, ErrInvalidLine, ErrInvalidInput, ErrInvalidAccount,
	ErrAccountNotFound, ErrDuplicateAccountCode, ErrSystemAccount, ErrAccountInUse,
	ErrInvalidPeriod, ErrPeriodLocked, ErrPeriodNotFound, ErrInvalidStatus, ErrPeriodStillOpen,
	ErrOpenPeriods, ErrFiscalYearNotFound, ErrFiscalYearOverlap, ErrFiscalYearClosed,
	ErrFiscalYearHasPostings, ErrDateOutOfRange, ErrSourceAlreadyLinked, ErrJournalNotFound,
	ErrAlreadyReversed, ErrMappingNotFound, ErrInvalidPrefix,
}

var conflictErrors = []error{
	ErrSourceConflict, ErrDuplicateCode, ErrConcurrentTransition, ErrSerialization, ErrCloseInProgress, ErrStoreTimeout,
	ErrClosingStale,
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if errors.Is(err, ErrTrialBalanceUnbalanced) || errors.Is(err, ErrClosingResidue) {
		return KindIntegrity
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return KindConflict
		}
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return KindValidation
		}
	}
	return KindInternal
}

// IsRetryable reports whether a fresh attempt may succeed.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}

// UnbalancedVoucherError carries the imbalance so callers can correct input.
type UnbalancedVoucherError struct {
	Debits  decimal.Decimal
	Credits decimal.Decimal
}

func (e *UnbalancedVoucherError) Error() string {
	return fmt.Sprintf("%s: debit %s, credit %s, difference %s",
		ErrUnbalanced, e.Debits.String(), e.Credits.String(), e.Debits.Sub(e.Credits).String())
}

func (e *UnbalancedVoucherError) Is(target error) bool { return target == ErrUnbalanced }

// InvalidAccountError names the offending account.
type InvalidAccountError struct {
	Code   string
	Reason string
}

func (e *InvalidAccountError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidAccount, e.Code, e.Reason)
}

func (e *InvalidAccountError) Is(target error) bool { return target == ErrInvalidAccount }

// InvalidLineError names the offending line position.
type InvalidLineError struct {
	Index  int
	Reason string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("%s %d: %s", ErrInvalidLine, e.Index, e.Reason)
}

func (e *InvalidLineError) Is(target error) bool { return target == ErrInvalidLine }

// PeriodLockedError reports which date hit a non-open period.
type PeriodLockedError struct {
	Date         time.Time
	PeriodNumber int
	Status       string
}

func (e *PeriodLockedError) Error() string {
	if e.PeriodNumber == 0 {
		return fmt.Sprintf("%s: no open period covers %s", ErrPeriodLocked, e.Date.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s: period %d is %s for %s", ErrPeriodLocked, e.PeriodNumber, strings.ToLower(e.Status), e.Date.Format("2006-01-02"))
}

func (e *PeriodLockedError) Is(target error) bool { return target == ErrPeriodLocked }

// PeriodState is a compact period summary used in error details.
type PeriodState struct {
	Number int
	Status string
}

// OpenPeriodsError lists periods blocking a fiscal year close.
type OpenPeriodsError struct {
	FiscalYearID int64
	Periods      []PeriodState
}

func (e *OpenPeriodsError) Error() string {
	parts := make([]string, 0, len(e.Periods))
	for _, p := range e.Periods {
		parts = append(parts, fmt.Sprintf("%d=%s", p.Number, p.Status))
	}
	return fmt.Sprintf("%s: %s", ErrOpenPeriods, strings.Join(parts, ", "))
}

func (e *OpenPeriodsError) Is(target error) bool { return target == ErrOpenPeriods }

// TrialBalanceError is raised when the ledger no longer balances.
type TrialBalanceError struct {
	TenantID     int64
	AsOf         time.Time
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
}

func (e *TrialBalanceError) Error() string {
	return fmt.Sprintf("%s: tenant %d as of %s debit %s credit %s",
		ErrTrialBalanceUnbalanced, e.TenantID, e.AsOf.Format("2006-01-02"), e.TotalDebits.String(), e.TotalCredits.String())
}

func (e *TrialBalanceError) Is(target error) bool { return target == ErrTrialBalanceUnbalanced }

// InvalidInputError carries field level validation failures.
type InvalidInputError struct {
	Fields map[string]string
}

func (e *InvalidInputError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		keys = append(keys, k+" "+v)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(keys, "; "))
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }
