package shared

import (
	"errors"
	"net/http"
)

// HTTPStatus maps a ledger error onto the status code the API layer should return.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindValidation:
		switch {
		case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrJournalNotFound),
			errors.Is(err, ErrPeriodNotFound), errors.Is(err, ErrFiscalYearNotFound),
			errors.Is(err, ErrMappingNotFound):
			return http.StatusNotFound
		case errors.Is(err, ErrPeriodLocked), errors.Is(err, ErrInvalidStatus),
			errors.Is(err, ErrPeriodStillOpen), errors.Is(err, ErrOpenPeriods),
			errors.Is(err, ErrSystemAccount), errors.Is(err, ErrAccountInUse):
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadRequest
		}
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns text safe for untrusted callers. Validation errors carry
// their detail; everything else is reduced to a generic message.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindValidation:
		return err.Error()
	case KindConflict:
		return "request conflicted with a concurrent update, please retry"
	default:
		return http.StatusText(http.StatusInternalServerError)
	}
}
