// Package httpx provides HTTP response utilities.
package httpx

import (
	"net/http"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// RespondError maps a ledger error to an RFC7807 response. Only validation
// errors carry their detail; conflict and integrity failures stay generic.
func RespondError(w http.ResponseWriter, err error) {
	status := shared.HTTPStatus(err)
	Problem(w, status, http.StatusText(status), shared.PublicMessage(err), shared.KindOf(err).String())
}
