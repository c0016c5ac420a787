package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	_ "github.com/odyssey-erp/ledger/testing"
)

func respond(t *testing.T, err error) (int, ProblemDetail) {
	t.Helper()
	rr := httptest.NewRecorder()
	RespondError(rr, err)
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	return rr.Code, p
}

func TestRespondErrorValidationKeepsDetail(t *testing.T) {
	code, p := respond(t, fmt.Errorf("lookup: %w", shared.ErrAccountNotFound))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, p.Detail, shared.ErrAccountNotFound.Error())
	assert.Equal(t, "urn:ledger:error:validation", p.Type)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	code, p := respond(t, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotContains(t, p.Detail, "10.0.0.5")

	code, p = respond(t, shared.ErrSerialization)
	assert.Equal(t, http.StatusConflict, code)
	assert.NotContains(t, p.Detail, "serialization")
}
