package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := map[error]int{
		shared.ErrNotFound:          http.StatusNotFound,
		shared.ErrValidation:        http.StatusBadRequest,
		shared.ErrInvalidQuantity:   http.StatusBadRequest,
		shared.ErrUnbalancedEntry:   http.StatusUnprocessableEntity,
		shared.ErrPeriodClosed:      http.StatusConflict,
		shared.ErrInsufficientStock: http.StatusUnprocessableEntity,
		shared.ErrInvalidState:      http.StatusConflict,
		shared.ErrAlreadyProcessed:  http.StatusConflict,
		shared.ErrConflict:          http.StatusConflict,
		fmt.Errorf("boom"):          http.StatusInternalServerError,
	}
	for kind, status := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, fmt.Errorf("inventory: %w", kind))
		require.Equal(t, status, rec.Code, kind.Error())

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, status, body.Status)
	}
}

func TestRespondErrorConflictCarriesRetryHint(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, shared.ErrConflict)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestPageRequestDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?per_page=1000", nil)
	page, err := PageRequest(req)
	require.NoError(t, err)
	require.Equal(t, 1, page.Page)
	require.Equal(t, shared.MaxPerPage, page.PerPage)

	req = httptest.NewRequest(http.MethodGet, "/x?page=abc", nil)
	_, err = PageRequest(req)
	require.ErrorIs(t, err, shared.ErrValidation)
}
