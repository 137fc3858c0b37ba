package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

type stubRepo struct {
	rows        []TimelineRow
	total       int
	err         error
	lastFilters TimelineFilters
	lastLimit   int
}

func (s *stubRepo) Timeline(_ context.Context, filters TimelineFilters) ([]TimelineRow, int, error) {
	s.lastFilters = filters
	return s.rows, s.total, s.err
}

func (s *stubRepo) Export(_ context.Context, filters TimelineFilters, limit int) ([]TimelineRow, error) {
	s.lastFilters = filters
	s.lastLimit = limit
	return s.rows, s.err
}

func sampleRows() []TimelineRow {
	return []TimelineRow{
		{ID: 2, At: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC), ActorID: 42, Action: "journal:post", Entity: "journal_entry", EntityID: "7", Meta: map[string]any{"code": "JE-001"}},
		{ID: 1, At: time.Date(2026, 1, 9, 9, 0, 0, 0, time.UTC), Action: "inventory:PURCHASE", Entity: "stock_transaction", EntityID: "3"},
	}
}

func TestTimelineNormalisesPaging(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(), total: 45}
	svc := NewService(repo)

	rows, meta, err := svc.Timeline(context.Background(), TimelineFilters{Entity: "journal_entry"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, shared.Pagination{Page: 1, PerPage: shared.DefaultPerPage, Total: 45, TotalPages: 3}, meta)
	require.Equal(t, shared.DefaultPerPage, repo.lastFilters.PerPage)
	require.Equal(t, "journal_entry", repo.lastFilters.Entity)
}

func TestTimelineRejectsInvertedRange(t *testing.T) {
	svc := NewService(&stubRepo{})
	_, _, err := svc.Timeline(context.Background(), TimelineFilters{
		From: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestExportCapsRows(t *testing.T) {
	repo := &stubRepo{rows: sampleRows()}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, MaxExportRows, repo.lastLimit)

	var unset *Service
	_, err = unset.Export(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	body, err := WriteCSV(sampleRows())
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, []string{"2", "2026-01-10T09:00:00Z", "42", "journal:post", "journal_entry", "7", `{"code":"JE-001"}`}, records[1])
	require.Equal(t, "", records[2][2])
	require.Equal(t, "", records[2][6])
}

func newRouter(repo *stubRepo) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, NewService(repo)).MountRoutes(r)
	return r
}

func TestTimelineHandlerParsesFilters(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(), total: 2}
	rr := httptest.NewRecorder()
	newRouter(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/audit/?from=2026-01-01&to=2026-01-31&actor_id=42&entity=journal_entry&entity_id=7&action=journal:post&page=2&per_page=1", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), repo.lastFilters.From)
	require.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), repo.lastFilters.To)
	require.EqualValues(t, 42, repo.lastFilters.ActorID)
	require.Equal(t, "7", repo.lastFilters.EntityID)
	require.Equal(t, "journal:post", repo.lastFilters.Action)
	require.Equal(t, shared.PageRequest{Page: 2, PerPage: 1}, repo.lastFilters.PageRequest)

	var page httpx.Page[TimelineRow]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Data, 2)
	require.Equal(t, 2, page.Pagination.Total)
}

func TestTimelineHandlerRejectsBadInput(t *testing.T) {
	for _, query := range []string{"from=yesterday", "to=2026-13-01", "actor_id=abc", "from=2026-02-01&to=2026-01-01"} {
		rr := httptest.NewRecorder()
		newRouter(&stubRepo{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/?"+query, nil))
		require.Equal(t, http.StatusBadRequest, rr.Code, query)
	}
}

func TestTimelineHandlerSurfacesStoreErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter(&stubRepo{err: errors.New("db down")}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestExportHandlerIsRateLimited(t *testing.T) {
	router := newRouter(&stubRepo{rows: sampleRows()})
	for i := 0; i < exportRateLimit; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}
