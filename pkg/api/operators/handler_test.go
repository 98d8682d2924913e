package operators

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ans_transparency/pkg/core/config"
	"ans_transparency/pkg/core/metrics"
	"ans_transparency/pkg/core/store"
)

// --- Mocks ---

type MockRepository struct {
	ListOperatorsFunc func(ctx context.Context, page, limit int, search string) ([]store.Operator, int, error)
	GetOperatorFunc   func(ctx context.Context, cnpj string) (*store.Operator, error)
	ListExpensesFunc  func(ctx context.Context, cnpj string) ([]store.ExpenseEntry, error)
	StatisticsFunc    func(ctx context.Context) (*store.Statistics, error)
}

func (m *MockRepository) ListOperators(ctx context.Context, page, limit int, search string) ([]store.Operator, int, error) {
	if m.ListOperatorsFunc != nil {
		return m.ListOperatorsFunc(ctx, page, limit, search)
	}
	return nil, 0, nil
}

func (m *MockRepository) GetOperator(ctx context.Context, cnpj string) (*store.Operator, error) {
	if m.GetOperatorFunc != nil {
		return m.GetOperatorFunc(ctx, cnpj)
	}
	return nil, store.ErrNotFound
}

func (m *MockRepository) ListExpenses(ctx context.Context, cnpj string) ([]store.ExpenseEntry, error) {
	if m.ListExpensesFunc != nil {
		return m.ListExpensesFunc(ctx, cnpj)
	}
	return nil, nil
}

func (m *MockRepository) Statistics(ctx context.Context) (*store.Statistics, error) {
	if m.StatisticsFunc != nil {
		return m.StatisticsFunc(ctx)
	}
	return &store.Statistics{Top5: []store.OperatorTotal{}}, nil
}

func ptr(s string) *string { return &s }

func newTestRouter(repo Repository) (http.Handler, *metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewHandler(repo, config.API{DefaultLimit: 10, MaxLimit: 100}, nil)
	return NewRouter(h, m, reg, nil), m, reg
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestHome(t *testing.T) {
	router, _, _ := newTestRouter(&MockRepository{})

	rec := do(t, router, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Liveness, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestList_Pagination(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantPage  int
		wantLimit int
	}{
		{"defaults", "", 1, 10},
		{"explicit", "?page=3&limit=25", 3, 25},
		{"capped", "?limit=1000", 1, 100},
		{"invalid falls back", "?page=abc&limit=-5", 1, 10},
		{"zero page", "?page=0", 1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPage, gotLimit int
			repo := &MockRepository{
				ListOperatorsFunc: func(_ context.Context, page, limit int, _ string) ([]store.Operator, int, error) {
					gotPage, gotLimit = page, limit
					return []store.Operator{{RegistryID: "123"}}, 42, nil
				},
			}
			router, _, _ := newTestRouter(repo)

			rec := do(t, router, http.MethodGet, "/api/operadoras"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantPage, gotPage)
			assert.Equal(t, tt.wantLimit, gotLimit)

			var body ListResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, 42, body.Total)
			assert.Equal(t, tt.wantPage, body.Page)
			assert.Equal(t, tt.wantLimit, body.Limit)
			require.Len(t, body.Data, 1)
		})
	}
}

func TestList_SearchAndEmpty(t *testing.T) {
	var gotSearch string
	repo := &MockRepository{
		ListOperatorsFunc: func(_ context.Context, _, _ int, search string) ([]store.Operator, int, error) {
			gotSearch = search
			return nil, 0, nil
		},
	}
	router, _, _ := newTestRouter(repo)

	rec := do(t, router, http.MethodGet, "/api/operadoras?search=%20unimed%20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unimed", gotSearch)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestDetail(t *testing.T) {
	repo := &MockRepository{
		GetOperatorFunc: func(_ context.Context, cnpj string) (*store.Operator, error) {
			if cnpj == "11444777000161" {
				return &store.Operator{RegistryID: "123", TaxID: ptr(cnpj), LegalName: ptr("ACME"), State: ptr("SP")}, nil
			}
			return nil, store.ErrNotFound
		},
	}
	router, _, _ := newTestRouter(repo)

	rec := do(t, router, http.MethodGet, "/api/operadoras/11444777000161")
	require.Equal(t, http.StatusOK, rec.Code)
	var op map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, "123", op["registro_ans"])
	assert.Equal(t, "ACME", op["razao_social"])
	assert.Nil(t, op["modalidade"])

	rec = do(t, router, http.MethodGet, "/api/operadoras/00000000000000")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "Operadora não encontrada", e.Error)
}

func TestExpenses(t *testing.T) {
	repo := &MockRepository{
		ListExpensesFunc: func(_ context.Context, cnpj string) ([]store.ExpenseEntry, error) {
			return []store.ExpenseEntry{
				{Year: 2024, Quarter: "2T", Value: 200},
				{Year: 2024, Quarter: "1T", Value: 300},
			}, nil
		},
	}
	router, _, _ := newTestRouter(repo)

	rec := do(t, router, http.MethodGet, "/api/operadoras/11444777000161/despesas")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []store.ExpenseEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "2T", got[0].Quarter)

	empty, _, _ := newTestRouter(&MockRepository{})
	rec = do(t, empty, http.MethodGet, "/api/operadoras/1/despesas")
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestStatistics(t *testing.T) {
	repo := &MockRepository{
		StatisticsFunc: func(context.Context) (*store.Statistics, error) {
			return &store.Statistics{Total: 600, Average: 200, Top5: []store.OperatorTotal{{LegalName: ptr("ACME"), Total: 600}}}, nil
		},
	}
	router, _, _ := newTestRouter(repo)

	rec := do(t, router, http.MethodGet, "/api/estatisticas")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 600.0, body["total_despesas"])
	assert.Equal(t, 200.0, body["media_despesas"])
	assert.Len(t, body["top_5"], 1)
}

func TestRepositoryFailure(t *testing.T) {
	repo := &MockRepository{
		StatisticsFunc: func(context.Context) (*store.Statistics, error) {
			return nil, errors.New("connection refused")
		},
	}
	router, _, _ := newTestRouter(repo)

	rec := do(t, router, http.MethodGet, "/api/estatisticas")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestPreflight(t *testing.T) {
	router, _, _ := newTestRouter(&MockRepository{})

	rec := do(t, router, http.MethodOptions, "/api/operadoras")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestMetrics(t *testing.T) {
	router, m, _ := newTestRouter(&MockRepository{})

	do(t, router, http.MethodGet, "/api/operadoras/1")
	do(t, router, http.MethodGet, "/api/operadoras/2")
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))

	rec := do(t, router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ans_api_request_duration_seconds_count{route="/api/operadoras/{cnpj}",status="404"} 2`)
}
