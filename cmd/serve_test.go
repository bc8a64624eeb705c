package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/monitoring"
	"github.com/sells-group/leadgen/internal/store"
)

func newTestCollector(t *testing.T) *monitoring.Collector {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "leadgen.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	c := &model.Company{Name: "Summit Manufacturing", State: "OH", NAICSCode: "332710"}
	_, err = s.UpsertCompany(ctx, c)
	require.NoError(t, err)

	require.NoError(t, s.IncrementUsage(ctx, "apollo", "2026-09-01", "2026-09", true, decimal.RequireFromString("0.01")))

	return monitoring.NewCollector(s, nil, 80)
}

func TestRouterHealthz(t *testing.T) {
	router := newRouter(newTestCollector(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestRouterStatus(t *testing.T) {
	router := newRouter(newTestCollector(t))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var snap monitoring.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.Enrichment[model.EnrichmentPending])
	assert.Equal(t, 80, snap.ScoreThreshold)
}

func TestRouterUsage(t *testing.T) {
	router := newRouter(newTestCollector(t))

	req := httptest.NewRequest(http.MethodGet, "/api/usage?month=2026-09", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Month     string                     `json:"month"`
		Providers []monitoring.ProviderSpend `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "2026-09", resp.Month)
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "apollo", resp.Providers[0].Provider)
	assert.Equal(t, 1, resp.Providers[0].RequestCount)
}
