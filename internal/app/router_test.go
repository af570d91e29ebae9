package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/EgorKonstrukt/AutoPlasma/internal/integration"
	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
	"github.com/EgorKonstrukt/AutoPlasma/internal/materials"
	"github.com/EgorKonstrukt/AutoPlasma/internal/observability"
	"github.com/EgorKonstrukt/AutoPlasma/internal/reports"
	"github.com/EgorKonstrukt/AutoPlasma/internal/store/memory"
	"github.com/EgorKonstrukt/AutoPlasma/jobs"
)

const testAdminToken = "letmein"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &Config{AppEnv: "test", AdminTokenHash: string(hash), LogDefaultLimit: 50, LogMaxLimit: 1000}

	store := memory.New()
	metrics := observability.NewMetrics()
	hooks := integration.NewHooks(metrics, ledger.DefaultThresholds, nil)
	admin := RequireAdmin(cfg.AdminTokenHash, nil)

	registry := materials.NewService(store.Materials(), nil, materials.ServiceConfig{}, hooks)
	stock := ledger.NewService(store.Ledger(), nil, ledger.ServiceConfig{Thresholds: ledger.DefaultThresholds}, hooks)

	return NewRouter(RouterParams{
		Config:           cfg,
		MaterialsHandler: materials.NewHandler(nil, registry, admin),
		LedgerHandler:    ledger.NewHandler(nil, stock, admin),
		ReportsHandler:   reports.NewHandler(nil, reports.NewService(stock)),
		JobHandler:       jobs.NewHandler(nil, nil),
		Metrics:          metrics,
	})
}

func call(t *testing.T, h http.Handler, method, path, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(AdminTokenHeader, testAdminToken)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	rr := call(t, srv, http.MethodPost, "/powders/", `{"name":"Epoxy-A","density":1.2,"flow_factor":1.0,"target_gpm":10.0}`, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = call(t, srv, http.MethodPost, "/inventory/adjust", `{"powder_name":"Epoxy-A","quantity_change":500,"operator":"Alice"}`, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = call(t, srv, http.MethodPost, "/log_usage", `{"powder_name":"Epoxy-A","consumed_grams":5500,"duration_sec":30,"operator":"Bob"}`, false)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = call(t, srv, http.MethodGet, "/stats/summary", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary map[string]float64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Equal(t, map[string]float64{"Epoxy-A": 5000}, summary)

	rr = call(t, srv, http.MethodGet, "/inventory/levels", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"critical"`)

	rr = call(t, srv, http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `autoplasma_stock_grams{material="Epoxy-A"} 0`)
	require.Contains(t, rr.Body.String(), `autoplasma_registry_changes_total{action="add"} 1`)
}

func TestRouterAdminGuard(t *testing.T) {
	srv := newTestServer(t)

	rr := call(t, srv, http.MethodPost, "/powders", `{"name":"Nylon-11","density":1.0,"flow_factor":1.0,"target_gpm":5}`, false)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = call(t, srv, http.MethodPost, "/inventory/adjust", `{"powder_name":"Nylon-11","quantity_change":5}`, false)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = call(t, srv, http.MethodGet, "/powders", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[]`, rr.Body.String())
}

func TestRouterHealth(t *testing.T) {
	srv := newTestServer(t)

	rr := call(t, srv, http.MethodGet, "/healthz", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = call(t, srv, http.MethodGet, "/jobs/health", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"queue":"default"`)
}

func TestRequireAdminDisabledWithoutHash(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	rr := httptest.NewRecorder()
	RequireAdmin("", nil)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/powders", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
}
