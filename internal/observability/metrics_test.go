package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	jobmetrics "github.com/EgorKonstrukt/AutoPlasma/internal/jobs"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobmetrics.NewMetrics(metrics.Registerer()).Track("ledger:integrity").End(nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "autoplasma_jobs_total") {
		t.Fatalf("expected body to contain autoplasma_jobs_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestObservePostingSplitsDirection(t *testing.T) {
	metrics := NewMetrics()

	metrics.ObservePosting("ADJUST", "Epoxy-A", -500, 5500)
	metrics.ObservePosting("CONSUME", "Epoxy-A", 120, 5380)
	metrics.ObservePosting("CONSUME", "Epoxy-A", 80, 5300)

	if got := testutil.ToFloat64(metrics.grams.WithLabelValues("ADJUST", "in")); got != 500 {
		t.Fatalf("restocked grams = %v", got)
	}
	if got := testutil.ToFloat64(metrics.grams.WithLabelValues("CONSUME", "out")); got != 200 {
		t.Fatalf("consumed grams = %v", got)
	}
	if got := testutil.ToFloat64(metrics.postings.WithLabelValues("CONSUME")); got != 2 {
		t.Fatalf("consume postings = %v", got)
	}
	if got := testutil.ToFloat64(metrics.stock.WithLabelValues("Epoxy-A")); got != 5300 {
		t.Fatalf("stock gauge = %v", got)
	}

	metrics.ForgetStock("Epoxy-A")
	if n := testutil.CollectAndCount(metrics.stock); n != 0 {
		t.Fatalf("expected stock series removed, got %d", n)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObservePosting("ADJUST", "x", 1, 1)
	metrics.SetStock("x", 1)
	metrics.ObserveRegistryChange("add")
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
