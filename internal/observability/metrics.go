package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	postings        *prometheus.CounterVec
	grams           *prometheus.CounterVec
	stock           *prometheus.GaugeVec
	registryChanges *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and ledger collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoplasma_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoplasma_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoplasma_ledger_postings_total",
		Help: "Committed ledger postings by event kind.",
	}, []string{"kind"})
	grams := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoplasma_ledger_grams_total",
		Help: "Grams moved by committed postings, by event kind and direction.",
	}, []string{"kind", "direction"})
	stock := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autoplasma_stock_grams",
		Help: "Last committed stock quantity per material.",
	}, []string{"material"})
	changes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoplasma_registry_changes_total",
		Help: "Material registry mutations by action.",
	}, []string{"action"})
	registry.MustRegister(requests, duration, postings, grams, stock, changes)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		postings:        postings,
		grams:           grams,
		stock:           stock,
		registryChanges: changes,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObservePosting records one committed posting. signedDelta follows the log's
// consumption-sign convention, so a positive value left stock.
func (m *Metrics) ObservePosting(kind, material string, signedDelta, quantity float64) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(kind).Inc()
	direction := "out"
	amount := signedDelta
	if signedDelta < 0 {
		direction = "in"
		amount = -signedDelta
	}
	m.grams.WithLabelValues(kind, direction).Add(amount)
	m.stock.WithLabelValues(material).Set(quantity)
}

// SetStock publishes the quantity of a material.
func (m *Metrics) SetStock(material string, quantity float64) {
	if m == nil {
		return
	}
	m.stock.WithLabelValues(material).Set(quantity)
}

// ForgetStock drops the gauge series of a removed material.
func (m *Metrics) ForgetStock(material string) {
	if m == nil {
		return
	}
	m.stock.DeleteLabelValues(material)
}

// ObserveRegistryChange counts a registry mutation.
func (m *Metrics) ObserveRegistryChange(action string) {
	if m == nil {
		return
	}
	m.registryChanges.WithLabelValues(action).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
