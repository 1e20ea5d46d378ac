// Package observability collects Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the Prometheus registry and application metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	offersFinalized    prometheus.Counter
	paymentsRecorded   prometheus.Counter
	paymentsDeleted    prometheus.Counter
	dunningEscalations prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	offersFinalized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_offers_finalized_total",
		Help: "Offers that received an official number.",
	})
	paymentsRecorded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_payments_recorded_total",
		Help: "Payments appended to open items.",
	})
	paymentsDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_payments_deleted_total",
		Help: "Payments removed from open items.",
	})
	dunningEscalations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_dunning_escalations_total",
		Help: "Dunning level escalations on open items.",
	})

	registry.MustRegister(requests, duration, offersFinalized, paymentsRecorded, paymentsDeleted, dunningEscalations)

	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		offersFinalized:    offersFinalized,
		paymentsRecorded:   paymentsRecorded,
		paymentsDeleted:    paymentsDeleted,
		dunningEscalations: dunningEscalations,
	}
}

// Handler exposes the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// OfferFinalized increments the finalized-offer counter.
func (m *Metrics) OfferFinalized() {
	if m != nil {
		m.offersFinalized.Inc()
	}
}

// PaymentRecorded increments the recorded-payment counter.
func (m *Metrics) PaymentRecorded() {
	if m != nil {
		m.paymentsRecorded.Inc()
	}
}

// PaymentDeleted increments the deleted-payment counter.
func (m *Metrics) PaymentDeleted() {
	if m != nil {
		m.paymentsDeleted.Inc()
	}
}

// DunningEscalated increments the dunning escalation counter.
func (m *Metrics) DunningEscalated() {
	if m != nil {
		m.dunningEscalations.Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
