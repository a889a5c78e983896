// Package metrics holds the Prometheus collectors for the HTTP surface and the security core.
// All methods are safe on a nil *Metrics so callers can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered by New.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	tokensIssued     prometheus.Counter
	refreshOutcomes  *prometheus.CounterVec
	cryptoFailures   prometheus.Counter
	accessDenied     *prometheus.CounterVec
	resetRateLimited prometheus.Counter
}

// New creates the collectors and registers them with reg. Passing a fresh prometheus.NewRegistry()
// keeps tests independent of the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careportal_access_tokens_issued_total",
			Help: "Access tokens issued by login and refresh.",
		}),
		refreshOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_refresh_total",
			Help: "Refresh exchanges by outcome.",
		}, []string{"outcome"}),
		cryptoFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careportal_crypto_failures_total",
			Help: "Payloads that failed to decrypt.",
		}),
		accessDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_access_denied_total",
			Help: "Authorization denials by resource type.",
		}, []string{"resource"}),
		resetRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careportal_password_reset_rate_limited_total",
			Help: "Password reset requests rejected by the per-account limiter.",
		}),
	}
	reg.MustRegister(m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.tokensIssued, m.refreshOutcomes, m.cryptoFailures, m.accessDenied, m.resetRateLimited)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RequestStarted marks one request in flight.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.httpInFlight.Inc()
}

// RequestFinished records a completed request. path must be the route template, not the raw URL.
func (m *Metrics) RequestFinished(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpInFlight.Dec()
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}

func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

// Refresh counts a refresh exchange; outcome is "ok", "invalid" or "revoked".
func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CryptoFailure() {
	if m == nil {
		return
	}
	m.cryptoFailures.Inc()
}

func (m *Metrics) AccessDenied(resource string) {
	if m == nil {
		return
	}
	m.accessDenied.WithLabelValues(resource).Inc()
}

func (m *Metrics) ResetRateLimited() {
	if m == nil {
		return
	}
	m.resetRateLimited.Inc()
}
