// ABOUTME: Prometheus instrumentation for gateway HTTP routes
// ABOUTME: Counts requests by route, method and status and observes handler latency

package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llm_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by route, method and status code.",
		}, []string{"route", "method", "code"}),
		// Streaming routes stay open for the whole generation, so buckets
		// reach into minutes.
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llm_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time until the handler returned, by route and method.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"route", "method"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// instrument wraps h with request counting and latency observation under
// the given route label. The wrapped writer keeps http.Flusher support.
func (m *httpMetrics) instrument(route string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerDuration(
		m.duration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(m.requests.MustCurryWith(labels), h),
	)
}

// metricsHandler serves the gateway's metrics registry.
func (g *Gateway) metricsHandler() http.Handler {
	return promhttp.HandlerFor(g.metrics, promhttp.HandlerOpts{Registry: g.metrics})
}
