// Package metrics exposes engine and HTTP observations as Prometheus
// collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/regsearch/internal/retrieval"
)

const namespace = "regsearch"

// Collector implements retrieval.Metrics and the HTTP middleware. Each
// Collector registers its own vectors, so tests can use a fresh registry.
type Collector struct {
	tierAttempts   *prometheus.CounterVec
	tierLatency    *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	requests       *prometheus.CounterVec
	requestLatency prometheus.Histogram

	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

var _ retrieval.Metrics = (*Collector)(nil)

// New creates a collector registered with reg. A nil reg uses a new
// private registry.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		tierAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tier_attempts_total",
				Help:      "Tier attempts by outcome state",
			},
			[]string{"tier", "state"},
		),
		tierLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tier_latency_seconds",
				Help:      "Tier call latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"tier"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Result cache hits and misses",
			},
			[]string{"result"}, // "hit" / "miss"
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Retrieval requests by final state",
			},
			[]string{"state", "degraded"},
		),
		requestLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end retrieval latency for uncached requests",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
			},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		gatherer: reg,
	}
	reg.MustRegister(
		c.tierAttempts, c.tierLatency, c.cacheLookups, c.requests, c.requestLatency,
		c.httpRequestDuration, c.httpRequestsTotal,
	)
	return c
}

// ObserveTierAttempt counts an attempt and, unless the call was skipped by
// an open circuit, its latency.
func (c *Collector) ObserveTierAttempt(tier string, state retrieval.State, latency time.Duration) {
	c.tierAttempts.WithLabelValues(tier, string(state)).Inc()
	if latency > 0 {
		c.tierLatency.WithLabelValues(tier).Observe(latency.Seconds())
	}
}

// ObserveCache counts a cache lookup.
func (c *Collector) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveRequest counts a completed uncached request.
func (c *Collector) ObserveRequest(state retrieval.State, degraded bool, latency time.Duration) {
	c.requests.WithLabelValues(string(state), strconv.FormatBool(degraded)).Inc()
	c.requestLatency.Observe(latency.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware records HTTP request duration and count.
func (c *Collector) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(ww.status)

			// Route patterns keep label cardinality bounded.
			path := "unknown"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				path = rc.RoutePattern()
			}

			c.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
			c.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
