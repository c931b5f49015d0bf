package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth event log
	AuthEventsTotal        *prometheus.CounterVec
	AuthEventFailuresTotal *prometheus.CounterVec

	// Session registry
	SessionOperationsTotal *prometheus.CounterVec
	SessionErrorsTotal     *prometheus.CounterVec
	SessionsCleanedTotal   prometheus.Counter

	// Permission resolver
	ResolverCacheHitsTotal   *prometheus.CounterVec
	ResolverCacheMissesTotal prometheus.Counter
	ResolverDuration         prometheus.Histogram
	ResolverErrorsTotal      prometheus.Counter

	// Access gate
	GateDecisionsTotal *prometheus.CounterVec

	// Background dispatch
	DispatchDroppedTotal *prometheus.CounterVec
	DispatchFailedTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_auth_events_total",
				Help: "Auth events persisted, by kind and outcome",
			},
			[]string{"kind", "success"},
		),
		AuthEventFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_auth_event_write_failures_total",
				Help: "Auth events that could not be persisted",
			},
			[]string{"kind"},
		),

		SessionOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_session_operations_total",
				Help: "Session registry operations",
			},
			[]string{"operation"},
		),
		SessionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_session_errors_total",
				Help: "Session registry operations that failed",
			},
			[]string{"operation"},
		),
		SessionsCleanedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_sessions_cleaned_total",
				Help: "Sessions deactivated by stale cleanup",
			},
		),

		ResolverCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_resolver_cache_hits_total",
				Help: "Capability lookups served from cache, by tier",
			},
			[]string{"tier"},
		),
		ResolverCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_resolver_cache_misses_total",
				Help: "Capability lookups that queried the store",
			},
		),
		ResolverDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "portal_resolver_duration_seconds",
				Help:    "Time spent resolving capabilities from the store",
				Buckets: prometheus.DefBuckets,
			},
		),
		ResolverErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_resolver_errors_total",
				Help: "Capability resolutions that failed",
			},
		),

		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_gate_decisions_total",
				Help: "Access gate decisions, by policy and outcome",
			},
			[]string{"policy", "decision"},
		),

		DispatchDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_dispatch_dropped_total",
				Help: "Background tasks dropped because the queue was full or closed",
			},
			[]string{"task"},
		),
		DispatchFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_dispatch_failed_total",
				Help: "Background tasks that returned an error or panicked",
			},
			[]string{"task"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthEventsTotal,
		m.AuthEventFailuresTotal,
		m.SessionOperationsTotal,
		m.SessionErrorsTotal,
		m.SessionsCleanedTotal,
		m.ResolverCacheHitsTotal,
		m.ResolverCacheMissesTotal,
		m.ResolverDuration,
		m.ResolverErrorsTotal,
		m.GateDecisionsTotal,
		m.DispatchDroppedTotal,
		m.DispatchFailedTotal,
	)

	return m
}

// AuthEvent counts a persisted auth event
func (m *Metrics) AuthEvent(kind string, success bool) {
	if m == nil {
		return
	}
	m.AuthEventsTotal.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

// AuthEventFailure counts an auth event that could not be persisted
func (m *Metrics) AuthEventFailure(kind string) {
	if m == nil {
		return
	}
	m.AuthEventFailuresTotal.WithLabelValues(kind).Inc()
}

// SessionOperation counts a session registry operation and its failure, if any
func (m *Metrics) SessionOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.SessionOperationsTotal.WithLabelValues(operation).Inc()
	if err != nil {
		m.SessionErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// SessionsCleaned counts sessions deactivated by cleanup
func (m *Metrics) SessionsCleaned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsCleanedTotal.Add(float64(n))
}

// ResolverHit counts a cache hit in the given tier ("local" or "shared")
func (m *Metrics) ResolverHit(tier string) {
	if m == nil {
		return
	}
	m.ResolverCacheHitsTotal.WithLabelValues(tier).Inc()
}

// ResolverMiss records a store resolution and how long it took
func (m *Metrics) ResolverMiss(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ResolverCacheMissesTotal.Inc()
	m.ResolverDuration.Observe(duration.Seconds())
	if err != nil {
		m.ResolverErrorsTotal.Inc()
	}
}

// GateDecision counts an access gate decision
func (m *Metrics) GateDecision(policy, decision string) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(policy, decision).Inc()
}

// DispatchDropped counts a background task that never ran
func (m *Metrics) DispatchDropped(task string) {
	if m == nil {
		return
	}
	m.DispatchDroppedTotal.WithLabelValues(task).Inc()
}

// DispatchFailed counts a background task that failed
func (m *Metrics) DispatchFailed(task string) {
	if m == nil {
		return
	}
	m.DispatchFailedTotal.WithLabelValues(task).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The route label uses the mux path template so ids do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
