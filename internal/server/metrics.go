package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for search and query requests.
const (
	outcomeOK      = "ok"
	outcomeInvalid = "invalid"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// labelHandler partitions HTTP metrics by logical endpoint rather than raw path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// One instance is created per Server so tests can use an isolated registry.
type serverMetrics struct {
	// requestsTotal counts /search and /query calls by endpoint and outcome.
	requestsTotal *prometheus.CounterVec

	// durationSeconds records retrieval/answer latency by endpoint and outcome.
	durationSeconds *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patentrag",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of /search and /query requests, partitioned by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patentrag",
			Subsystem: "api",
			Name:      "duration_seconds",
			Help:      "Time spent retrieving or answering, excluding request decoding.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint", "outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patentrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patentrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observe records one search or query outcome. Rejected requests are
// counted with zero duration and excluded from the histogram.
func (m *serverMetrics) observe(endpoint, outcome string, d time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, outcome).Inc()
	if outcome != outcomeInvalid {
		m.durationSeconds.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
	}
}

// instrument wraps next with HTTP request counting and latency recording
// under the given handler label.
func (s *Server) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
