package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smorrery_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smorrery_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smorrery_upstream_requests_total",
			Help: "Total upstream API requests by API and status code.",
		},
		[]string{"api", "code"},
	)

	cacheWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smorrery_cache_writes_total",
			Help: "Total dataset snapshot writes by dataset and outcome.",
		},
		[]string{"dataset", "outcome"},
	)

	cacheAgeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smorrery_cache_age_seconds",
			Help: "Age of the in-memory dataset snapshot in seconds.",
		},
		[]string{"dataset"},
	)

	cacheRecordCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smorrery_cache_records",
			Help: "Record count of the current dataset snapshot.",
		},
		[]string{"dataset"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(upstreamRequestsTotal)
	prometheus.MustRegister(cacheWritesTotal)
	prometheus.MustRegister(cacheAgeSeconds)
	prometheus.MustRegister(cacheRecordCount)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncUpstreamRequest records one upstream API call. code is the HTTP
// status code, or "transport_error" when no response was received.
func IncUpstreamRequest(api, code string) {
	upstreamRequestsTotal.WithLabelValues(api, code).Inc()
}

// IncCacheWrite records one snapshot write attempt.
func IncCacheWrite(dataset, outcome string) {
	cacheWritesTotal.WithLabelValues(dataset, outcome).Inc()
}

// SetCacheAge updates the snapshot age gauge for a dataset.
func SetCacheAge(dataset string, seconds float64) {
	cacheAgeSeconds.WithLabelValues(dataset).Set(seconds)
}

// SetCacheRecords updates the snapshot record-count gauge for a dataset.
func SetCacheRecords(dataset string, n int) {
	cacheRecordCount.WithLabelValues(dataset).Set(float64(n))
}

// knownRoutes are the exact paths exported as metric labels.
var knownRoutes = map[string]bool{
	"/":                  true,
	"/orrery":            true,
	"/api/sbdb_query":    true,
	"/api/sbdb_CA_query": true,
	"/healthz":           true,
	"/readyz":            true,
	"/metrics":           true,
}

// normalizeRoute collapses request paths to a bounded label set. Static
// asset and texture paths share one label each; anything unrecognized
// (bots probing /wp-admin etc.) collapses to "other".
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if strings.HasPrefix(path, "/static/") {
		return "/static/*"
	}
	if strings.HasPrefix(path, "/textures/") {
		return "/textures/*"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
