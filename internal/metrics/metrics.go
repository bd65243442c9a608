// Package metrics provides Prometheus instrumentation for the HTTP surface,
// process-level gauges, and the database pool. Domain counters live with
// their packages.
package metrics

import (
	"database/sql"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gymops",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gymops",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// CatalogPlans is the number of plans in the loaded catalog snapshot.
	CatalogPlans = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gymops", Name: "catalog_plans",
		Help: "Number of plans in the loaded catalog.",
	})
	// BackgroundLoops reports whether each background loop is running (1) or not (0).
	BackgroundLoops = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gymops", Name: "background_loop_running",
		Help: "Whether a background loop is running.",
	}, []string{"loop"})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CatalogPlans,
		BackgroundLoops,
	)
}

var (
	dbMu        sync.Mutex
	dbCollector prometheus.Collector
)

// RegisterDB exports db's pool statistics as go_sql_* series labelled
// db_name="gymops", replacing any pool registered earlier. The returned
// func unregisters it.
func RegisterDB(db *sql.DB) (func(), error) {
	dbMu.Lock()
	defer dbMu.Unlock()
	if dbCollector != nil {
		prometheus.Unregister(dbCollector)
	}
	c := collectors.NewDBStatsCollector(db, "gymops")
	if err := prometheus.Register(c); err != nil {
		dbCollector = nil
		return func() {}, err
	}
	dbCollector = c
	return func() {
		dbMu.Lock()
		defer dbMu.Unlock()
		if dbCollector == c {
			prometheus.Unregister(c)
			dbCollector = nil
		}
	}, nil
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // route pattern, not the raw path
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
