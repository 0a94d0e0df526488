// Package metrics provides Prometheus instrumentation for riskguard.
package metrics

import (
	"database/sql"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AnalyzeTotal counts scoring requests by outcome (ship, manual_review, failed).
	AnalyzeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskguard",
			Name:      "analyze_total",
			Help:      "Total scoring requests by outcome.",
		},
		[]string{"outcome"},
	)

	// StageDuration observes how long each scoring stage takes.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskguard",
			Name:      "stage_duration_seconds",
			Help:      "Scoring stage duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	// EnrichmentResults counts enrichment outcomes by check and status.
	EnrichmentResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskguard",
			Name:      "enrichment_results_total",
			Help:      "Phone and address check outcomes by status.",
		},
		[]string{"check", "status"},
	)

	// BestEffortFailures counts failures that were logged and absorbed.
	BestEffortFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskguard",
			Name:      "best_effort_failures_total",
			Help:      "Absorbed failures of non-fatal steps (history lookup, persistence).",
		},
		[]string{"step"},
	)

)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AnalyzeTotal,
		StageDuration,
		EnrichmentResults,
		BestEffortFailures,
	)
}

// ObserveStage records the time since start against stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RegisterDB exports the pool statistics of db (open, idle and in-use
// connections, waits) with a db_name label. Registering the same name twice
// is not an error.
func RegisterDB(db *sql.DB, name string) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, name))
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

// Middleware returns a gin middleware that records request metrics. Paths
// are labelled by route pattern; requests no route matched share "unmatched".
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
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
