package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomedia",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gomedia",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	ingestions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomedia",
		Name:      "attachments_ingested_total",
		Help:      "Attachment ingestions by media type and outcome.",
	}, []string{"media_type", "outcome"})

	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gomedia",
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Time spent in each pipeline stage.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	toolRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomedia",
		Name:      "tool_invocations_total",
		Help:      "External tool invocations by tool and outcome.",
	}, []string{"tool", "outcome"})

	jobOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomedia",
		Name:      "jobs_processed_total",
		Help:      "Background jobs by type and outcome.",
	}, []string{"type", "outcome"})
)

// InitMetrics registers every collector with the default registry. Safe to
// call more than once.
func InitMetrics() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, ingestions, stageDuration, toolRuns, jobOutcomes)
	})
}

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// Ingested counts a finished ingestion.
func Ingested(mediaType, outcome string) {
	ingestions.WithLabelValues(mediaType, outcome).Inc()
}

// ObserveStage records how long a pipeline stage took since start.
func ObserveStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ToolRun counts one external tool invocation.
func ToolRun(tool string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	toolRuns.WithLabelValues(tool, outcome).Inc()
}

// JobProcessed counts one background job outcome.
func JobProcessed(jobType, outcome string) {
	jobOutcomes.WithLabelValues(jobType, outcome).Inc()
}
