package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "poddigest"

// Stage metrics (incremented by the queue workers).
var (
	StageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_total",
		Help:      "Pipeline stage executions by outcome.",
	}, []string{"stage", "outcome"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s -> ~34min
	}, []string{"stage"})

	LLMRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "Requests to language, transcription, and speech providers.",
	}, []string{"kind", "outcome"})
)

// HTTP metrics (incremented by the gin middleware).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
)

func init() {
	prometheus.MustRegister(
		StageTotal,
		StageDuration,
		LLMRequestsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Stage outcomes recorded by the workers.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRetried   = "retried"
)

// TimeStage starts a stage timer. The returned function records the outcome
// and the elapsed duration when the stage finishes.
func TimeStage(stage string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		StageTotal.WithLabelValues(stage, outcome).Inc()
		StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RecordLLMRequest counts one provider round trip.
func RecordLLMRequest(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LLMRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// InstrumentHandler records request metrics for the ops API. The route
// pattern is used as the path label to keep cardinality bounded.
func InstrumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
