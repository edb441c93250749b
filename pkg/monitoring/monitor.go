package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// SpeakingSubmissions 按结果统计口语提交：scored / duplicate / rejected / failed
	SpeakingSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speaking_submissions_total",
			Help: "Speaking submissions by outcome",
		},
		[]string{"outcome"},
	)

	SpeakingPipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speaking_pipeline_duration_seconds",
			Help:    "Duration of speaking pipeline stages",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	SpeechRecognitionAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speech_recognition_attempts",
			Help:    "Two-pass recognition attempts used per analysis",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	SpeechOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speech_analysis_outcomes_total",
			Help: "Speech analysis results by outcome (ok / degraded / no_speech)",
		},
		[]string{"outcome"},
	)

	NLPFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlp_scoring_fallbacks_total",
			Help: "NLP scoring calls answered by the heuristic fallback",
		},
		[]string{"reason"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			SpeakingSubmissions,
			SpeakingPipelineDuration,
			SpeechRecognitionAttempts,
			SpeechOutcomes,
			NLPFallbacks,
		)
	})
}

// ObserveStage 记录流水线阶段耗时，用法：defer monitoring.ObserveStage("nlp", time.Now())
func ObserveStage(stage string, start time.Time) {
	SpeakingPipelineDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
