package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the correction
// pipeline. All observers are nil-receiver safe so services can run without
// metrics in tests.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	correctionRuns  prometheus.Counter
	jobsPublished   prometheus.Counter
	publishFailures prometheus.Counter
	callbackTotal   *prometheus.CounterVec
	rateLimitRetry  prometheus.Counter
	gradingDuration prometheus.Observer
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	correctionRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "correction_runs_total",
		Help: "Total exam correction passes executed",
	})

	jobsPublished := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grading_jobs_published_total",
		Help: "Total open-question grading jobs enqueued",
	})

	publishFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grading_publish_failures_total",
		Help: "Total grading jobs that could not be enqueued",
	})

	callbackTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grading_callbacks_total",
		Help: "Total grading callbacks received by outcome",
	}, []string{"outcome"})

	rateLimitRetry := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grading_rate_limit_retries_total",
		Help: "Total grading jobs re-queued after a provider rate limit",
	})

	gradingDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "grading_duration_seconds",
		Help:    "Wall time spent grading one open answer",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, correctionRuns, jobsPublished, publishFailures, callbackTotal, rateLimitRetry, gradingDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		correctionRuns:  correctionRuns,
		jobsPublished:   jobsPublished,
		publishFailures: publishFailures,
		callbackTotal:   callbackTotal,
		rateLimitRetry:  rateLimitRetry,
		gradingDuration: gradingDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// IncCorrectionRuns counts one completed correction pass.
func (m *MetricsService) IncCorrectionRuns() {
	if m == nil {
		return
	}
	m.correctionRuns.Inc()
}

// AddJobsPublished counts grading jobs successfully enqueued.
func (m *MetricsService) AddJobsPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobsPublished.Add(float64(n))
}

// IncPublishFailure counts one grading job that failed to enqueue.
func (m *MetricsService) IncPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

// IncCallback counts one grading callback by outcome label
// (graded, duplicate, rate_limited, failed, rejected).
func (m *MetricsService) IncCallback(outcome string) {
	if m == nil {
		return
	}
	m.callbackTotal.WithLabelValues(outcome).Inc()
}

// IncRateLimitRetry counts one job pushed back to the queue after the
// grading provider throttled us.
func (m *MetricsService) IncRateLimitRetry() {
	if m == nil {
		return
	}
	m.rateLimitRetry.Inc()
}

// ObserveGrading records the wall time of one grading attempt.
func (m *MetricsService) ObserveGrading(duration time.Duration) {
	if m == nil {
		return
	}
	m.gradingDuration.Observe(duration.Seconds())
}
