// Package metrics exposes Prometheus collectors for the export pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolvesTotal              *prometheus.CounterVec
	resolveDurationSeconds     prometheus.Histogram
	exportsTotal               *prometheus.CounterVec
	exportDurationSeconds      prometheus.Histogram
	exportBytesTotal           prometheus.Counter
	activeHandles              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		resolvesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webannotate_resolves_total",
				Help: "Total number of proxy resolves, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		resolveDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webannotate_resolve_duration_seconds",
				Help:    "Histogram of proxy resolve latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webannotate_exports_total",
				Help: "Total number of annotated exports, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		exportDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webannotate_export_duration_seconds",
				Help:    "Histogram of export latencies from render fetch to delivered handle.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		exportBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webannotate_export_bytes_total",
				Help: "Total number of PDF bytes delivered.",
			},
		)

		activeHandles = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webannotate_active_handles",
				Help: "Number of transient download handles not yet released.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webannotate_rate_limit_delay_seconds",
				Help:    "Time backend requests spent waiting on the per-host rate limiter.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// Observer feeds coordinator outcomes into the collectors.
type Observer struct{}

// NewObserver initializes the collectors and returns an Observer.
func NewObserver() Observer {
	Init()
	return Observer{}
}

// ObserveResolve records one resolve.
func (Observer) ObserveResolve(outcome string, elapsed time.Duration) {
	resolvesTotal.WithLabelValues(outcome).Inc()
	resolveDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveExport records one export.
func (Observer) ObserveExport(outcome string, elapsed time.Duration, size int) {
	exportsTotal.WithLabelValues(outcome).Inc()
	exportDurationSeconds.Observe(elapsed.Seconds())
	if size > 0 {
		exportBytesTotal.Add(float64(size))
	}
}

// HandleGauge tracks live transient handles.
type HandleGauge struct{}

// NewHandleGauge initializes the collectors and returns a HandleGauge.
func NewHandleGauge() HandleGauge {
	Init()
	return HandleGauge{}
}

// Inc records a new handle.
func (HandleGauge) Inc() { activeHandles.Inc() }

// Dec records a released handle.
func (HandleGauge) Dec() { activeHandles.Dec() }
