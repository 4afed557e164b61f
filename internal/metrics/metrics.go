// Package metrics exposes Prometheus collectors for the site-operation
// job engine.
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
	jobsTotal                  *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	itemDurationSeconds        *prometheus.HistogramVec
	politenessWaitSeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteops_jobs_total",
				Help: "Total number of jobs reaching a terminal status, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteops_items_total",
				Help: "Total number of work items processed, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siteops_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		itemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siteops_item_duration_seconds",
				Help:    "Histogram of per-item visitor latencies, labeled by kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"kind"},
		)

		politenessWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "siteops_politeness_wait_seconds",
				Help:    "Histogram of politeness delays applied between dispatches.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
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

// ObserveJob increments the terminal-job counter.
func ObserveJob(kind, status string) {
	jobsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveItem records one processed work item and its visitor latency.
func ObserveItem(kind string, failed bool, duration time.Duration) {
	outcome := "succeeded"
	if failed {
		outcome = "failed"
	}
	itemsTotal.WithLabelValues(kind, outcome).Inc()
	itemDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObservePolitenessWait records the duration of a pacing wait.
func ObservePolitenessWait(duration time.Duration) {
	politenessWaitSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
