// Package metrics exposes Prometheus collectors for the scanner service.
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
	jobItemsTotal              *prometheus.CounterVec
	jobRetriesTotal            *prometheus.CounterVec
	probeRequestsTotal         *prometheus.CounterVec
	probeDurationSeconds       prometheus.Histogram
	activeJobs                 prometheus.Gauge
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
				Name: "zzpscan_jobs_total",
				Help: "Total number of job state transitions, labeled by kind and state.",
			},
			[]string{"kind", "state"},
		)

		jobItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zzpscan_job_items_total",
				Help: "Total per-item outcomes across jobs, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		jobRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zzpscan_job_retries_total",
				Help: "Total accepted retry requests, labeled by kind.",
			},
			[]string{"kind"},
		)

		probeRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zzpscan_probe_requests_total",
				Help: "Total website probe attempts, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)

		probeDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zzpscan_probe_duration_seconds",
				Help:    "Histogram of end-to-end website probe latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "zzpscan_active_jobs",
				Help: "Number of jobs currently running.",
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

// ObserveJobTransition increments the job state transition counter.
func ObserveJobTransition(kind, state string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(kind, state).Inc()
}

// ObserveJobItem increments the per-item outcome counter.
// Outcome is one of "successful", "failed", "already_known".
func ObserveJobItem(kind, outcome string) {
	if jobItemsTotal == nil {
		return
	}
	jobItemsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRetry increments the accepted-retry counter.
func ObserveRetry(kind string) {
	if jobRetriesTotal == nil {
		return
	}
	jobRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveProbe records one probe attempt with its result and latency.
func ObserveProbe(result string, duration time.Duration) {
	if probeRequestsTotal == nil {
		return
	}
	probeRequestsTotal.WithLabelValues(result).Inc()
	probeDurationSeconds.Observe(duration.Seconds())
}

// IncActiveJobs increments the running-jobs gauge.
func IncActiveJobs() {
	if activeJobs != nil {
		activeJobs.Inc()
	}
}

// DecActiveJobs decrements the running-jobs gauge.
func DecActiveJobs() {
	if activeJobs != nil {
		activeJobs.Dec()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
