// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a private registry plus the service collectors. Each test can
// build its own without clashing on the global registry.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted       prometheus.Counter
	JobsFinished        *prometheus.CounterVec
	DetectionDuration   prometheus.Histogram
	APIKeyVerifications *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kepler",
			Name:      "detection_jobs_submitted_total",
			Help:      "Detection jobs accepted for processing.",
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kepler",
			Name:      "detection_jobs_finished_total",
			Help:      "Detection jobs that reached a terminal status.",
		}, []string{"status"}),
		DetectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kepler",
			Name:      "detection_duration_seconds",
			Help:      "Time spent in the detection backend per job.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		APIKeyVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kepler",
			Name:      "api_key_verifications_total",
			Help:      "API key verification attempts by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kepler",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobsSubmitted,
		m.JobsFinished,
		m.DetectionDuration,
		m.APIKeyVerifications,
		m.HTTPRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
