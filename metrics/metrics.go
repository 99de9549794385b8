// Package metrics provides Prometheus metrics for the Elytra control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the control plane
type Metrics struct {
	// Connection metrics
	ConnectedWorkers   prometheus.Gauge
	ConnectedObservers prometheus.Gauge
	LivenessEvictions  prometheus.Counter

	// Job metrics
	JobsSubmitted prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	TasksSent     prometheus.Counter

	// Channel metrics
	FramesRouted  *prometheus.CounterVec
	FramesDropped prometheus.Counter

	// Catalog metrics
	Datasets    prometheus.Gauge
	ReapedBytes prometheus.Counter
}

// New registers and returns the control plane metrics under the given
// namespace (defaulting to "elytra")
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "elytra"
	}
	return &Metrics{
		ConnectedWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected_workers",
			Help: "Number of live worker connections.",
		}),
		ConnectedObservers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected_observers",
			Help: "Number of live observer connections.",
		}),
		LivenessEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "liveness_evictions_total",
			Help: "Connections torn down for missing a liveness tick.",
		}),
		JobsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_submitted_total",
			Help: "Jobs accepted for dispatch.",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_completed_total",
			Help: "Jobs resolved with a merged result.",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_failed_total",
			Help: "Jobs resolved with an error.",
		}, []string{"reason"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Wall time from submission to resolution.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		TasksSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_sent_total",
			Help: "Task messages dispatched to workers.",
		}),
		FramesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_routed_total",
			Help: "Inbound frames routed, by message type.",
		}, []string{"type"}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "Inbound frames dropped as malformed or unknown.",
		}),
		Datasets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "datasets",
			Help: "Datasets currently registered in the catalog.",
		}),
		ReapedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reaped_bytes_total",
			Help: "Bytes reclaimed by the dataset reaper.",
		}),
	}
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics HTTP server on addr. Blocking.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
