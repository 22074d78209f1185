// Package metrics defines the Prometheus instrumentation of the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rate limiter metrics. The scope label distinguishes the admission probe
// from the colorize batch path.
var (
	RateLimitAllowed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_allowed_total",
			Help: "Count of requests allowed by the rate limiter",
		},
		[]string{"scope"},
	)

	RateLimitBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_blocked_total",
			Help: "Count of requests blocked by the rate limiter",
		},
		[]string{"scope"},
	)
)

// Dispatcher metrics.
var (
	DispatchInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_inflight",
			Help: "Jobs currently holding a concurrency slot",
		},
	)

	DispatchQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_queued",
			Help: "Jobs waiting for a concurrency slot",
		},
	)

	DispatchRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_rejected_total",
			Help: "Jobs rejected because pool and queue were full",
		},
	)
)

// Inference metrics.
var (
	ColorizeSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "colorize_seconds",
			Help:    "Time spent colorizing one image",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	InferenceRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inference_retries_total",
			Help: "Retried inference attempts after transient failures",
		},
	)
)

// Result store metrics.
var (
	SweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artifact_sweep_deleted_total",
			Help: "Artifacts removed by the TTL sweep",
		},
	)

	ArtifactsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artifacts_stored_total",
			Help: "Artifacts persisted to the result store",
		},
	)
)
