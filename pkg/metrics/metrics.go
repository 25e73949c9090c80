package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loglane_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// TokensGranted counts issued verification token grants by purpose.
	TokensGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loglane_tokens_granted_total",
			Help: "Total number of verification tokens granted",
		},
		[]string{"purpose"},
	)

	// TokenVerifications counts token verification attempts by outcome
	// (verified|missing|invalid|expired|unknown).
	TokenVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loglane_token_verifications_total",
			Help: "Total number of verification token checks",
		},
		[]string{"result"},
	)

	// JobsEnqueued counts jobs accepted by the queue producer.
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loglane_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"kind"},
	)

	// JobsProcessed counts jobs handled by the worker by result
	// (success|failure|unknown_kind).
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loglane_jobs_processed_total",
			Help: "Total number of jobs processed by workers",
		},
		[]string{"kind", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loglane_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
