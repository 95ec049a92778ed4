package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchCallsTotal tracks fetch calls per source
	FetchCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_fetch_calls_total",
			Help: "Total number of fetch calls",
		},
		[]string{"source", "operation"},
	)

	// FetchErrorsTotal tracks fetch errors per source and error class
	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_fetch_errors_total",
			Help: "Total number of fetch errors",
		},
		[]string{"source", "error_class"},
	)

	// FetchLatency tracks fetch call latency
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curator_fetch_latency_seconds",
			Help:    "Fetch call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "operation"},
	)

	// CredentialsBlocked tracks how many credentials are currently blocked
	CredentialsBlocked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curator_credentials_blocked",
			Help: "Number of credentials currently blocked",
		},
	)

	// CredentialHealth tracks the health score per credential
	CredentialHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curator_credential_health_score",
			Help: "Health score per credential (lower is healthier)",
		},
		[]string{"credential"},
	)

	// QueueDepth tracks waiting tasks per category
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curator_admission_queue_depth",
			Help: "Number of tasks waiting per category",
		},
		[]string{"category"},
	)

	// TasksRunning tracks whether a category slot is occupied
	TasksRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curator_admission_running",
			Help: "Whether the category slot is occupied (0 or 1)",
		},
		[]string{"category"},
	)

	// TasksCompletedTotal tracks finished tasks per category and outcome
	TasksCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_tasks_completed_total",
			Help: "Total number of completed tasks",
		},
		[]string{"category", "outcome"},
	)

	// ItemsIngestedTotal tracks ingested items per source
	ItemsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_items_ingested_total",
			Help: "Total number of items ingested",
		},
		[]string{"source"},
	)
)
