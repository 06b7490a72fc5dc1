package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome label values.
const (
	outcomeSucceeded = "succeeded"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// Metrics holds the Prometheus collectors owned by the ingestion pipeline.
// Service and Pool share one instance.
type Metrics struct {
	// submissionsTotal counts Submit calls by result: accepted, duplicate,
	// rejected.
	submissionsTotal *prometheus.CounterVec

	// jobsTotal counts finished job attempts by outcome.
	jobsTotal *prometheus.CounterVec

	// jobDurationSeconds records the processing time of one attempt.
	jobDurationSeconds *prometheus.HistogramVec

	// chunksIndexedTotal counts chunks written to the vector index.
	chunksIndexedTotal prometheus.Counter

	// embedFailuresTotal counts chunks that could not be embedded.
	embedFailuresTotal prometheus.Counter

	// activeWorkers is the number of workers currently processing a job.
	activeWorkers prometheus.Gauge
}

// NewMetrics registers the ingestion metrics against reg. A nil reg creates
// unregistered collectors, which keeps tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		submissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "submissions_total",
			Help:      "Total number of document submissions, partitioned by result.",
		}, []string{"result"}),

		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "jobs_total",
			Help:      "Total number of finished job attempts, partitioned by outcome.",
		}, []string{"outcome"}),

		jobDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "job_duration_seconds",
			Help:      "Processing time of one ingestion job attempt.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"outcome"}),

		chunksIndexedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunks written to the vector index.",
		}),

		embedFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "embed_failures_total",
			Help:      "Total number of chunks whose embedding failed.",
		}),

		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docrag",
			Subsystem: "ingestion",
			Name:      "active_workers",
			Help:      "Number of workers currently processing a job.",
		}),
	}
}
