package answer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Metrics holds the query-side Prometheus collectors.
type Metrics struct {
	// requestsTotal counts Ask calls by outcome.
	requestsTotal *prometheus.CounterVec

	// durationSeconds records end-to-end Ask latency.
	durationSeconds prometheus.Histogram
}

// NewMetrics registers the query metrics against reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of questions answered, partitioned by outcome.",
		}, []string{"outcome"}),

		durationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end latency of a question, including generation.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

// observe records one finished Ask.
func (m *Metrics) observe(outcome rag.Outcome, d time.Duration) {
	m.requestsTotal.WithLabelValues(string(outcome)).Inc()
	m.durationSeconds.Observe(d.Seconds())
}
