package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the approval workflow engine.
type Metrics struct {
	Decisions          *prometheus.CounterVec
	TransitionDuration prometheus.Histogram
	Conflicts          prometheus.Counter
}

// New creates and registers all workflow engine metrics.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "expensio_workflow_decisions_total",
			Help: "Decisions recorded, by outcome",
		}, []string{"decision"}),
		TransitionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "expensio_workflow_transition_duration_seconds",
			Help:    "Duration of workflow transition operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "expensio_workflow_conflicts_total",
			Help: "Transitions rejected by concurrent-modification detection",
		}),
	}
}

// ObserveTransition records the duration of one transition attempt.
func (m *Metrics) ObserveTransition(start time.Time) {
	m.TransitionDuration.Observe(time.Since(start).Seconds())
}
