package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the expense module.
type Metrics struct {
	Submitted    prometheus.Counter
	AutoApproved prometheus.Counter
	Deleted      prometheus.Counter
}

// New creates and registers all expense module metrics.
func New() *Metrics {
	return &Metrics{
		Submitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "expensio_expenses_submitted_total",
			Help: "Total number of expenses submitted",
		}),
		AutoApproved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "expensio_expenses_auto_approved_total",
			Help: "Total number of expenses auto-approved by a zero-tier workflow",
		}),
		Deleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "expensio_expenses_deleted_total",
			Help: "Total number of expenses deleted while editable",
		}),
	}
}
