package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the company module.
type Metrics struct {
	CompaniesCreated    prometheus.Counter
	WorkflowsConfigured prometheus.Counter
}

// New creates and registers all company module metrics.
func New() *Metrics {
	return &Metrics{
		CompaniesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "expensio_companies_created_total",
			Help: "Total number of companies created",
		}),
		WorkflowsConfigured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "expensio_workflows_configured_total",
			Help: "Total number of workflow definition updates",
		}),
	}
}
