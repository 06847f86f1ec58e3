package notification

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatcher counters live at package level: dispatchers come and go in
// tests, the collectors register exactly once.
var (
	metricsOnce sync.Once
	published   prometheus.Counter
	dropped     prometheus.Counter
	failures    *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		published = promauto.NewCounter(prometheus.CounterOpts{
			Name: "expensio_notifications_published_total",
			Help: "Status-change events accepted for dispatch",
		})
		dropped = promauto.NewCounter(prometheus.CounterOpts{
			Name: "expensio_notifications_dropped_total",
			Help: "Status-change events dropped because the buffer was full",
		})
		failures = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "expensio_notification_sink_failures_total",
			Help: "Sink delivery failures, by sink",
		}, []string{"sink"})
	})
}

// Dispatcher receives events from publishers and delivers them to sinks on a
// background goroutine. Publish never blocks and never fails the caller.
type Dispatcher struct {
	inbox  chan ExpenseStatusChanged
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher builds a dispatcher with the given buffer capacity.
func NewDispatcher(buffer int, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	initMetrics()
	return &Dispatcher{
		inbox:  make(chan ExpenseStatusChanged, buffer),
		sinks:  sinks,
		logger: logger,
	}
}

// Publish enqueues an event. A full buffer drops the event; the workflow
// transition it describes has already committed and must not be held up.
func (d *Dispatcher) Publish(event ExpenseStatusChanged) {
	select {
	case d.inbox <- event:
		published.Inc()
	default:
		dropped.Inc()
		d.logger.Warn("notification buffer full, dropping event",
			"expense_id", event.ExpenseID.String(),
			"current", string(event.Current),
		)
	}
}

// Run delivers events until the context is cancelled, then drains the buffer.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case event := <-d.inbox:
			d.deliver(event)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.inbox:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event ExpenseStatusChanged) {
	for _, sink := range d.sinks {
		if err := sink.OnExpenseStatusChanged(event); err != nil {
			// Best-effort: log and move on. The transition already committed.
			failures.WithLabelValues(sink.Name()).Inc()
			d.logger.Error("notification sink failed",
				"sink", sink.Name(),
				"expense_id", event.ExpenseID.String(),
				"error", err,
			)
		}
	}
}
