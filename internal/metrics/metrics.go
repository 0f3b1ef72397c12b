// Package metrics exposes prometheus instrumentation for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/garyjia/pizza-workflow/internal/domain/order"
)

// Collector holds the orchestrator's prometheus metrics. A nil Collector is
// valid and records nothing, so instrumentation stays optional in tests.
type Collector struct {
	ordersStarted   prometheus.Counter
	ordersCompleted prometheus.Counter
	ordersFailed    prometheus.Counter
	dispatches      *prometheus.CounterVec
	droppedEvents   *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ordersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pizza_orders_started_total",
			Help: "Number of order instances created.",
		}),
		ordersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pizza_orders_completed_total",
			Help: "Number of order instances that reached the completed stage.",
		}),
		ordersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pizza_orders_failed_total",
			Help: "Number of order instances that reached the failed stage.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pizza_stage_dispatches_total",
			Help: "Number of stage requests dispatched, by stage.",
		}, []string{"stage"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pizza_events_dropped_total",
			Help: "Number of inbound events dropped, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(c.ordersStarted, c.ordersCompleted, c.ordersFailed, c.dispatches, c.droppedEvents)
	return c
}

// OrderStarted counts one created instance
func (c *Collector) OrderStarted() {
	if c == nil {
		return
	}
	c.ordersStarted.Inc()
}

// OrderCompleted counts one completed instance
func (c *Collector) OrderCompleted() {
	if c == nil {
		return
	}
	c.ordersCompleted.Inc()
}

// OrderFailed counts one failed instance
func (c *Collector) OrderFailed() {
	if c == nil {
		return
	}
	c.ordersFailed.Inc()
}

// StageDispatched counts one dispatched stage request
func (c *Collector) StageDispatched(stage order.Stage) {
	if c == nil {
		return
	}
	c.dispatches.WithLabelValues(stage.String()).Inc()
}

// EventDropped counts one dropped inbound event
func (c *Collector) EventDropped(reason string) {
	if c == nil {
		return
	}
	c.droppedEvents.WithLabelValues(reason).Inc()
}
