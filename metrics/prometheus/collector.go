// Package prometheus exports engine events as Prometheus metrics.
package prometheus

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-workflow/engine"
)

const defaultNamespace = "workflow"

// Collector counts engine events. It is both an engine.Observer and a
// prometheus.Collector, so it can be subscribed and registered in one go.
type Collector struct {
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	completions *prometheus.CounterVec
	failures    *prometheus.CounterVec
}

// NewCollector builds a collector whose metric names start with namespace
// ("workflow" when empty).
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of engine events by kind",
			},
			[]string{"kind", "workflow_type"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of committed state transitions",
			},
			[]string{"workflow_type", "from_state", "to_state"},
		),
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "completions_total",
				Help:      "Total number of workflows that reached a terminal state",
			},
			[]string{"workflow_type", "state"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_effect_failures_total",
				Help:      "Total number of failed audit, notification and persistence side effects",
			},
			[]string{"workflow_type", "effect"},
		),
	}
}

// OnEvent implements engine.Observer.
func (c *Collector) OnEvent(_ context.Context, evt engine.Event) {
	c.events.WithLabelValues(string(evt.Kind), evt.WorkflowType).Inc()
	//exhaustive:ignore
	switch evt.Kind {
	case engine.EventStateChanged:
		c.transitions.WithLabelValues(evt.WorkflowType, evt.FromState, evt.ToState).Inc()
		if evt.Terminal {
			c.completions.WithLabelValues(evt.WorkflowType, evt.ToState).Inc()
		}
	case engine.EventSideEffectFailed:
		c.failures.WithLabelValues(evt.WorkflowType, evt.Effect).Inc()
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.transitions.Describe(ch)
	c.completions.Describe(ch)
	c.failures.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.transitions.Collect(ch)
	c.completions.Collect(ch)
	c.failures.Collect(ch)
}

// Handler serves the metrics in reg over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
