package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"slimhogs/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted registry events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "piggy",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of registry and token events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Emit implements events.Emitter so the counter can sit in an emitter fan-out.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	typ := evt.EventType()
	if typ == "" {
		typ = "unknown"
	}
	m.emitted.WithLabelValues(typ).Inc()
}
