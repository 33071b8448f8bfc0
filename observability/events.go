package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	callbacks *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking controller callbacks.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "callbacks_total",
				Help:      "Count of processed controller callbacks segmented by action.",
			}, []string{"action"}),
		}
		prometheus.MustRegister(eventRegistry.callbacks)
	})
	return eventRegistry
}

// RecordCallback increments the callback counter for the supplied action.
func (m *eventMetrics) RecordCallback(action string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(action))
	if normalized == "" {
		normalized = "unknown"
	}
	m.callbacks.WithLabelValues(normalized).Inc()
}
