package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	records     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking the event log.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			records: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "events",
				Name:      "records_total",
				Help:      "Count of event log records appended, segmented by event type.",
			}, []string{"type"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "events",
				Name:      "stream_subscribers",
				Help:      "Number of open event stream connections.",
			}),
		}
		prometheus.MustRegister(eventRegistry.records, eventRegistry.subscribers)
	})
	return eventRegistry
}

// RecordAppended increments the record counter for the supplied event type.
func (m *eventMetrics) RecordAppended(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.records.WithLabelValues(normalized).Inc()
}

// SubscriberOpened tracks a new stream connection.
func (m *eventMetrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberClosed tracks a closed stream connection.
func (m *eventMetrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}
