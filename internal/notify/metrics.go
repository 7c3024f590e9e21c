package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks event emission and webhook delivery.
type Metrics struct {
	EventsEmitted    *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	EventsDropped    prometheus.Counter
}

// NewMetrics registers the notify metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpass_events_emitted_total",
			Help: "Events appended to the audit log, by type",
		}, []string{"event"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpass_webhook_deliveries_total",
			Help: "Webhook delivery attempts, by outcome",
		}, []string{"status"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentpass_webhook_delivery_duration_seconds",
			Help:    "Duration of single webhook delivery attempts",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_events_dropped_total",
			Help: "Events dropped because the dispatch queue was full",
		}),
	}
}

func (m *Metrics) observeEmit(eventType EventType) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) observeDelivery(status DeliveryStatus, start time.Time) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(string(status)).Inc()
	m.DeliveryDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
