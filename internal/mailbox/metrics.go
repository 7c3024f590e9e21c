package mailbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Wait outcomes.
const (
	waitImmediate = "immediate"
	waitDelivered = "delivered"
	waitTimeout   = "timeout"
	waitCancelled = "cancelled"
)

type Metrics struct {
	PhonesProvisioned prometheus.Counter
	MessagesReceived  prometheus.Counter
	Waits             *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PhonesProvisioned: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_phones_provisioned_total",
			Help: "Virtual phone numbers assigned to passports",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_sms_received_total",
			Help: "SMS messages appended to an inbox",
		}),
		Waits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpass_sms_waits_total",
			Help: "SMS waits, by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observeProvisioned() {
	if m == nil {
		return
	}
	m.PhonesProvisioned.Inc()
}

func (m *Metrics) observeReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) observeWait(outcome string) {
	if m == nil {
		return
	}
	m.Waits.WithLabelValues(outcome).Inc()
}
