package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	MessagesSent prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		MessagesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agentpass_passport_messages_sent_total",
			Help: "Messages delivered between passports",
		}),
	}
}

func (m *Metrics) observeSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}
