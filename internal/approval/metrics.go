package approval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Created  prometheus.Counter
	Resolved *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Created: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_approvals_created_total",
			Help: "Approval requests created",
		}),
		Resolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpass_approvals_resolved_total",
			Help: "Approval requests resolved, by outcome",
		}, []string{"status"}),
	}
}

func (m *Metrics) observeCreated() {
	if m == nil {
		return
	}
	m.Created.Inc()
}

func (m *Metrics) observeResolved(status Status) {
	if m == nil {
		return
	}
	m.Resolved.WithLabelValues(string(status)).Inc()
}
