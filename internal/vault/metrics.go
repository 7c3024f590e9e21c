package vault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Operations   *prometheus.CounterVec
	AuthFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpass_vault_operations_total",
			Help: "Successful vault operations, by kind",
		}, []string{"op"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_vault_auth_failures_total",
			Help: "Vault records that failed to authenticate under the presented key",
		}),
	}
}

func (m *Metrics) observe(op string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op).Inc()
}

func (m *Metrics) observeAuthFailure() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}
