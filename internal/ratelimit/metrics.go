package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected    prometheus.Counter
	StoreErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_ratelimit_rejected_total",
			Help: "Requests rejected by the per-client rate limit",
		}),
		StoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_ratelimit_store_errors_total",
			Help: "Rate limit checks that failed open because the store errored",
		}),
	}
}

func (m *Metrics) observeRejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}

func (m *Metrics) observeStoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
