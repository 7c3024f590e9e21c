package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts registry lifecycle transitions.
type Metrics struct {
	Created      prometheus.Counter
	Revoked      prometheus.Counter
	Deleted      prometheus.Counter
	IDCollisions prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Created: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_passports_created_total",
			Help: "Total number of passports issued",
		}),
		Revoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_passports_revoked_total",
			Help: "Total number of passports revoked",
		}),
		Deleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_passports_deleted_total",
			Help: "Total number of passports deleted",
		}),
		IDCollisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentpass_passport_id_collisions_total",
			Help: "Passport id draws rejected because the id was taken",
		}),
	}
}
