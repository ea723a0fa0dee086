package guilds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts enrichment outcomes. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	lookups  *prometheus.CounterVec
}

// NewMetrics registers the guild enrichment collectors on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guilds",
			Name:      "enrich_requests_total",
			Help:      "Guild enrichment requests by outcome.",
		}, []string{"outcome"}),

		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guilds",
			Name:      "bot_lookups_total",
			Help:      "Bot-scoped guild lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}
