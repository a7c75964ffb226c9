package app

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the coordinator's Prometheus collectors.
type Metrics struct {
	Emitted     *prometheus.CounterVec
	Deliveries  *prometheus.CounterVec
	Inbound     *prometheus.CounterVec
	Kicked      prometheus.Counter
	Connections prometheus.Gauge
}

// NewMetrics registers collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talkrooms",
			Name:      "events_emitted_total",
			Help:      "Outbound events emitted, counted once per emission.",
		}, []string{"type"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talkrooms",
			Name:      "event_deliveries_total",
			Help:      "Outbound frames handed to connections, by result.",
		}, []string{"result"}),
		Inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talkrooms",
			Name:      "events_received_total",
			Help:      "Inbound client events by type.",
		}, []string{"type"}),
		Kicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "talkrooms",
			Name:      "connections_kicked_total",
			Help:      "Connections closed for backpressure.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "talkrooms",
			Name:      "connections",
			Help:      "Live signaling connections.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Emitted, m.Deliveries, m.Inbound, m.Kicked, m.Connections)
	}
	return m
}
