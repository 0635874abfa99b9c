// Package metrics holds the Prometheus collectors of the realtime engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SessionsActive   *prometheus.GaugeVec
	SessionsRejected *prometheus.CounterVec
	Frames           *prometheus.CounterVec
	Events           *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Live websocket sessions joined to a group.",
		}, []string{"group_kind"}),
		SessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_sessions_rejected_total",
			Help: "Sessions closed by the membership gate.",
		}, []string{"reason"}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_frames_total",
			Help: "Inbound frames by type.",
		}, []string{"type"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Outbound events broadcast by type.",
		}, []string{"type"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_delivery_failures_total",
			Help: "Fanout deliveries that dropped a session.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.SessionsActive, m.SessionsRejected, m.Frames, m.Events, m.DeliveryFailures)
	}
	return m
}
