// Package metrics exposes the Prometheus collectors of the chat server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors touched by the hub and the chat core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Connections  prometheus.Gauge
	OnlineUsers  prometheus.Gauge
	Messages     *prometheus.CounterVec
	Deliveries   prometheus.Counter
	Dropped      prometheus.Counter
	TypingEvents prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "open_connections",
			Help:      "Open WebSocket connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "online_users",
			Help:      "Distinct users with at least one live session.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "messages_total",
			Help:      "Messages submitted to the broadcast pipeline by result.",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "fanout_deliveries_total",
			Help:      "Events queued to connection send buffers.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "fanout_dropped_total",
			Help:      "Events dropped because a connection buffer was full or already closed.",
		}),
		TypingEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "typing_events_total",
			Help:      "Typing indicator changes relayed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.OnlineUsers, m.Messages, m.Deliveries, m.Dropped, m.TypingEvents)
	}
	return m
}

// MessageResult counts one pipeline outcome ("ok", "rejected", "failed").
func (m *Metrics) MessageResult(result string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(result).Inc()
}

// Delivered counts one queued fan-out event.
func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.Deliveries.Inc()
}

// Drop counts one undeliverable fan-out event.
func (m *Metrics) Drop() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

// Typing counts one relayed typing change.
func (m *Metrics) Typing() {
	if m == nil {
		return
	}
	m.TypingEvents.Inc()
}

// SetConnections records the number of open connections.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(n))
}

// SetOnlineUsers records the number of online users.
func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}
