package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the relay's Prometheus instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Connections           prometheus.Gauge
	OnlineUsers           prometheus.Gauge
	MessagesRelayed       prometheus.Counter
	MessagesRejected      *prometheus.CounterVec
	Evictions             prometheus.Counter
	TypingNotices         prometheus.Counter
	PresenceWriteFailures prometheus.Counter
}

// NewMetrics registers the relay instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamchat", Subsystem: "relay", Name: "connections",
			Help: "Open websocket connections.",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamchat", Subsystem: "relay", Name: "online_users",
			Help: "Users with a registered connection.",
		}),
		MessagesRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "teamchat", Subsystem: "relay", Name: "messages_relayed_total",
			Help: "Messages persisted and broadcast.",
		}),
		MessagesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamchat", Subsystem: "relay", Name: "messages_rejected_total",
			Help: "Messages rejected before broadcast.",
		}, []string{"reason"}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "teamchat", Subsystem: "relay", Name: "evictions_total",
			Help: "Connections closed because their send queue was full.",
		}),
		TypingNotices: f.NewCounter(prometheus.CounterOpts{
			Namespace: "teamchat", Subsystem: "relay", Name: "typing_notices_total",
			Help: "Typing and stop-typing notices fanned out.",
		}),
		PresenceWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "teamchat", Subsystem: "relay", Name: "presence_write_failures_total",
			Help: "Durable presence updates that failed.",
		}),
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) setOnline(n int) {
	if m != nil {
		m.OnlineUsers.Set(float64(n))
	}
}

func (m *Metrics) relayed() {
	if m != nil {
		m.MessagesRelayed.Inc()
	}
}

func (m *Metrics) rejected(reason string) {
	if m != nil {
		m.MessagesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) typing() {
	if m != nil {
		m.TypingNotices.Inc()
	}
}

func (m *Metrics) presenceWriteFailed() {
	if m != nil {
		m.PresenceWriteFailures.Inc()
	}
}
