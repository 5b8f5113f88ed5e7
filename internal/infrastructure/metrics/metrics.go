package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	MessagesAppended    prometheus.Counter
	StatusTransitions   *prometheus.CounterVec
	ReactionsChanged    *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	DeliveriesDropped   prometheus.Counter
	Resyncs             prometheus.Counter
	Reconnects          prometheus.Counter
	NotificationResults *prometheus.CounterVec
	OutboxDepth         prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Name: "messages_appended_total",
			Help: "Messages appended to the ledger.",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "status_transitions_total",
			Help: "Message status transitions by target status.",
		}, []string{"status"}),
		ReactionsChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "reactions_changed_total",
			Help: "Reaction changes by operation.",
		}, []string{"op"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "fabric_events_published_total",
			Help: "Fabric publish attempts by result.",
		}, []string{"result"}),
		DeliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Name: "fabric_deliveries_dropped_total",
			Help: "Deliveries discarded because a subscription queue overflowed.",
		}),
		Resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Name: "fabric_resyncs_total",
			Help: "Sync deliveries produced after connect, reconnect or overflow.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Name: "fabric_reconnects_total",
			Help: "Successful fabric (re)connections.",
		}),
		NotificationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "notifications_total",
			Help: "Notification sink outcomes.",
		}, []string{"sink", "result"}),
		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Name: "outbox_depth",
			Help: "Pending messages in the local outbox.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesAppended, m.StatusTransitions, m.ReactionsChanged,
			m.EventsPublished, m.DeliveriesDropped, m.Resyncs, m.Reconnects,
			m.NotificationResults, m.OutboxDepth,
		)
	}
	return m
}

func (m *Metrics) Appended() {
	if m != nil {
		m.MessagesAppended.Inc()
	}
}

func (m *Metrics) StatusAdvanced(status string) {
	if m != nil {
		m.StatusTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Reaction(op string) {
	if m != nil {
		m.ReactionsChanged.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Published(result string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Dropped(n int) {
	if m != nil && n > 0 {
		m.DeliveriesDropped.Add(float64(n))
	}
}

func (m *Metrics) Resynced() {
	if m != nil {
		m.Resyncs.Inc()
	}
}

func (m *Metrics) Reconnected() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) Notified(sink, result string) {
	if m != nil {
		m.NotificationResults.WithLabelValues(sink, result).Inc()
	}
}

func (m *Metrics) SetOutboxDepth(n int) {
	if m != nil {
		m.OutboxDepth.Set(float64(n))
	}
}
