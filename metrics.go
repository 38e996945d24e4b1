package lazycord

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the realtime client's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ConnectionUp      prometheus.Gauge
	Reconnects        prometheus.Counter
	FramesReceived    *prometheus.CounterVec
	DuplicatesDropped prometheus.Counter
	StaleHistory      prometheus.Counter
	PublishDropped    *prometheus.CounterVec
	AcksFailed        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lazycord",
			Name:      "connection_up",
			Help:      "1 while the broker connection is CONNECTED.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lazycord",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts started after a dropped or failed connection.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lazycord",
			Name:      "frames_received_total",
			Help:      "Inbound frames by subscription kind.",
		}, []string{"kind"}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lazycord",
			Name:      "duplicate_messages_total",
			Help:      "Realtime messages dropped because their id was already cached.",
		}),
		StaleHistory: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lazycord",
			Name:      "stale_history_responses_total",
			Help:      "History responses discarded because the selection changed.",
		}),
		PublishDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lazycord",
			Name:      "publish_dropped_total",
			Help:      "Outbound commands not handed to the broker, by reason.",
		}, []string{"reason"}),
		AcksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lazycord",
			Name:      "read_ack_failures_total",
			Help:      "Read acknowledgements the server rejected or never received.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectionUp,
			m.Reconnects,
			m.FramesReceived,
			m.DuplicatesDropped,
			m.StaleHistory,
			m.PublishDropped,
			m.AcksFailed,
		)
	}
	return m
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ConnectionUp.Set(1)
	} else {
		m.ConnectionUp.Set(0)
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) frame(kind FrameKind) {
	if m != nil {
		m.FramesReceived.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.DuplicatesDropped.Inc()
	}
}

func (m *Metrics) staleHistory() {
	if m != nil {
		m.StaleHistory.Inc()
	}
}

func (m *Metrics) publishDropped(reason string) {
	if m != nil {
		m.PublishDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ackFailed() {
	if m != nil {
		m.AcksFailed.Inc()
	}
}
