package sox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sox"

// ServerMetrics holds the Prometheus collectors for one server instance.
// Metrics are opt-in: pass the result of NewServerMetrics to
// WithServerMetrics. A nil *ServerMetrics is valid and collects nothing.
type ServerMetrics struct {
	connectionsTotal prometheus.Counter
	activeSessions   prometheus.Gauge
	messagesReceived prometheus.Counter
	broadcastsTotal  prometheus.Counter
	sendFailures     prometheus.Counter
}

// NewServerMetrics creates and registers the server collectors with reg. If
// reg is nil the default registerer is used.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ServerMetrics{
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Total number of accepted connections.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "sessions_active",
			Help:      "Number of currently registered sessions.",
		}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "messages_received_total",
			Help:      "Total number of messages read from sessions.",
		}),
		broadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcast fan-outs.",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "send_failures_total",
			Help:      "Total number of failed sends during broadcast.",
		}),
	}
}

func (m *ServerMetrics) sessionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *ServerMetrics) sessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *ServerMetrics) messageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *ServerMetrics) broadcastSent() {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
}

func (m *ServerMetrics) sendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// ClientMetrics holds the Prometheus collectors for one client instance.
// A nil *ClientMetrics is valid and collects nothing.
type ClientMetrics struct {
	reconnectsTotal  prometheus.Counter
	messagesObserved prometheus.Counter
}

// NewClientMetrics creates and registers the client collectors with reg. If
// reg is nil the default registerer is used.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ClientMetrics{
		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts triggered by a lost connection.",
		}),
		messagesObserved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "messages_observed_total",
			Help:      "Total number of messages fanned out to observers.",
		}),
	}
}

func (m *ClientMetrics) reconnectStarted() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *ClientMetrics) messageObserved() {
	if m == nil {
		return
	}
	m.messagesObserved.Inc()
}
