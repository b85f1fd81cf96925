package sox

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tmaxmax/go-sse"
)

// MonitorOption represents the options for the monitor.
type MonitorOption func(*Monitor)

// Monitor is an HTTP ops surface for a fabric server. It implements Tap:
// attach it with WithTap and every fabric event (connect, disconnect,
// receive, broadcast, send failure) is republished as a Server-Sent Events
// stream under /events, JSON-encoded, with the event kind as the SSE event
// type. /metrics serves the Prometheus registry and /healthz answers
// liveness probes.
//
// The monitor is strictly observational: it exposes no control over the
// fabric and forwards payloads as opaque text.
type Monitor struct {
	sse      *sse.Server
	router   chi.Router
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewMonitor creates a monitor serving metrics from the given gatherer; nil
// selects the default Prometheus gatherer. Mount Handler on an http.Server
// to expose it.
func NewMonitor(gatherer prometheus.Gatherer, options ...MonitorOption) *Monitor {
	m := &Monitor{
		sse:      &sse.Server{},
		gatherer: gatherer,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(m)
	}

	if m.gatherer == nil {
		m.gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Get("/events", m.sse.ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	m.router = r

	return m
}

// WithMonitorLogger sets the logger for the monitor.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger.With(
			slog.String("package", "sox"),
			slog.String("component", "monitor"),
		)
	}
}

// Handler returns the monitor's HTTP handler.
func (m *Monitor) Handler() http.Handler {
	return m.router
}

// Tap implements the Tap interface by publishing the event to all connected
// SSE subscribers. Publish failures are logged, never propagated: the
// monitor must not disturb the fabric it watches.
func (m *Monitor) Tap(ev TapEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("failed to marshal tap event", slog.String("err", err.Error()))
		return
	}

	msg := &sse.Message{
		Type: sse.Type(string(ev.Kind)),
	}
	msg.AppendData(string(data))

	if err := m.sse.Publish(msg); err != nil {
		m.logger.Warn("failed to publish tap event", slog.String("err", err.Error()))
	}
}

// Shutdown closes all SSE subscriber connections. The context bounds the
// wait.
func (m *Monitor) Shutdown(ctx context.Context) error {
	return m.sse.Shutdown(ctx)
}
