package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus-backed implementation of relay.Metrics.
// It owns its registry so tests can build isolated instances.
type Metrics struct {
	reg *prometheus.Registry

	framesRelayed    *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	clientsConnected *prometheus.GaugeVec
	sessionsLost     prometheus.Counter
}

// NewMetrics builds and registers the relay metric set, plus the standard
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,

		framesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lyra",
			Name:      "frames_relayed_total",
			Help:      "Frames relayed through the gateway, by direction.",
		}, []string{"direction"}),

		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lyra",
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped due to decode failure, by error kind.",
		}, []string{"kind"}),

		clientsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lyra",
			Name:      "clients_connected",
			Help:      "Currently attached websocket clients, by role.",
		}, []string{"role"}),

		sessionsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyra",
			Name:      "sessions_lost_total",
			Help:      "Sessions ended by heartbeat expiry.",
		}),
	}

	reg.MustRegister(m.framesRelayed, m.decodeErrors, m.clientsConnected, m.sessionsLost)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// FrameRelayed implements relay.Metrics.
func (m *Metrics) FrameRelayed(direction string) {
	m.framesRelayed.WithLabelValues(direction).Inc()
}

// DecodeError implements relay.Metrics.
func (m *Metrics) DecodeError(kind string) {
	m.decodeErrors.WithLabelValues(kind).Inc()
}

// ClientAttached implements relay.Metrics.
func (m *Metrics) ClientAttached(role string) {
	m.clientsConnected.WithLabelValues(role).Inc()
}

// ClientDetached implements relay.Metrics.
func (m *Metrics) ClientDetached(role string) {
	m.clientsConnected.WithLabelValues(role).Dec()
}

// SessionLost implements relay.Metrics.
func (m *Metrics) SessionLost() {
	m.sessionsLost.Inc()
}
