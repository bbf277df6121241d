package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the orchestrator's Prometheus registry, grounded on
// Synnergy's HealthLogger gauge/counter set: one registry, named
// gauges for point-in-time counts, counters for cumulative events.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	transfersActive  prometheus.Gauge
	peersKnown       prometheus.Gauge
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	authFailures     prometheus.Counter
	invalidFrames    prometheus.Counter
	rateLimitRejects prometheus.Counter
	breakerTrips     prometheus.Counter
}

// NewMetrics builds and registers the orchestrator's metric set against
// a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wraith_sessions_active",
		Help: "Number of currently active sessions",
	})
	m.transfersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wraith_transfers_active",
		Help: "Number of in-flight file transfers",
	})
	m.peersKnown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wraith_peers_known",
		Help: "Number of peers known to the routing table",
	})
	m.bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wraith_bytes_sent_total",
		Help: "Total bytes sent across all sessions",
	})
	m.bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wraith_bytes_received_total",
		Help: "Total bytes received across all sessions",
	})
	m.authFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wraith_auth_failures_total",
		Help: "Total AEAD/handshake authentication failures",
	})
	m.invalidFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wraith_invalid_frames_total",
		Help: "Total malformed frames dropped at ingress",
	})
	m.rateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wraith_rate_limit_rejects_total",
		Help: "Total operations rejected for exhausting a rate-limit budget",
	})
	m.breakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wraith_circuit_breaker_trips_total",
		Help: "Total times a circuit breaker opened",
	})

	reg.MustRegister(
		m.sessionsActive,
		m.transfersActive,
		m.peersKnown,
		m.bytesSent,
		m.bytesReceived,
		m.authFailures,
		m.invalidFrames,
		m.rateLimitRejects,
		m.breakerTrips,
	)
	return m
}

// Registry exposes the underlying Prometheus registry for an HTTP
// /metrics handler to serve.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
