// Package metrics exposes Prometheus instrumentation for the proxy,
// wiring github.com/prometheus/client_golang the way the richer example
// repos in the retrieval pack (ARO-HCP's frontend, GoSessionEngine's atomic
// counters generalized to a real metrics library) instrument their HTTP
// surfaces.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/gauge/histogram the proxy emits.
type Metrics struct {
	ServersOnline  prometheus.Gauge
	ServersOffline prometheus.Gauge
	SessionsTotal  prometheus.Gauge

	HeartbeatsReceived prometheus.Counter
	OfflineTransitions prometheus.Counter

	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	NoCapacity     prometheus.Counter
	UpstreamErrors prometheus.Counter
}

// New creates and registers all metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ServersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runtimefleet_servers_online",
			Help: "Number of runtime servers currently online.",
		}),
		ServersOffline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runtimefleet_servers_offline",
			Help: "Number of runtime servers currently offline.",
		}),
		SessionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runtimefleet_sessions_total",
			Help: "Number of active session bindings.",
		}),
		HeartbeatsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtimefleet_heartbeats_received_total",
			Help: "Total heartbeat POSTs accepted from workers.",
		}),
		OfflineTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtimefleet_offline_transitions_total",
			Help: "Total number of servers marked offline by the heartbeat sweep.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runtimefleet_proxied_requests_total",
			Help: "Total proxied requests by destination server.",
		}, []string{"server_id"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runtimefleet_proxied_request_duration_seconds",
			Help:    "Upstream round-trip latency by destination server.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server_id"}),
		NoCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtimefleet_no_capacity_total",
			Help: "Total requests rejected because no server had capacity.",
		}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtimefleet_upstream_errors_total",
			Help: "Total proxied requests that failed to reach their upstream.",
		}),
	}

	reg.MustRegister(
		m.ServersOnline, m.ServersOffline, m.SessionsTotal,
		m.HeartbeatsReceived, m.OfflineTransitions,
		m.RequestsTotal, m.RequestLatency,
		m.NoCapacity, m.UpstreamErrors,
	)
	return m
}

// SetFleetGauges updates the point-in-time fleet-size gauges. Callers pass
// counts derived from a registry snapshot rather than this package reading
// the registry directly, keeping metrics decoupled from registry internals.
func (m *Metrics) SetFleetGauges(online, offline, sessions int) {
	m.ServersOnline.Set(float64(online))
	m.ServersOffline.Set(float64(offline))
	m.SessionsTotal.Set(float64(sessions))
}

// ObserveRequest records a completed proxied request's latency.
func (m *Metrics) ObserveRequest(serverID string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(serverID).Inc()
	m.RequestLatency.WithLabelValues(serverID).Observe(d.Seconds())
}
