// Package metrics exposes the Prometheus instrumentation of the
// supervision engine: restart counts, port pool occupancy, probe
// outcomes, crash-loop trips, and reconcile-pass durations.
//
// Grounded on the teacher's internal/controller/metrics/persistence.go
// and internal/controller/filewatcher/metrics.go: promauto-registered
// vectors declared as package-level values, one constructor-free
// recording function per metric.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	restartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_restarts_total",
		Help: "Total restart attempts per server and trigger reason.",
	}, []string{"server_id", "reason"})

	crashLoopTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_crash_loop_trips_total",
		Help: "Total times the crash-loop damper refused a start.",
	}, []string{"server_id"})

	proxyFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_proxy_fallbacks_total",
		Help: "Total proxy-type fallbacks (mcpo <-> mcp-bridge).",
	}, []string{"server_id", "from_type", "to_type"})

	healthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_health_probes_total",
		Help: "Total health probes by outcome.",
	}, []string{"server_id", "outcome"})

	portPoolAllocated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_port_pool_allocated",
		Help: "Currently allocated ports in the pool.",
	})

	portPoolDraining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_port_pool_draining",
		Help: "Ports in their post-release reuse cooldown.",
	})

	reconcilePassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcp_gateway_reconcile_pass_duration_seconds",
		Help:    "Wall-clock duration of one reconcile pass.",
		Buckets: prometheus.DefBuckets,
	})

	secretStoreFallbackMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcp_gateway_secret_store_mode",
		Help: "1 for the secret store's currently active fallback tier, 0 otherwise.",
	}, []string{"mode"})
)

// RecordRestart increments the restart counter for a server/reason pair.
func RecordRestart(serverID, reason string) {
	restartsTotal.WithLabelValues(serverID, reason).Inc()
}

// RecordCrashLoopTrip increments the crash-loop damper trip counter.
func RecordCrashLoopTrip(serverID string) {
	crashLoopTripsTotal.WithLabelValues(serverID).Inc()
}

// RecordProxyFallback increments the proxy-type fallback counter.
func RecordProxyFallback(serverID, fromType, toType string) {
	proxyFallbacksTotal.WithLabelValues(serverID, fromType, toType).Inc()
}

// RecordHealthProbe increments the probe-outcome counter. outcome is one
// of "healthy", "unhealthy", "auth_error".
func RecordHealthProbe(serverID, outcome string) {
	healthProbesTotal.WithLabelValues(serverID, outcome).Inc()
}

// SetPortPoolStats updates the port pool gauges.
func SetPortPoolStats(allocated, draining int) {
	portPoolAllocated.Set(float64(allocated))
	portPoolDraining.Set(float64(draining))
}

// ObserveReconcilePass records the duration of one completed reconcile.
func ObserveReconcilePass(seconds float64) {
	reconcilePassDuration.Observe(seconds)
}

// SetSecretStoreMode marks which fallback tier is active, zeroing the
// others.
func SetSecretStoreMode(active string) {
	for _, mode := range []string{"persistent", "tmpfs", "memory", "keyring"} {
		v := 0.0
		if mode == active {
			v = 1.0
		}
		secretStoreFallbackMode.WithLabelValues(mode).Set(v)
	}
}
