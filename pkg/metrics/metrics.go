// Package metrics exposes the control plane's Prometheus collectors. They
// register on the default registry and are served on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry metrics
	ServersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpd_servers_created_total",
			Help: "Total number of MCP servers registered",
		},
	)

	ServersDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpd_servers_deleted_total",
			Help: "Total number of MCP servers deleted",
		},
	)

	// Lifecycle metrics
	LifecycleActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpd_lifecycle_actions_total",
			Help: "Lifecycle actions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	RunningServers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpd_servers_running",
			Help: "Number of MCP servers currently observed running",
		},
	)

	// Token manager metrics
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpd_token_refreshes_total",
			Help: "Token refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Container runtime metrics
	ContainerOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpd_container_op_duration_seconds",
			Help:    "Duration of container runtime operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// ObserveContainerOp records the duration of one runtime operation. Use with
// defer and a captured start time.
func ObserveContainerOp(operation string, start time.Time) {
	ContainerOpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
