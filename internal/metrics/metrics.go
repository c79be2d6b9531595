package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Tool call metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	ToolDenialsTotal *prometheus.CounterVec

	// Extension metrics
	ExtensionLoadsTotal *prometheus.CounterVec
	ExtensionsLoaded    prometheus.Gauge

	// Gateway metrics
	GatewayConnections   prometheus.Gauge
	GatewayRequestsTotal *prometheus.CounterVec

	// Process metrics
	ProcessLaunchesTotal     prometheus.Counter
	ProcessTerminationsTotal *prometheus.CounterVec

	// Secret store metrics
	SecretOpsTotal *prometheus.CounterVec

	// Housekeeping metrics
	HistoryPrunedTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_calls_total",
				Help: "Total number of dispatched tool calls by terminal state",
			},
			[]string{"tool", "state"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		ToolDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_denials_total",
				Help: "Total number of tool calls denied by policy or validation",
			},
			[]string{"tool"},
		),

		ExtensionLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extension_loads_total",
				Help: "Total number of extension load attempts",
			},
			[]string{"status"},
		),
		ExtensionsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "extensions_loaded",
				Help: "Number of currently loaded extensions",
			},
		),

		GatewayConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_connections",
				Help: "Number of connected gateway clients",
			},
		),
		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of gateway RPC requests",
			},
			[]string{"method", "status"},
		),

		ProcessLaunchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "process_launches_total",
				Help: "Total number of processes launched",
			},
		),
		ProcessTerminationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "process_terminations_total",
				Help: "Total number of process terminations by outcome",
			},
			[]string{"outcome"},
		),

		SecretOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secret_ops_total",
				Help: "Total number of secret store operations",
			},
			[]string{"op"},
		),

		HistoryPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "history_pruned_total",
				Help: "Total number of call history rows pruned",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ToolCallsTotal)
	m.registry.MustRegister(m.ToolCallDuration)
	m.registry.MustRegister(m.ToolDenialsTotal)

	m.registry.MustRegister(m.ExtensionLoadsTotal)
	m.registry.MustRegister(m.ExtensionsLoaded)

	m.registry.MustRegister(m.GatewayConnections)
	m.registry.MustRegister(m.GatewayRequestsTotal)

	m.registry.MustRegister(m.ProcessLaunchesTotal)
	m.registry.MustRegister(m.ProcessTerminationsTotal)

	m.registry.MustRegister(m.SecretOpsTotal)
	m.registry.MustRegister(m.HistoryPrunedTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
