// Package metric provides Prometheus metrics for redstore.
//
// It exposes metrics in Prometheus format for monitoring connection
// counts, command rates, latencies, and keyspace health.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all application metrics, backed by its own Prometheus
// registry so tests can create isolated instances.
type Registry struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Keyspace metrics
	KeysExpired prometheus.Counter

	reg *prometheus.Registry
}

// NewRegistry creates a metrics registry with all collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "redstore",
			Name:      "connections_active",
			Help:      "Number of currently open client connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redstore",
			Name:      "connections_total",
			Help:      "Total number of client connections accepted.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redstore",
			Name:      "commands_total",
			Help:      "Total number of commands dispatched, by command and status.",
		}, []string{"command", "status"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "redstore",
			Name:      "command_duration_seconds",
			Help:      "Command dispatch latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"command"}),
		KeysExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redstore",
			Name:      "keys_expired_total",
			Help:      "Total number of keys removed by the expiry sweeper.",
		}),
		reg: reg,
	}

	reg.MustRegister(
		r.ConnectionsActive,
		r.ConnectionsTotal,
		r.CommandsTotal,
		r.CommandDuration,
		r.KeysExpired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// RegisterKeysGauge registers a gauge that reports the live key count on
// each scrape. fn is called during collection and must be fast.
func (r *Registry) RegisterKeysGauge(fn func() float64) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "redstore",
		Name:      "keys_live",
		Help:      "Number of live keys in the store.",
	}, fn))
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
