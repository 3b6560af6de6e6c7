// Package poolmetrics provides a Prometheus-backed implementation of
// pool.Metrics, mirroring the wiring idiom of metrics/prometheus.
package poolmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/corewire/httpcache/pool"
)

// Collector implements pool.Metrics for Prometheus.
type Collector struct {
	connsOpened   *prometheus.CounterVec
	connsClosed   *prometheus.CounterVec
	leasesOK      *prometheus.CounterVec
	leasesTimeout *prometheus.CounterVec
	idleEvicted   *prometheus.CounterVec
}

// Config configures the namespace/registry a Collector registers against.
type Config struct {
	Registry  prometheus.Registerer
	Namespace string
}

// NewCollector creates a Collector registered against the default registry
// under the "httpcache" namespace.
func NewCollector() *Collector {
	return NewCollectorWithConfig(Config{})
}

// NewCollectorWithConfig creates a Collector using the given registry and
// namespace, falling back to prometheus.DefaultRegisterer / "httpcache".
func NewCollectorWithConfig(cfg Config) *Collector {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "httpcache"
	}
	factory := promauto.With(cfg.Registry)

	labels := []string{"scheme", "host"}
	return &Collector{
		connsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "pool",
			Name:      "connections_opened_total",
			Help:      "Total number of connections constructed by the pool factory.",
		}, labels),
		connsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "pool",
			Name:      "connections_closed_total",
			Help:      "Total number of connections closed by the pool.",
		}, labels),
		leasesOK: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "pool",
			Name:      "leases_acquired_total",
			Help:      "Total number of successful Lease calls.",
		}, labels),
		leasesTimeout: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "pool",
			Name:      "leases_timed_out_total",
			Help:      "Total number of Lease calls that returned ErrLeaseTimeout.",
		}, labels),
		idleEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "pool",
			Name:      "idle_evicted_total",
			Help:      "Total number of free connections closed by the idle-eviction loop.",
		}, labels),
	}
}

func (c *Collector) ConnOpened(r pool.Route)    { c.connsOpened.WithLabelValues(r.Scheme, r.Host).Inc() }
func (c *Collector) ConnClosed(r pool.Route)    { c.connsClosed.WithLabelValues(r.Scheme, r.Host).Inc() }
func (c *Collector) LeaseAcquired(r pool.Route) { c.leasesOK.WithLabelValues(r.Scheme, r.Host).Inc() }
func (c *Collector) LeaseTimedOut(r pool.Route) {
	c.leasesTimeout.WithLabelValues(r.Scheme, r.Host).Inc()
}
func (c *Collector) IdleEvicted(r pool.Route) { c.idleEvicted.WithLabelValues(r.Scheme, r.Host).Inc() }

var _ pool.Metrics = (*Collector)(nil)
