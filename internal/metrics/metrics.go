// Package metrics exposes engine evaluation metrics to Prometheus.
//
// Every recording method is safe on a nil *Collector, so engine code can
// record unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AaronLay10/SentientTree/internal/events"
	"github.com/AaronLay10/SentientTree/internal/version"
)

const namespace = "sentient"

// Collector owns a private registry and the engine's collectors.
type Collector struct {
	registry *prometheus.Registry

	ticks          *prometheus.CounterVec
	tickDuration   *prometheus.HistogramVec
	nodeResults    *prometheus.CounterVec
	interrupts     *prometheus.CounterVec
	faults         *prometheus.CounterVec
	serviceUpdates *prometheus.CounterVec
	saves          *prometheus.CounterVec
	connected      *prometheus.GaugeVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tree_ticks_total",
			Help:      "Total number of tree ticks by result",
		}, []string{"tree", "status"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_tick_duration_seconds",
			Help:      "Wall time spent evaluating one tick",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"tree"}),
		nodeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_results_total",
			Help:      "Total number of node completions by kind and result",
		}, []string{"tree", "kind", "status"}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_interrupts_total",
			Help:      "Total number of running nodes stopped by an ancestor",
		}, []string{"tree", "kind"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_faults_total",
			Help:      "Total number of errors and panics recovered at the node boundary",
		}, []string{"tree", "kind", "phase"}),
		serviceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_updates_total",
			Help:      "Total number of service firings",
		}, []string{"tree", "service"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blackboard_saves_total",
			Help:      "Total number of blackboard snapshot saves by backend and result",
		}, []string{"backend", "result"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_connected",
			Help:      "Whether a backend is connected (1) or not (0)",
		}, []string{"backend"}),
	}

	started := time.Now()
	c.registry.MustRegister(
		c.ticks, c.tickDuration, c.nodeResults, c.interrupts,
		c.faults, c.serviceUpdates, c.saves, c.connected,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the engine started",
		}, func() float64 { return time.Since(started).Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "build_info",
			Help:        "Build version of the running engine",
			ConstLabels: prometheus.Labels{"version": version.Version},
		}, func() float64 { return 1 }),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WatchEventLog exports the size and subscriber count of log.
func (c *Collector) WatchEventLog(log *events.Log) {
	if c == nil || log == nil {
		return
	}
	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of events emitted since startup",
		}, func() float64 { return float64(log.TotalCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Number of live event stream subscribers",
		}, func() float64 { return float64(log.SubscriberCount()) }),
	)
}

// Tick records one tree tick.
func (c *Collector) Tick(tree, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.ticks.WithLabelValues(tree, status).Inc()
	c.tickDuration.WithLabelValues(tree).Observe(d.Seconds())
}

// NodeResult records a node finishing with status.
func (c *Collector) NodeResult(tree, kind, status string) {
	if c == nil {
		return
	}
	c.nodeResults.WithLabelValues(tree, kind, status).Inc()
}

// Interrupt records a running node being stopped by an ancestor.
func (c *Collector) Interrupt(tree, kind string) {
	if c == nil {
		return
	}
	c.interrupts.WithLabelValues(tree, kind).Inc()
}

// Fault records an error or panic recovered at the node boundary.
func (c *Collector) Fault(tree, kind, phase string) {
	if c == nil {
		return
	}
	c.faults.WithLabelValues(tree, kind, phase).Inc()
}

// ServiceUpdate records a service firing.
func (c *Collector) ServiceUpdate(tree, service string) {
	if c == nil {
		return
	}
	c.serviceUpdates.WithLabelValues(tree, service).Inc()
}

// Save records a blackboard snapshot save.
func (c *Collector) Save(backend string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.saves.WithLabelValues(backend, result).Inc()
}

// SetConnected records whether backend is reachable.
func (c *Collector) SetConnected(backend string, ok bool) {
	if c == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	c.connected.WithLabelValues(backend).Set(v)
}
