// Package metrics provides Prometheus metrics collection for quotaguard.
package metrics

import (
	"strconv"
	"time"

	"github.com/artpar/quotaguard/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quotaguard"

// Collector holds all Prometheus metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	// Admission metrics
	Admissions *prometheus.CounterVec

	// Auth metrics
	AuthFailures  *prometheus.CounterVec
	KeyOperations *prometheus.CounterVec

	// Alert metrics
	Alerts *prometheus.CounterVec

	// Maintenance metrics
	CounterSweeps   prometheus.Counter
	CountersEvicted *prometheus.CounterVec

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		Admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Admission decisions by plan, result and rejecting limit",
			},
			[]string{"plan", "result", "limit"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of API key authentication failures",
			},
			[]string{"reason"},
		),
		KeyOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "key_operations_total",
				Help:      "API key lifecycle operations",
			},
			[]string{"op"},
		),
		Alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Quota alerts raised by threshold and delivery outcome",
			},
			[]string{"threshold", "delivered"},
		),
		CounterSweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "counter_sweeps_total",
				Help:      "Total number of counter sweep passes",
			},
		),
		CountersEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "counters_evicted_total",
				Help:      "Counters and alert records removed by maintenance",
			},
			[]string{"kind"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"route", "status"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// Admission records an admission decision. limit is empty when allowed.
func (c *Collector) Admission(plan string, allowed bool, limit string) {
	if c == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
		limit = "none"
	}
	c.Admissions.WithLabelValues(plan, result, limit).Inc()
}

// AuthFailure records a failed key authentication.
func (c *Collector) AuthFailure(reason string) {
	if c == nil {
		return
	}
	c.AuthFailures.WithLabelValues(reason).Inc()
}

// KeyOperation records a key lifecycle operation.
func (c *Collector) KeyOperation(op string) {
	if c == nil {
		return
	}
	c.KeyOperations.WithLabelValues(op).Inc()
}

// Alert records a raised alert.
func (c *Collector) Alert(threshold int, delivered bool) {
	if c == nil {
		return
	}
	c.Alerts.WithLabelValues(strconv.Itoa(threshold), strconv.FormatBool(delivered)).Inc()
}

// Sweep records a maintenance pass and the entries it removed.
func (c *Collector) Sweep(kind string, removed int) {
	if c == nil {
		return
	}
	if kind == "window" {
		c.CounterSweeps.Inc()
	}
	c.CountersEvicted.WithLabelValues(kind).Add(float64(removed))
}

// Request records an HTTP request duration.
func (c *Collector) Request(route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}

// ConfigReloaded records a config reload attempt.
func (c *Collector) ConfigReloaded(err error, at time.Time) {
	if c == nil {
		return
	}
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(at.Unix()))
}

var _ ports.Metrics = (*Collector)(nil)
