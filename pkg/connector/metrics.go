package connector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/remoting/pkg/protocol"
)

// MetricsConfig configures connector metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "remoting").
	Namespace string

	// Subsystem is the metrics subsystem (default: "connector").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for cycle and poll durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures connector metrics.
type MetricsOption func(*MetricsConfig)

// WithMetricsNamespace sets the metrics namespace.
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithMetricsRegistry sets the Prometheus registry.
func WithMetricsRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// WithMetricsConstLabels sets constant labels for all metrics.
func WithMetricsConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "remoting",
		Subsystem: "connector",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics records connector activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	commandsSent     *prometheus.CounterVec
	commandsReceived *prometheus.CounterVec
	batches          *prometheus.CounterVec
	cycleErrors      *prometheus.CounterVec
	cycleDuration    *prometheus.HistogramVec
	pollDuration     prometheus.Histogram
	activePolls      prometheus.Gauge
}

// NewMetrics registers the connector collectors. Register it once per
// registry and share it between connectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "commands_sent_total",
			Help:        "Total number of commands sent, by side and kind",
			ConstLabels: config.ConstLabels,
		}, []string{"side", "kind"}),

		commandsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "commands_received_total",
			Help:        "Total number of commands received, by side and kind",
			ConstLabels: config.ConstLabels,
		}, []string{"side", "kind"}),

		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "batches_total",
			Help:        "Total number of request/response cycles",
			ConstLabels: config.ConstLabels,
		}, []string{"side"}),

		cycleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cycle_errors_total",
			Help:        "Total number of failed request/response cycles",
			ConstLabels: config.ConstLabels,
		}, []string{"side"}),

		cycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cycle_duration_seconds",
			Help:        "Request/response cycle duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"side"}),

		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "long_poll_duration_seconds",
			Help:        "Time a long poll was held open on the server",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		activePolls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_long_polls",
			Help:        "Number of long polls currently held open",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *Metrics) recordSent(side string, cmds []protocol.Command) {
	if m == nil {
		return
	}
	for _, cmd := range cmds {
		if protocol.IsControl(cmd) {
			continue
		}
		m.commandsSent.WithLabelValues(side, cmd.Kind().String()).Inc()
	}
}

func (m *Metrics) recordReceived(side string, cmds []protocol.Command) {
	if m == nil {
		return
	}
	for _, cmd := range cmds {
		if protocol.IsControl(cmd) {
			continue
		}
		m.commandsReceived.WithLabelValues(side, cmd.Kind().String()).Inc()
	}
}

func (m *Metrics) recordCycle(side string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(side).Inc()
	m.cycleDuration.WithLabelValues(side).Observe(d.Seconds())
	if err != nil {
		m.cycleErrors.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) pollStarted() {
	if m == nil {
		return
	}
	m.activePolls.Inc()
}

func (m *Metrics) pollFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.activePolls.Dec()
	m.pollDuration.Observe(d.Seconds())
}
