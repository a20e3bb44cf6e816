package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trackforge/trackforge/pkg/errors"
)

// Exporter mirrors cache instrumentation into a Prometheus registry.
type Exporter struct {
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
}

// ExporterConfig configures the Prometheus exporter.
type ExporterConfig struct {
	Namespace string
	Subsystem string
	Labels    map[string]string
}

// NewExporter creates an exporter with its own registry.
func NewExporter(config *ExporterConfig) (*Exporter, error) {
	if config == nil {
		config = &ExporterConfig{}
	}
	if config.Namespace == "" {
		config.Namespace = "trackforge"
	}
	if config.Subsystem == "" {
		config.Subsystem = "cache"
	}

	registry := prometheus.NewRegistry()
	e := &Exporter{
		registry: registry,
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "operations_total",
			Help:        "Total cache operations by operation kind and outcome",
			ConstLabels: config.Labels,
		}, []string{"operation", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Cache operation latency in seconds",
			ConstLabels: config.Labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"operation"}),
		errorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "errors_total",
			Help:        "Total cache errors by error category",
			ConstLabels: config.Labels,
		}, []string{"category"}),
	}

	for _, collector := range []prometheus.Collector{e.operationCounter, e.operationDuration, e.errorCounter} {
		if err := registry.Register(collector); err != nil {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "failed to register prometheus collector").WithCause(err)
		}
	}
	return e, nil
}

func (e *Exporter) observe(op Operation, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		e.errorCounter.WithLabelValues(string(errors.Classify(err))).Inc()
	}
	e.operationCounter.WithLabelValues(string(op), outcome).Inc()
	e.operationDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// Handler exposes the registry for scraping.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry so callers can register extra
// collectors alongside the cache metrics.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
