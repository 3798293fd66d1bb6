// Package metric owns the Prometheus registry shared by all service
// components and the core platform metrics every deployment exports.
package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// Metrics holds the core platform metrics shared by every service.
type Metrics struct {
	ServiceStatus    *prometheus.GaugeVec
	RequestsReceived *prometheus.CounterVec
	ResponsesSent    *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	DatasetsManaged  prometheus.Gauge
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics builds the core metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dmod",
			Name:      "service_status",
			Help:      "Service status (1=running, 0=stopped)",
		}, []string{"service"}),

		RequestsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dmod",
			Name:      "requests_received_total",
			Help:      "Total request frames received, by event type",
		}, []string{"service", "event"}),

		ResponsesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dmod",
			Name:      "responses_sent_total",
			Help:      "Total responses sent, by outcome reason",
		}, []string{"service", "reason"}),

		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dmod",
			Name:      "handler_duration_seconds",
			Help:      "Request handler duration, by event type",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"service", "event"}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dmod",
			Name:      "sessions_active",
			Help:      "Currently active sessions",
		}),

		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmod",
			Name:      "sessions_created_total",
			Help:      "Total sessions created",
		}),

		DatasetsManaged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dmod",
			Name:      "datasets_managed",
			Help:      "Datasets currently under management",
		}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dmod",
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"service", "type"}),
	}
}

// MetricsRegistry manages registration and lifecycle of per-service metrics
// on top of a dedicated Prometheus registry.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.Mutex
}

// NewMetricsRegistry creates a registry preloaded with the core platform
// metrics and the Go runtime collectors.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.prometheusRegistry.MustRegister(
		registry.Metrics.ServiceStatus,
		registry.Metrics.RequestsReceived,
		registry.Metrics.ResponsesSent,
		registry.Metrics.HandlerDuration,
		registry.Metrics.SessionsActive,
		registry.Metrics.SessionsCreated,
		registry.Metrics.DatasetsManaged,
		registry.Metrics.ErrorsTotal,
	)

	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Handler returns an HTTP handler exposing the registry in the Prometheus
// text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}

// Register registers a service-scoped collector under service.metric,
// rejecting duplicate names eagerly.
func (r *MetricsRegistry) Register(serviceName, metricName string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, metricName)
	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for service %s", metricName, serviceName),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register",
			"register collector with prometheus")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a service-scoped metric from the registry.
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, metricName)
	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	success := r.prometheusRegistry.Unregister(collector)
	if success {
		delete(r.registeredMetrics, key)
	}
	return success
}
