// Package metrics exposes the reservation engine's Prometheus metrics
// behind a narrow interface so callers never import prometheus directly.
package metrics

import (
    "fmt"
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

// MetricsInterface is the surface every component depends on, letting
// tests substitute a no-op or recording fake.
type MetricsInterface interface {
    IncrementCounter(name string, labels map[string]string)
    ObserveHistogram(name string, value float64, labels map[string]string)
    SetGauge(name string, value float64, labels map[string]string)
}

type PrometheusMetrics struct {
    counters   map[string]*prometheus.CounterVec
    histograms map[string]*prometheus.HistogramVec
    gauges     map[string]*prometheus.GaugeVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
    pm := &PrometheusMetrics{
        counters:   make(map[string]*prometheus.CounterVec),
        histograms: make(map[string]*prometheus.HistogramVec),
        gauges:     make(map[string]*prometheus.GaugeVec),
    }

    pm.registerMetrics()

    return pm
}

func (pm *PrometheusMetrics) registerMetrics() {
    // Counters
    pm.counters["reservations_created_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "reservations_created_total",
            Help: "Total number of reservations created",
        },
        []string{"service_id", "country_code"},
    )

    pm.counters["reservations_failed_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "reservations_failed_total",
            Help: "Total number of failed reservation attempts",
        },
        []string{"reason"},
    )

    pm.counters["reservations_canceled_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "reservations_canceled_total",
            Help: "Total number of reservations canceled",
        },
        []string{},
    )

    pm.counters["reservations_expired_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "reservations_expired_total",
            Help: "Total number of reservations expired by the scheduler",
        },
        []string{},
    )

    pm.counters["reservations_completed_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "reservations_completed_total",
            Help: "Total number of reservations billed and completed",
        },
        []string{"service_id"},
    )

    pm.counters["messages_processed_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "messages_processed_total",
            Help: "Total inbound provider messages processed by outcome",
        },
        []string{"status"},
    )

    pm.counters["numbers_retired_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "numbers_retired_total",
            Help: "Total numbers permanently retired",
        },
        []string{"reason"},
    )

    // Histograms
    pm.histograms["billing_amount"] = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Name:    "billing_amount",
            Help:    "Amount debited per completed reservation",
            Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50, 100},
        },
        []string{"service_id"},
    )

    pm.histograms["correlator_pipeline_duration"] = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Name:    "correlator_pipeline_duration_seconds",
            Help:    "Wall-clock time spent processing one inbound message",
            Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
        },
        []string{"outcome"},
    )

    pm.histograms["cleanup_duration"] = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Name:    "scheduler_cleanup_duration_seconds",
            Help:    "Duration of each retention/cleanup sweep",
            Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
        },
        []string{},
    )

    // Gauges
    pm.gauges["numbers_available"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "numbers_available",
            Help: "Numbers currently AVAILABLE per service and country",
        },
        []string{"service_id", "country_code"},
    )

    pm.gauges["auto_search_tasks_active"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "auto_search_tasks_active",
            Help: "Currently running per-reservation auto-search tasks",
        },
        []string{},
    )

    for _, counter := range pm.counters {
        prometheus.MustRegister(counter)
    }
    for _, histogram := range pm.histograms {
        prometheus.MustRegister(histogram)
    }
    for _, gauge := range pm.gauges {
        prometheus.MustRegister(gauge)
    }
}

func (pm *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
    if counter, exists := pm.counters[name]; exists {
        counter.With(prometheus.Labels(labels)).Inc()
    }
}

func (pm *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
    if histogram, exists := pm.histograms[name]; exists {
        histogram.With(prometheus.Labels(labels)).Observe(value)
    }
}

func (pm *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
    if gauge, exists := pm.gauges[name]; exists {
        if labels == nil {
            labels = make(map[string]string)
        }
        gauge.With(prometheus.Labels(labels)).Set(value)
    }
}

func (pm *PrometheusMetrics) ServeHTTP(port int) error {
    http.Handle("/metrics", promhttp.Handler())
    addr := fmt.Sprintf(":%d", port)
    logger.WithField("addr", addr).Info("Metrics server started")
    return http.ListenAndServe(addr, nil)
}
