package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exposes loom call metrics through a Prometheus registry
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewCollector creates a collector with its own registry
func NewCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_operations_total",
			Help: "Total number of loom calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	// LLM calls are slow; buckets reach into minutes for long generations.
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loom_operation_duration_seconds",
			Help:    "Duration of loom calls by operation and stage",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
		},
		[]string{"operation", "stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_errors_total",
			Help: "Total number of failed loom calls by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_tokens_total",
			Help: "Tokens reported by the backend by model and type",
		},
		[]string{"model", "type"},
	)

	registry.MustRegister(operationsTotal)
	registry.MustRegister(operationDuration)
	registry.MustRegister(errorsTotal)
	registry.MustRegister(tokensTotal)

	return &PrometheusCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		tokensTotal:       tokensTotal,
		registry:          registry,
	}
}

// RecordOperation records the completion of a call
func (m *PrometheusCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, "total").Observe(float64(durationMs) / 1000.0)
}

// RecordStage records the duration of one stage (transport, parse, validate)
func (m *PrometheusCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(float64(durationMs) / 1000.0)
}

// RecordError records a failed call
func (m *PrometheusCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordTokens adds token usage. Non-positive counts are ignored.
func (m *PrometheusCollector) RecordTokens(ctx context.Context, model string, tokenType string, count int64) {
	if count <= 0 {
		return
	}
	m.tokensTotal.WithLabelValues(model, tokenType).Add(float64(count))
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}
