// Package observability holds the Prometheus collectors shared by the engine
// RPC surface and the indexer.
package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics bundles the collectors tracking engine operation activity.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	throttles  *prometheus.CounterVec
}

// IndexerMetrics bundles the collectors tracking read-model ingestion.
type IndexerMetrics struct {
	applied *prometheus.CounterVec
	lag     prometheus.Gauge
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	indexerMetricsOnce sync.Once
	indexerRegistry    *IndexerMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "uloan",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "uloan",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Total engine operation failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "uloan",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "uloan",
				Subsystem: "engine",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"operation", "reason"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.errors,
			engineRegistry.latency,
			engineRegistry.throttles,
		)
	})
	return engineRegistry
}

// Observe records one engine operation outcome and its latency.
func (m *EngineMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := labelOperation(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards stay consistent.
func (m *EngineMetrics) RecordThrottle(operation, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(labelOperation(operation), reason).Inc()
}

// Indexer returns the lazily-initialised indexer metrics registry.
func Indexer() *IndexerMetrics {
	indexerMetricsOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			applied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "uloan",
				Subsystem: "indexer",
				Name:      "events_applied_total",
				Help:      "Count of engine events applied to the read model, segmented by type and outcome.",
			}, []string{"type", "outcome"}),
			lag: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "uloan",
				Subsystem: "indexer",
				Name:      "apply_lag_seconds",
				Help:      "Seconds spent applying the most recent event.",
			}),
		}
		prometheus.MustRegister(indexerRegistry.applied, indexerRegistry.lag)
	})
	return indexerRegistry
}

// RecordApply records the outcome and duration of one event application.
func (m *IndexerMetrics) RecordApply(eventType string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if eventType = strings.TrimSpace(eventType); eventType == "" {
		eventType = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.applied.WithLabelValues(eventType, outcome).Inc()
	m.lag.Set(duration.Seconds())
}

func labelOperation(operation string) string {
	if operation = strings.TrimSpace(operation); operation == "" {
		return "unknown"
	}
	return operation
}
