// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates prometheus metrics for the engine.
type Collector struct {
	// Discovery metrics
	discoveriesTotal  *prometheus.CounterVec
	discoveryDuration *prometheus.HistogramVec

	// Execution metrics
	actionsTotal     *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	actionFallbacks  *prometheus.CounterVec
	rediscoveryTotal *prometheus.CounterVec

	// Planner metrics
	refinementsTotal *prometheus.CounterVec
	adaptationsTotal *prometheus.CounterVec

	// LLM metrics
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Circuit breaker metrics
	breakerTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered on the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.discoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discoveries_total",
			Help:      "Total number of element discovery attempts",
		},
		[]string{"layer", "method", "status"},
	)

	c.discoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_duration_seconds",
			Help:      "Element discovery duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"layer"},
	)

	c.actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Total number of executed actions",
		},
		[]string{"action", "status"},
	)

	c.actionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"action"},
	)

	c.actionFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_fallbacks_total",
			Help:      "Total number of interaction mode fallbacks",
		},
		[]string{"action", "from", "to"},
	)

	c.rediscoveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rediscoveries_total",
			Help:      "Total number of selector rediscovery attempts",
		},
		[]string{"action", "status"},
	)

	c.refinementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_refinements_total",
			Help:      "Total number of plan refinement attempts",
		},
		[]string{"status"},
	)

	c.adaptationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_adaptations_total",
			Help:      "Total number of mid-run plan adaptations",
		},
		[]string{"status"},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"model", "status"},
	)

	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"key", "from_state", "to_state"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordDiscovery records an element discovery attempt.
func (c *Collector) RecordDiscovery(layer, method, status string, duration time.Duration) {
	c.discoveriesTotal.WithLabelValues(layer, method, status).Inc()
	c.discoveryDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordAction records an executed action.
func (c *Collector) RecordAction(action, status string, duration time.Duration) {
	c.actionsTotal.WithLabelValues(action, status).Inc()
	c.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordFallback records an interaction mode switch (dom ↔ perceptual).
func (c *Collector) RecordFallback(action, from, to string) {
	c.actionFallbacks.WithLabelValues(action, from, to).Inc()
}

// RecordRediscovery records a selector rediscovery attempt.
func (c *Collector) RecordRediscovery(action, status string) {
	c.rediscoveryTotal.WithLabelValues(action, status).Inc()
}

// RecordRefinement records a plan refinement attempt.
func (c *Collector) RecordRefinement(status string) {
	c.refinementsTotal.WithLabelValues(status).Inc()
}

// RecordAdaptation records a mid-run plan adaptation.
func (c *Collector) RecordAdaptation(status string) {
	c.adaptationsTotal.WithLabelValues(status).Inc()
}

// RecordLLMRequest records an LLM request.
func (c *Collector) RecordLLMRequest(model, status string, duration time.Duration) {
	c.llmRequestsTotal.WithLabelValues(model, status).Inc()
	c.llmRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordBreakerTransition records a circuit breaker state transition.
func (c *Collector) RecordBreakerTransition(key, from, to string) {
	c.breakerTransitions.WithLabelValues(key, from, to).Inc()
}
