// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector gathers the memory and tool-auth pipeline metrics.
type Collector struct {
	// History metrics
	historyLoadsTotal   *prometheus.CounterVec
	historyLoadDuration *prometheus.HistogramVec
	historyMessages     prometheus.Histogram
	historyTruncations  prometheus.Counter

	// Token refresh metrics
	refreshAttemptsTotal *prometheus.CounterVec

	// Tool client cache metrics
	toolClientCacheHits      prometheus.Counter
	toolClientCacheMisses    prometheus.Counter
	toolClientCacheEvictions prometheus.Counter

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered on reg.
// A nil reg uses the default prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.historyLoadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_loads_total",
			Help:      "Total number of thread history loads",
		},
		[]string{"outcome"},
	)

	c.historyLoadDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_load_duration_seconds",
			Help:      "Thread history load duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	c.historyMessages = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_messages_returned",
			Help:      "Messages returned per history load",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	c.historyTruncations = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_truncations_total",
			Help:      "History loads that dropped messages to fit the token budget",
		},
	)

	c.refreshAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_attempts_total",
			Help:      "Token refresh attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	c.toolClientCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_client_cache_hits_total",
			Help:      "Tool client cache hits",
		},
	)

	c.toolClientCacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_client_cache_misses_total",
			Help:      "Tool client cache misses",
		},
	)

	c.toolClientCacheEvictions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_client_cache_evictions_total",
			Help:      "Tool client cache entries evicted on principal expiry",
		},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// RecordHistoryLoad records one history load.
func (c *Collector) RecordHistoryLoad(outcome string, messages int, truncated bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.historyLoadsTotal.WithLabelValues(outcome).Inc()
	c.historyLoadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	c.historyMessages.Observe(float64(messages))
	if truncated {
		c.historyTruncations.Inc()
	}
}

// RecordRefreshAttempt records a token refresh attempt.
// trigger is "proactive" or "reactive"; outcome is "success" or "failure".
func (c *Collector) RecordRefreshAttempt(trigger, outcome string) {
	if c == nil {
		return
	}
	c.refreshAttemptsTotal.WithLabelValues(trigger, outcome).Inc()
}

// RecordCacheHit records a tool client cache hit.
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.toolClientCacheHits.Inc()
}

// RecordCacheMiss records a tool client cache miss.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.toolClientCacheMisses.Inc()
}

// RecordCacheEviction records an expiry eviction.
func (c *Collector) RecordCacheEviction() {
	if c == nil {
		return
	}
	c.toolClientCacheEvictions.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
