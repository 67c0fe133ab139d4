package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector("deskhive", reg, nil)

	c.RecordHistoryLoad("ok", 5, true, 10*time.Millisecond)
	c.RecordHistoryLoad("failed", 0, false, time.Millisecond)
	c.RecordRefreshAttempt("reactive", "success")
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordCacheMiss()
	c.RecordCacheEviction()
	c.RecordHTTPRequest("GET", "/api/v1/threads/:id/history", "200", time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.historyTruncations))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.toolClientCacheHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.toolClientCacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.toolClientCacheEvictions))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.refreshAttemptsTotal.WithLabelValues("reactive", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.historyLoadsTotal.WithLabelValues("ok")))
}

func TestCollector_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.RecordHistoryLoad("ok", 1, false, 0)
	c.RecordRefreshAttempt("proactive", "failure")
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordCacheEviction()
	c.RecordHTTPRequest("GET", "/", "200", 0)
}
