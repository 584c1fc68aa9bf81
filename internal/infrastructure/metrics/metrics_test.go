package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/opendatahub/domain"
)

func TestObserveImport(t *testing.T) {
	m := New()
	m.ObserveImport("lts-events", "success", domain.UpdateDetail{Created: 2, Updated: 1, ObjectCompared: 4, Error: 1}, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.importRuns.WithLabelValues("lts-events", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.importRecords.WithLabelValues("lts-events", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.importRecords.WithLabelValues("lts-events", "updated")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.importRecords.WithLabelValues("lts-events", "unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.importRecords.WithLabelValues("lts-events", "error")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "/v1/{entity}", 200, 10*time.Millisecond)
	m.SetBreakerOpen("api.example.org", true)
	m.WatchBuffer(func() int { return 4 })

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/metrics")
	m.Handler()(&ctx)

	body := string(ctx.Response.Body())
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, body, `opendatahub_http_requests_total{method="GET",route="/v1/{entity}",status="200"} 1`)
	assert.Contains(t, body, `opendatahub_upstream_breaker_open{host="api.example.org"} 1`)
	assert.Contains(t, body, "opendatahub_buffer_items 4")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveImport("x", "success", domain.UpdateDetail{}, 0)
	m.ObserveRequest("GET", "/", 200, 0)
	m.SetBreakerOpen("h", false)
	m.WatchBuffer(func() int { return 0 })
}
