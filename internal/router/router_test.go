package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/opendatahub/api/handler"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/infrastructure/monitor"
	"github.com/fastygo/opendatahub/internal/middleware"
)

type observed struct {
	method, route string
	status        int
}

type observer struct{ calls []observed }

func (o *observer) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.calls = append(o.calls, observed{method, route, status})
}

type upStatus struct{}

func (upStatus) GetStatus() monitor.Status { return monitor.Status{PostgreSQL: true} }

func do(h fasthttp.RequestHandler, method, uri string, headers map[string]string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	for k, v := range headers {
		ctx.Request.Header.Set(k, v)
	}
	h(ctx)
	return ctx
}

func TestRoutes(t *testing.T) {
	obs := &observer{}
	r := New(Handlers{
		Documents: apiHandler.NewDocumentHandler(entity.Defaults(), nil, nil, "http://localhost", nil, nil),
		Health:    apiHandler.NewHealthHandler(upStatus{}, nil, nil),
		Metrics:   func(ctx *fasthttp.RequestCtx) { ctx.SetBodyString("# metrics") },
	}, Options{
		Auth:         middleware.JWTAuth("secret", nil),
		OptionalAuth: middleware.OptionalJWT("secret", nil),
		Observer:     obs,
		CORSOrigins:  []string{"https://web.example.org"},
	})
	h := r.Handler

	ctx := do(h, "GET", "/health", nil)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = do(h, "GET", "/metrics", nil)
	assert.Equal(t, "# metrics", string(ctx.Response.Body()))

	ctx = do(h, "GET", "/v1/Unknown/42", map[string]string{"Origin": "https://web.example.org"})
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Equal(t, "https://web.example.org", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))

	ctx = do(h, "POST", "/v1/Event", nil)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = do(h, "GET", "/v1/Event", map[string]string{"Authorization": "Bearer broken"})
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = do(h, "OPTIONS", "/v1/Event", map[string]string{"Origin": "https://evil.example.org"})
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	assert.Empty(t, ctx.Response.Header.Peek("Access-Control-Allow-Origin"))

	require.Len(t, obs.calls, 4)
	assert.Equal(t, observed{"GET", "/v1/{entity}/{id}", fasthttp.StatusNotFound}, obs.calls[1])
	assert.Equal(t, observed{"POST", "/v1/{entity}", fasthttp.StatusUnauthorized}, obs.calls[2])
}

func TestPprofRequiresAuth(t *testing.T) {
	served := false
	opts := Options{
		Auth:         middleware.JWTAuth("secret", nil),
		OptionalAuth: middleware.OptionalJWT("secret", nil),
	}
	base := Handlers{
		Documents: apiHandler.NewDocumentHandler(entity.Defaults(), nil, nil, "http://localhost", nil, nil),
		Health:    apiHandler.NewHealthHandler(upStatus{}, nil, nil),
	}

	ctx := do(New(base, opts).Handler, "GET", "/debug/pprof/heap", nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	base.Pprof = func(*fasthttp.RequestCtx) { served = true }
	ctx = do(New(base, opts).Handler, "GET", "/debug/pprof/heap", nil)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.False(t, served)
}
