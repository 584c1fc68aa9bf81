package router

import (
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/opendatahub/api/handler"
)

type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// RequestObserver records request metrics.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

type Handlers struct {
	Documents *apiHandler.DocumentHandler
	Import    *apiHandler.ImportHandler
	Health    *apiHandler.HealthHandler
	// Metrics serves the Prometheus exposition; nil disables /metrics.
	Metrics fasthttp.RequestHandler
	// Pprof serves /debug/pprof/ behind Auth; nil disables it.
	Pprof fasthttp.RequestHandler
}

type Options struct {
	// Auth rejects anonymous callers, OptionalAuth identifies callers when a token is present.
	Auth         Middleware
	OptionalAuth Middleware
	Observer     RequestObserver
	CORSOrigins  []string
}

func New(handlers Handlers, opts Options) *router.Router {
	r := router.New()
	if opts.Auth == nil {
		opts.Auth = passthrough
	}
	if opts.OptionalAuth == nil {
		opts.OptionalAuth = passthrough
	}
	route := func(method, path string, h fasthttp.RequestHandler) {
		r.Handle(method, path, cors(opts.CORSOrigins, instrument(opts.Observer, path, h)))
	}

	route(fasthttp.MethodGet, "/health", handlers.Health.Check)
	if handlers.Metrics != nil {
		r.GET("/metrics", handlers.Metrics)
	}
	if handlers.Pprof != nil {
		r.GET("/debug/pprof/{profile:*}", opts.Auth(handlers.Pprof))
	}

	// Reads are public; a token widens what the caller may see.
	route(fasthttp.MethodGet, "/v1/{entity}", opts.OptionalAuth(handlers.Documents.List))
	route(fasthttp.MethodGet, "/v1/{entity}/{id}", opts.OptionalAuth(handlers.Documents.Single))

	route(fasthttp.MethodPost, "/v1/{entity}", opts.Auth(handlers.Documents.Create))
	route(fasthttp.MethodPut, "/v1/{entity}", opts.Auth(handlers.Documents.Batch))
	route(fasthttp.MethodPut, "/v1/{entity}/{id}", opts.Auth(handlers.Documents.Update))
	route(fasthttp.MethodDelete, "/v1/{entity}/{id}", opts.Auth(handlers.Documents.Delete))

	if handlers.Import != nil {
		route(fasthttp.MethodGet, "/api/v1/import", opts.Auth(handlers.Import.Feeds))
		route(fasthttp.MethodPost, "/api/v1/import/{feed}", opts.Auth(handlers.Import.Run))
	}

	r.GlobalOPTIONS = func(ctx *fasthttp.RequestCtx) {
		setCORS(ctx, opts.CORSOrigins)
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}
	return r
}

func passthrough(next fasthttp.RequestHandler) fasthttp.RequestHandler { return next }

// instrument labels metrics with the route pattern, never the concrete path.
func instrument(observer RequestObserver, route string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if observer == nil {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		started := time.Now()
		next(ctx)
		observer.ObserveRequest(string(ctx.Method()), route, ctx.Response.StatusCode(), time.Since(started))
	}
}

func cors(origins []string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if len(origins) == 0 {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		setCORS(ctx, origins)
		next(ctx)
	}
}

func setCORS(ctx *fasthttp.RequestCtx, origins []string) {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" {
		return
	}
	for _, allowed := range origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", allowed)
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, Referer")
			return
		}
	}
}
