package upstream

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/fastygo/opendatahub/domain"
)

type breakerLog struct {
	mu    sync.Mutex
	state map[string]bool
}

func (b *breakerLog) SetBreakerOpen(host string, open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state[host] = open
}

func serve(t *testing.T, handler fasthttp.RequestHandler) func(string) (net.Conn, error) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	return func(string) (net.Conn, error) { return ln.Dial() }
}

func TestGet(t *testing.T) {
	var gotAuth, gotPath string
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		gotAuth = string(ctx.Request.Header.Peek("Authorization"))
		gotPath = string(ctx.RequestURI())
		switch string(ctx.Path()) {
		case "/events":
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`[{"id":1}]`)
		case "/missing":
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		case "/bad":
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
		default:
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
		}
	})
	c := New(Config{RatePerSecond: 1000, Burst: 10}, nil, nil).WithDial(dial)
	ctx := context.Background()

	body, err := c.Get(ctx, "http://partner.test/events?since=2024", map[string]string{"Authorization": "Bearer x"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(body))
	assert.Equal(t, "Bearer x", gotAuth)
	assert.Equal(t, "/events?since=2024", gotPath)

	_, err = c.Get(ctx, "http://partner.test/missing", nil)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))

	_, err = c.Get(ctx, "http://partner.test/bad", nil)
	assert.Equal(t, domain.ErrCodeInvalid, domain.CodeOf(err))

	_, err = c.Get(ctx, "http://partner.test/down", nil)
	assert.Equal(t, domain.ErrCodeUpstream, domain.CodeOf(err))
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})
	obs := &breakerLog{state: map[string]bool{}}
	c := New(Config{RatePerSecond: 1000, Burst: 10, BreakerFailures: 2, BreakerTimeout: time.Hour}, obs, nil).WithDial(dial)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Get(ctx, "http://flaky.test/feed", nil)
		require.Error(t, err)
	}
	_, err := c.Get(ctx, "http://flaky.test/feed", nil)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeUpstream, domain.CodeOf(err))
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, int32(2), calls.Load())

	obs.mu.Lock()
	assert.True(t, obs.state["flaky.test"])
	obs.mu.Unlock()
}

func TestGetHonorsCanceledContext(t *testing.T) {
	c := New(Config{RatePerSecond: 0.001, Burst: 1}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "http://partner.test/events", nil)
	assert.Equal(t, domain.ErrCodeUpstream, domain.CodeOf(err))
}
