package httpcontext

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	appLogger "github.com/fastygo/opendatahub/pkg/logger"
)

// Key represents a context value key exported for reuse.
type Key string

const (
	KeyRemoteAddr Key = "remote_addr"
	KeyUserAgent  Key = "user_agent"
	KeyReferer    Key = "referer"
)

const HeaderRequestID = "X-Request-ID"

// Adapter turns a fasthttp request into a context.Context carrying the request ID and
// client metadata. Document reads and writes are bounded by the request timeout.
type Adapter struct {
	timeout time.Duration
}

func NewAdapter(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{
		timeout: timeout,
	}
}

// Attach returns a context bounded by the request timeout.
func (a *Adapter) Attach(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	return a.derive(ctx, a.timeout)
}

// Detached returns a context bounded by timeout instead of the request timeout, for work
// such as an import run that outlives a normal request but should still log the request ID.
func (a *Adapter) Detached(ctx *fasthttp.RequestCtx, timeout time.Duration) (context.Context, context.CancelFunc) {
	return a.derive(ctx, timeout)
}

func (a *Adapter) derive(ctx *fasthttp.RequestCtx, timeout time.Duration) (context.Context, context.CancelFunc) {
	stdCtx, cancel := context.WithTimeout(context.Background(), timeout)
	if ctx == nil {
		return appLogger.ContextWithRequestID(stdCtx, uuid.NewString()), cancel
	}

	reqID := requestID(ctx)
	stdCtx = appLogger.ContextWithRequestID(stdCtx, reqID)
	ctx.Response.Header.Set(HeaderRequestID, reqID)

	if remoteAddr := ctx.RemoteAddr(); remoteAddr != nil {
		stdCtx = context.WithValue(stdCtx, KeyRemoteAddr, remoteAddr.String())
	}
	if ua := string(ctx.Request.Header.UserAgent()); ua != "" {
		stdCtx = context.WithValue(stdCtx, KeyUserAgent, ua)
	}
	if ref := string(ctx.Request.Header.Referer()); ref != "" {
		stdCtx = context.WithValue(stdCtx, KeyReferer, ref)
	}
	return stdCtx, cancel
}

// Referer returns the Referer header captured by Attach; writes record it as edit source.
func Referer(ctx context.Context) string {
	ref, _ := ctx.Value(KeyReferer).(string)
	return ref
}

// requestID reuses an incoming ID, or the one already assigned to this response.
func requestID(ctx *fasthttp.RequestCtx) string {
	if header := strings.TrimSpace(string(ctx.Request.Header.Peek(HeaderRequestID))); header != "" {
		return header
	}
	if assigned := string(ctx.Response.Header.Peek(HeaderRequestID)); assigned != "" {
		return assigned
	}
	return uuid.NewString()
}
