// Package upstream fetches import payloads from partner APIs.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fastygo/opendatahub/domain"
)

// Config tunes the client.
type Config struct {
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	UserAgent       string
	MaxBodySize     int
}

// BreakerObserver is notified about breaker state changes.
type BreakerObserver interface {
	SetBreakerOpen(host string, open bool)
}

// Client is a rate limited fasthttp client with one circuit breaker per host.
type Client struct {
	http     *fasthttp.Client
	limiter  *rate.Limiter
	cfg      Config
	observer BreakerObserver
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

func New(cfg Config, observer BreakerObserver, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "opendatahub-importer"
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 64 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http: &fasthttp.Client{
			Name:                cfg.UserAgent,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxResponseBodySize: cfg.MaxBodySize,
		},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

// WithDial replaces the dialer, used to reach in-memory listeners.
func (c *Client) WithDial(dial func(addr string) (net.Conn, error)) *Client {
	c.http.Dial = dial
	return c
}

// Get downloads url. Transport failures and 5xx/429 answers are UPSTREAM errors and count
// against the host breaker; 404 is NOT_FOUND.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrCodeUpstream, "rate limiter", err)
	}

	uri := fasthttp.AcquireURI()
	defer fasthttp.ReleaseURI(uri)
	if err := uri.Parse(nil, []byte(url)); err != nil {
		return nil, domain.WrapError(domain.ErrCodeInvalid, "invalid upstream url", err)
	}
	host := string(uri.Host())

	body, err := c.breaker(host).Execute(func() ([]byte, error) {
		return c.do(ctx, url, headers)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.WrapError(domain.ErrCodeUpstream, "upstream "+host+" unavailable", err)
	}
	return body, err
}

func (c *Client) do(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, domain.WrapError(domain.ErrCodeUpstream, "upstream request failed", err)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusNotFound:
		return nil, domain.NewError(domain.ErrCodeNotFound, "upstream record not found")
	case status == fasthttp.StatusTooManyRequests || status >= 500:
		return nil, domain.NewError(domain.ErrCodeUpstream, fmt.Sprintf("upstream answered %d", status))
	case status >= 400:
		return nil, domain.NewError(domain.ErrCodeInvalid, fmt.Sprintf("upstream rejected request with %d", status))
	}
	return append([]byte(nil), resp.Body()...), nil
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker[[]byte] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsDomainError(err, domain.ErrCodeUpstream)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("upstream breaker state changed",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if c.observer != nil {
				c.observer.SetBreakerOpen(name, to == gobreaker.StateOpen)
			}
		},
	})
	c.breakers[host] = cb
	return cb
}
