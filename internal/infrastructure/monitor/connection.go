package monitor

import (
	"context"
	"sync"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger probes a Redis client.
func RedisPinger(client redislib.UniversalClient) Pinger {
	if client == nil {
		return nil
	}
	return PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
}

// BufferSizer reports how many writes wait in the local buffer.
type BufferSizer interface {
	Size() (int, error)
}

// Monitor probes the backing stores. Only Postgres decides whether the service is online;
// Redis holds import locks and is reported but not required for reads and writes.
type Monitor struct {
	pg     Pinger
	redis  Pinger
	buffer BufferSizer

	status    Status
	checked   bool
	onRecover []func()
	mu        sync.RWMutex

	interval time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
	logger   *zap.Logger
}

func New(pg, redis Pinger, buf BufferSizer, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		pg:       pg,
		redis:    redis,
		buffer:   buf,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// OnRecover registers fn to run whenever Postgres comes back after being offline.
func (m *Monitor) OnRecover(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.onRecover = append(m.onRecover, fn)
	m.mu.Unlock()
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.PostgreSQL
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh()
	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stopCh:
			return
		}
	}
}

// Refresh probes every store once and publishes the result.
func (m *Monitor) Refresh() Status {
	bufferOK, bufferSize := m.checkBuffer()
	status := Status{
		PostgreSQL: probe(m.pg, 3*time.Second),
		Redis:      probe(m.redis, 2*time.Second),
		Buffer:     bufferOK,
		BufferSize: bufferSize,
		LastCheck:  time.Now(),
	}

	m.mu.Lock()
	previous, checked := m.status, m.checked
	m.status, m.checked = status, true
	hooks := m.onRecover
	m.mu.Unlock()

	if checked && previous.PostgreSQL != status.PostgreSQL {
		if status.PostgreSQL {
			m.logger.Info("postgres back online", zap.Int("buffered_writes", status.BufferSize))
			for _, fn := range hooks {
				fn()
			}
		} else {
			m.logger.Warn("postgres offline, document writes are buffered")
		}
	}
	if checked && previous.Redis != status.Redis {
		m.logger.Info("redis availability changed", zap.Bool("online", status.Redis))
	}
	return status
}

func probe(p Pinger, timeout time.Duration) bool {
	if p == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Ping(ctx) == nil
}

func (m *Monitor) checkBuffer() (bool, int) {
	if m.buffer == nil {
		return false, 0
	}
	size, err := m.buffer.Size()
	if err != nil {
		m.logger.Warn("buffer size check failed", zap.Error(err))
		return false, size
	}
	return true, size
}
