package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type switchPinger struct{ down bool }

func (p *switchPinger) Ping(context.Context) error {
	if p.down {
		return errors.New("connection refused")
	}
	return nil
}

type fixedSize int

func (f fixedSize) Size() (int, error) { return int(f), nil }

func TestRefreshReportsRecovery(t *testing.T) {
	pg := &switchPinger{down: true}
	m := New(pg, nil, fixedSize(4), 0, nil)
	var recovered int
	m.OnRecover(func() { recovered++ })

	status := m.Refresh()
	assert.False(t, m.IsOnline())
	assert.Equal(t, 4, status.BufferSize)
	assert.Equal(t, []string{"postgresql", "redis"}, status.Degraded())
	assert.Zero(t, recovered)

	pg.down = false
	m.Refresh()
	assert.True(t, m.IsOnline())
	assert.Equal(t, 1, recovered)

	m.Refresh()
	assert.Equal(t, 1, recovered)
}

func TestFirstProbeDoesNotCountAsRecovery(t *testing.T) {
	m := New(&switchPinger{}, PingFunc(func(context.Context) error { return nil }), nil, 0, nil)
	var recovered bool
	m.OnRecover(func() { recovered = true })

	status := m.Refresh()
	assert.True(t, status.PostgreSQL)
	assert.True(t, status.Redis)
	assert.Equal(t, []string{"buffer"}, status.Degraded())
	assert.False(t, recovered)

	m.Stop()
	m.Stop()
}
