package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closer struct {
	closed *[]string
	name   string
	err    error
}

func (c closer) Close() error {
	*c.closed = append(*c.closed, c.name)
	return c.err
}

type stopper struct{ stopped bool }

func (s *stopper) Stop(context.Context) { s.stopped = true }

func TestShutdownRunsHooksInReverseOnce(t *testing.T) {
	var order []string
	m := New(0, nil)
	m.RegisterCloser("postgres", closer{closed: &order, name: "postgres"})
	m.RegisterCloser("buffer", closer{closed: &order, name: "buffer", err: errors.New("disk full")})
	s := &stopper{}
	m.RegisterStopper("scheduler", s)

	assert.Equal(t, []string{"scheduler", "buffer", "postgres"}, m.Components())

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, s.stopped)
	assert.Equal(t, []string{"buffer", "postgres"}, order)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"buffer", "postgres"}, order)
	assert.Empty(t, m.Components())
}

func TestRegisterAfterShutdownRunsImmediately(t *testing.T) {
	var order []string
	m := New(0, nil)
	require.NoError(t, m.Shutdown(context.Background()))

	m.RegisterCloser("redis", closer{closed: &order, name: "redis"})
	assert.Equal(t, []string{"redis"}, order)
}

func TestNilHooksIgnored(t *testing.T) {
	m := New(0, nil)
	m.Register("nil", nil)
	m.RegisterCloser("nil", nil)
	m.RegisterStopper("nil", nil)
	assert.Empty(t, m.Components())
}
