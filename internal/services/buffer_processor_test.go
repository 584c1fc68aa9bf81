package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/filter"
	"github.com/fastygo/opendatahub/internal/infrastructure/buffer"
	"github.com/fastygo/opendatahub/repository"
)

type flakyDocs struct {
	err     error
	writes  []repository.DocumentWrite
	deletes []string
}

func (f *flakyDocs) Find(context.Context, repository.DocumentQuery) (*repository.DocumentPage, error) {
	return nil, nil
}
func (f *flakyDocs) FindIDs(context.Context, repository.DocumentQuery) ([]string, error) {
	return nil, nil
}
func (f *flakyDocs) Get(context.Context, string, string, filter.Predicate) (*repository.StoredDocument, error) {
	return nil, domain.ErrNotFound
}
func (f *flakyDocs) GetMany(context.Context, string, []string) (map[string][]byte, error) {
	return nil, nil
}
func (f *flakyDocs) ListIDs(context.Context, string, filter.Predicate) ([]string, error) {
	return nil, nil
}
func (f *flakyDocs) Write(_ context.Context, w repository.DocumentWrite) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, w)
	return nil
}
func (f *flakyDocs) Delete(_ context.Context, _ string, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, id)
	return nil
}

type switchHealth struct{ online bool }

func (s *switchHealth) IsOnline() bool { return s.online }

func newProcessor(t *testing.T, docs repository.DocumentRepository, health ConnectionHealth) (*BufferProcessor, *buffer.Store) {
	t.Helper()
	store, err := buffer.Open(filepath.Join(t.TempDir(), "buffer.db"), "writes")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewBufferProcessor(store, health, docs, nil, ProcessorConfig{MaxRetries: 2}), store
}

func TestBufferedWriteIsReplayed(t *testing.T) {
	docs := &flakyDocs{err: errors.New("connection refused")}
	bp, _ := newProcessor(t, docs, nil)
	bridge := NewBufferBridge(bp)
	ctx := context.Background()

	w := repository.DocumentWrite{Table: "events", ID: "EV1", Data: []byte(`{"Id":"EV1"}`)}
	require.NoError(t, bridge.BufferWrite(ctx, string(domain.OperationCreateAndUpdate), w))
	assert.Equal(t, 1, bp.Size())

	docs.err = nil
	require.NoError(t, bp.Drain(ctx))
	assert.Equal(t, 0, bp.Size())
	require.Len(t, docs.writes, 1)
	assert.Equal(t, "EV1", docs.writes[0].ID)
	assert.JSONEq(t, `{"Id":"EV1"}`, string(docs.writes[0].Data))
}

func TestBufferedDeleteIsReplayed(t *testing.T) {
	docs := &flakyDocs{}
	bp, _ := newProcessor(t, docs, nil)
	require.NoError(t, NewBufferBridge(bp).BufferWrite(context.Background(), string(domain.OperationDelete), repository.DocumentWrite{Table: "sensors", ID: "s1"}))
	assert.Equal(t, []string{"s1"}, docs.deletes)
	assert.Equal(t, 0, bp.Size())
}

func TestDrainSkipsWhileOffline(t *testing.T) {
	docs := &flakyDocs{}
	health := &switchHealth{}
	bp, _ := newProcessor(t, docs, health)
	ctx := context.Background()

	require.NoError(t, NewBufferBridge(bp).BufferWrite(ctx, "UPDATE", repository.DocumentWrite{Table: "events", ID: "EV2"}))
	require.NoError(t, bp.Drain(ctx))
	assert.Equal(t, 1, bp.Size())
	assert.Empty(t, docs.writes)

	health.online = true
	require.NoError(t, bp.Drain(ctx))
	assert.Equal(t, 0, bp.Size())
	assert.Len(t, docs.writes, 1)
}

func TestDrainDropsAfterMaxRetries(t *testing.T) {
	docs := &flakyDocs{err: errors.New("relation does not exist")}
	bp, _ := newProcessor(t, docs, nil)
	ctx := context.Background()

	require.NoError(t, NewBufferBridge(bp).BufferWrite(ctx, "UPDATE", repository.DocumentWrite{Table: "events", ID: "EV3"}))
	require.NoError(t, bp.Drain(ctx))
	assert.Equal(t, 1, bp.Size())
	require.NoError(t, bp.Drain(ctx))
	assert.Equal(t, 0, bp.Size())
}

func TestBufferWriteRequiresID(t *testing.T) {
	bp, _ := newProcessor(t, &flakyDocs{}, nil)
	err := NewBufferBridge(bp).BufferWrite(context.Background(), "UPDATE", repository.DocumentWrite{Table: "events"})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestDrainEmptiesEveryBatch(t *testing.T) {
	docs := &flakyDocs{err: errors.New("connection refused")}
	store, err := buffer.Open(filepath.Join(t.TempDir(), "buffer.db"), "writes")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	bp := NewBufferProcessor(store, nil, docs, nil, ProcessorConfig{BatchSize: 1, MaxRetries: 3})
	bridge := NewBufferBridge(bp)
	ctx := context.Background()

	for _, id := range []string{"EV1", "EV2", "EV3"} {
		require.NoError(t, bridge.BufferWrite(ctx, "UPDATE", repository.DocumentWrite{Table: "events", ID: id}))
	}
	// a second write of EV2 replaces the parked one
	require.NoError(t, bridge.BufferWrite(ctx, "UPDATE", repository.DocumentWrite{Table: "events", ID: "EV2", Data: []byte(`{"v":2}`)}))
	assert.Equal(t, 3, bp.Size())

	docs.err = nil
	require.NoError(t, bp.Drain(ctx))
	assert.Equal(t, 0, bp.Size())
	require.Len(t, docs.writes, 3)
	for _, w := range docs.writes {
		if w.ID == "EV2" {
			assert.JSONEq(t, `{"v":2}`, string(w.Data))
		}
	}
}

func TestBufferRefusesWhenFull(t *testing.T) {
	docs := &flakyDocs{err: errors.New("connection refused")}
	store, err := buffer.Open(filepath.Join(t.TempDir(), "buffer.db"), "writes")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	bp := NewBufferProcessor(store, nil, docs, nil, ProcessorConfig{MaxItems: 1})
	bridge := NewBufferBridge(bp)
	ctx := context.Background()

	require.NoError(t, bridge.BufferWrite(ctx, "UPDATE", repository.DocumentWrite{Table: "events", ID: "EV1"}))
	err = bridge.BufferWrite(ctx, "UPDATE", repository.DocumentWrite{Table: "events", ID: "EV2"})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInternal))
	assert.Equal(t, 1, bp.Size())
}
