package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/filter"
	"github.com/fastygo/opendatahub/internal/projection"
	"github.com/fastygo/opendatahub/repository"
)

type stubDocs struct {
	page    *repository.DocumentPage
	ids     []string
	row     *repository.StoredDocument
	err     error
	queries []repository.DocumentQuery
	gets    []filter.Predicate
}

func (s *stubDocs) Find(_ context.Context, q repository.DocumentQuery) (*repository.DocumentPage, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return s.page, nil
}

func (s *stubDocs) FindIDs(_ context.Context, q repository.DocumentQuery) ([]string, error) {
	s.queries = append(s.queries, q)
	return s.ids, s.err
}

func (s *stubDocs) Get(_ context.Context, _ string, id string, where filter.Predicate) (*repository.StoredDocument, error) {
	s.gets = append(s.gets, where)
	if s.row == nil || s.row.ID != id {
		return nil, domain.ErrNotFound
	}
	return s.row, nil
}

func (s *stubDocs) GetMany(context.Context, string, []string) (map[string][]byte, error) {
	return nil, nil
}

func (s *stubDocs) ListIDs(context.Context, string, filter.Predicate) ([]string, error) {
	return nil, nil
}

func (s *stubDocs) Write(context.Context, repository.DocumentWrite) error { return nil }

func (s *stubDocs) Delete(context.Context, string, string) error { return nil }

type recorder struct{ n int }

func (r *recorder) Var(interface{}) string {
	r.n++
	return fmt.Sprintf("$%d", r.n)
}

func descriptor(t *testing.T, typ string) *entity.Descriptor {
	t.Helper()
	d, err := entity.Defaults().Get(typ)
	require.NoError(t, err)
	return d
}

func params(t *testing.T, values filter.MapValues) *filter.Params {
	t.Helper()
	p, err := filter.ParseParams(values)
	require.NoError(t, err)
	return p
}

func TestListPaging(t *testing.T) {
	docs := &stubDocs{page: &repository.DocumentPage{
		Total: 23,
		Items: []repository.StoredDocument{
			{ID: "A", Data: []byte(`{"Id":"A","Detail":{"de":{"Title":"Eins"},"en":{"Title":"One"}},"Self":"Venue/A"}`)},
			{ID: "B", Data: []byte(`{"Id":"B","Detail":{"de":{"Title":"Zwei"}},"Self":"Venue/B"}`)},
		},
	}}
	uc := New(docs, projection.NewURLGenerator("https://api.example.org", "/v1", nil), nil)

	page, err := uc.List(context.Background(), Request{
		Descriptor: descriptor(t, "venue"),
		Params:     params(t, filter.MapValues{"pagenumber": "2", "pagesize": "10", "language": "en", "seed": "3"}),
		PageLink:   func(n int, seed string) string { return fmt.Sprintf("https://api.example.org/v1/Venue?pagenumber=%d&seed=%s", n, seed) },
	})
	require.NoError(t, err)

	require.Len(t, docs.queries, 1)
	assert.Equal(t, "venues", docs.queries[0].Table)
	assert.Equal(t, 10, docs.queries[0].Limit)
	assert.Equal(t, 10, docs.queries[0].Offset)
	assert.Equal(t, "md5(id || $1) ASC, id ASC", docs.queries[0].Order.SQL(&recorder{}))

	assert.Equal(t, int64(23), page.TotalResults)
	assert.Equal(t, int64(3), page.TotalPages)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, 2, page.OnlineResults)
	assert.NotEmpty(t, page.ResultID)
	require.NotNil(t, page.Seed)
	assert.Equal(t, "3", *page.Seed)
	require.NotNil(t, page.NextPage)
	assert.Equal(t, "https://api.example.org/v1/Venue?pagenumber=3&seed=3", *page.NextPage)
	require.NotNil(t, page.PreviousPage)
	assert.Equal(t, "https://api.example.org/v1/Venue?pagenumber=1&seed=3", *page.PreviousPage)

	first := page.Items[0].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"Title": "One"}, first["Detail"])
	assert.Equal(t, "https://api.example.org/v1/Venue/A", first["Self"])
	second := page.Items[1].(map[string]interface{})
	assert.Nil(t, second["Detail"])
}

func TestListEmptyAndLastPage(t *testing.T) {
	docs := &stubDocs{page: &repository.DocumentPage{Total: 0, Items: []repository.StoredDocument{}}}
	uc := New(docs, nil, nil)
	page, err := uc.List(context.Background(), Request{
		Descriptor: descriptor(t, "event"),
		Params:     params(t, filter.MapValues{"pagenumber": "5"}),
		PageLink:   func(n int, _ string) string { return fmt.Sprint(n) },
	})
	require.NoError(t, err)
	assert.Zero(t, page.TotalResults)
	assert.Zero(t, page.TotalPages)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.Nil(t, page.Seed)
	assert.Nil(t, page.NextPage)
	require.NotNil(t, page.PreviousPage)
	assert.Equal(t, "4", *page.PreviousPage)
}

func TestListRandomSeed(t *testing.T) {
	docs := &stubDocs{page: &repository.DocumentPage{Total: 1, Items: []repository.StoredDocument{{ID: "A", Data: []byte(`{"Id":"A"}`)}}}}
	uc := New(docs, nil, nil)
	uc.seeds = func() int { return 7 }
	page, err := uc.List(context.Background(), Request{Descriptor: descriptor(t, "event"), Params: params(t, filter.MapValues{"seed": "0"})})
	require.NoError(t, err)
	require.NotNil(t, page.Seed)
	assert.Equal(t, "7", *page.Seed)
}

func TestListErrors(t *testing.T) {
	uc := New(&stubDocs{err: errors.New("boom")}, nil, nil)
	_, err := uc.List(context.Background(), Request{Descriptor: descriptor(t, "event"), Params: &filter.Params{PageNumber: 1}})
	assert.Equal(t, domain.ErrCodeInternal, domain.CodeOf(err))

	_, err = uc.List(context.Background(), Request{Descriptor: descriptor(t, "event"), Params: &filter.Params{PageNumber: 1, Seed: "abc"}})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))
}

func TestListGeoJSON(t *testing.T) {
	docs := &stubDocs{page: &repository.DocumentPage{Total: 1, Items: []repository.StoredDocument{
		{ID: "W1", Data: []byte(`{"Id":"W1","Latitude":46.5,"Longitude":11.35}`)},
	}}}
	uc := New(docs, nil, nil)
	page, err := uc.List(context.Background(), Request{Descriptor: descriptor(t, "webcam"), Params: &filter.Params{PageNumber: 1}, GeoJSON: true})
	require.NoError(t, err)
	require.Len(t, page.Features, 1)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.OnlineResults)
	require.NotNil(t, page.Features[0].Geometry)
	assert.Equal(t, [2]float64{11.35, 46.5}, page.Features[0].Geometry.Coordinates)
}

func TestListIDs(t *testing.T) {
	docs := &stubDocs{}
	uc := New(docs, nil, nil)
	ids, err := uc.ListIDs(context.Background(), Request{Descriptor: descriptor(t, "sensor"), Params: &filter.Params{PageNumber: 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{}, ids)
	require.Len(t, docs.queries, 1)
	assert.Zero(t, docs.queries[0].Limit)
	assert.Equal(t, "id ASC", docs.queries[0].Order.SQL(&recorder{}))
}

func TestSingle(t *testing.T) {
	docs := &stubDocs{row: &repository.StoredDocument{ID: "EV1", Data: []byte(`{"Id":"EV1","Shortname":"Fest","Empty":null}`)}}
	uc := New(docs, nil, nil)
	ev := descriptor(t, "event")

	got, err := uc.Single(context.Background(), Request{Descriptor: ev, Params: &filter.Params{RemoveNulls: true}}, "ev1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"Id": "EV1", "Shortname": "Fest"}, got)
	require.Len(t, docs.gets, 1)
	sql := docs.gets[0].SQL(&recorder{})
	assert.Equal(t, "coalesce(data#>>'{LicenseInfo,ClosedData}', 'false') = 'false'", sql)

	_, err = uc.Single(context.Background(), Request{Descriptor: ev}, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSingleAuthenticatedReadCondition(t *testing.T) {
	docs := &stubDocs{row: &repository.StoredDocument{ID: "EV1", Data: []byte(`{"Id":"EV1"}`)}}
	uc := New(docs, nil, nil)
	fc, err := filter.NewFilterContext("Event", true, "editor@example.org", []string{"Event_Read_eq(Source,'lts')"})
	require.NoError(t, err)

	_, err = uc.Single(context.Background(), Request{Descriptor: descriptor(t, "event"), Access: fc}, "EV1")
	require.NoError(t, err)
	sql := docs.gets[0].SQL(&recorder{})
	assert.Equal(t, "(coalesce(data#>>'{_Meta,Reduced}', 'false') = 'false' AND data#>>'{Source}' = $1)", sql)
}
