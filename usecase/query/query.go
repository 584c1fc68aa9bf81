package query

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/filter"
	"github.com/fastygo/opendatahub/internal/projection"
	"github.com/fastygo/opendatahub/repository"
)

// Request is one list or single read.
type Request struct {
	Descriptor *entity.Descriptor
	Params     *filter.Params
	Access     *filter.FilterContext
	// PageLink builds the absolute url of another page, pinned to the seed in effect;
	// nil leaves navigation links empty.
	PageLink func(page int, seed string) string
	GeoJSON  bool
}

// Page is the list envelope.
type Page struct {
	TotalResults  int64         `json:"TotalResults"`
	TotalPages    int64         `json:"TotalPages"`
	CurrentPage   int           `json:"CurrentPage"`
	OnlineResults int           `json:"OnlineResults"`
	ResultID      string        `json:"ResultId"`
	Seed          *string       `json:"Seed"`
	NextPage      *string       `json:"NextPage"`
	PreviousPage  *string       `json:"PreviousPage"`
	Items         []interface{} `json:"Items"`

	// Features is filled instead of Items for GeoJSON requests.
	Features []projection.Feature `json:"-"`
}

type UseCase struct {
	docs   repository.DocumentRepository
	urls   projection.URLRewriter
	seeds  filter.SeedSource
	logger *zap.Logger
}

func New(docs repository.DocumentRepository, urls projection.URLRewriter, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{docs: docs, urls: urls, seeds: filter.RandomSeed, logger: logger}
}

// List returns one page of projected documents.
func (uc *UseCase) List(ctx context.Context, req Request) (*Page, error) {
	d, p := req.Descriptor, req.Params
	where, order, err := uc.plan(req)
	if err != nil {
		return nil, err
	}

	size := d.PageSize(p.PageSize)
	result, err := uc.docs.Find(ctx, repository.DocumentQuery{
		Table:  d.Table,
		Where:  where,
		Order:  order,
		Limit:  size,
		Offset: (p.PageNumber - 1) * size,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "query failed", err)
	}

	page := &Page{
		TotalResults: result.Total,
		TotalPages:   (result.Total + int64(size) - 1) / int64(size),
		CurrentPage:  p.PageNumber,
		ResultID:     uuid.NewString(),
		Items:        make([]interface{}, 0, len(result.Items)),
	}
	if order.Seed != "" {
		seed := order.Seed
		page.Seed = &seed
	}
	if req.PageLink != nil {
		if int64(p.PageNumber) < page.TotalPages {
			next := req.PageLink(p.PageNumber+1, order.Seed)
			page.NextPage = &next
		}
		if p.PageNumber > 1 {
			prev := req.PageLink(p.PageNumber-1, order.Seed)
			page.PreviousPage = &prev
		}
	}

	opts := uc.options(p)
	for _, row := range result.Items {
		stored, err := domain.DecodeMap(row.Data)
		if err != nil {
			uc.logger.Warn("skipping undecodable row", zap.String("table", d.Table), zap.String("id", row.ID), zap.Error(err))
			continue
		}
		projected := projection.Project(stored, opts)
		if req.GeoJSON {
			page.Features = append(page.Features, projection.ToFeature(d, stored, projected))
			continue
		}
		page.Items = append(page.Items, projected)
	}
	page.OnlineResults = len(page.Items) + len(page.Features)
	return page, nil
}

// ListIDs returns every matching id in result order, without paging.
func (uc *UseCase) ListIDs(ctx context.Context, req Request) ([]string, error) {
	where, order, err := uc.plan(req)
	if err != nil {
		return nil, err
	}
	ids, err := uc.docs.FindIDs(ctx, repository.DocumentQuery{Table: req.Descriptor.Table, Where: where, Order: order})
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "query failed", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Single loads one document by id under the caller's read access. The result is either the
// projected map or a GeoJSON feature.
func (uc *UseCase) Single(ctx context.Context, req Request, id string) (interface{}, error) {
	d := req.Descriptor
	id = d.CanonicalID(id)
	if id == "" {
		return nil, domain.Invalidf("Id is required")
	}
	row, err := uc.docs.Get(ctx, d.Table, id, req.Access.ReadPredicate())
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.WrapError(domain.ErrCodeInternal, "query failed", err)
	}
	stored, err := domain.DecodeMap(row.Data)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "stored document is corrupt", err)
	}
	params := req.Params
	if params == nil {
		params = &filter.Params{}
	}
	projected := projection.Project(stored, uc.options(params))
	if req.GeoJSON {
		return projection.ToFeature(d, stored, projected), nil
	}
	return projected, nil
}

func (uc *UseCase) plan(req Request) (filter.Predicate, *filter.Order, error) {
	if req.Descriptor == nil || req.Params == nil {
		return nil, nil, domain.ErrInvalidPayload
	}
	where, err := filter.Build(req.Descriptor, req.Params, req.Access)
	if err != nil {
		return nil, nil, err
	}
	order, err := filter.ResolveOrder(req.Descriptor, req.Params, uc.seeds)
	if err != nil {
		return nil, nil, err
	}
	uc.auditRaw(req)
	return where, order, nil
}

// auditRaw records every use of the raw filter and sort escape hatches.
func (uc *UseCase) auditRaw(req Request) {
	p := req.Params
	if p.RawFilter == nil && len(p.RawSort) == 0 {
		return
	}
	fields := []zap.Field{zap.String("type", req.Descriptor.Type)}
	if req.Access != nil {
		fields = append(fields, zap.String("user", req.Access.Editor()))
	}
	if p.RawFilter != nil {
		fields = append(fields, zap.String("rawfilter", p.RawFilter.String()))
	}
	if len(p.RawSort) > 0 {
		sorts := make([]string, len(p.RawSort))
		for i, s := range p.RawSort {
			if s.Desc {
				sorts[i] = "-" + s.Path
			} else {
				sorts[i] = s.Path
			}
		}
		fields = append(fields, zap.String("rawsort", strings.Join(sorts, ",")))
	}
	uc.logger.Info("raw query", fields...)
}

func (uc *UseCase) options(p *filter.Params) projection.Options {
	return projection.Options{
		Language:    p.Language,
		Fields:      p.Fields,
		RemoveNulls: p.RemoveNulls,
		URLs:        uc.urls,
	}
}
