package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/filter"
	"github.com/fastygo/opendatahub/internal/middleware"
	"github.com/fastygo/opendatahub/internal/projection"
	"github.com/fastygo/opendatahub/pkg/httpcontext"
	"github.com/fastygo/opendatahub/usecase/query"
	"github.com/fastygo/opendatahub/usecase/upsert"
)

// DocumentReader serves list and single reads.
type DocumentReader interface {
	List(ctx context.Context, req query.Request) (*query.Page, error)
	ListIDs(ctx context.Context, req query.Request) ([]string, error)
	Single(ctx context.Context, req query.Request, id string) (interface{}, error)
}

// DocumentWriter serves create, update, batch and delete.
type DocumentWriter interface {
	Upsert(ctx context.Context, req upsert.Request) (domain.CRUDResult, error)
	UpsertBatch(ctx context.Context, req upsert.BatchRequest) (domain.BatchCRUDResult, error)
	Delete(ctx context.Context, req upsert.DeleteRequest) (domain.CRUDResult, error)
}

// DocumentHandler exposes every registered entity under /v1/{entity}.
type DocumentHandler struct {
	baseHandler
	registry *entity.Registry
	reader   DocumentReader
	writer   DocumentWriter
	baseURL  string
}

func NewDocumentHandler(
	registry *entity.Registry,
	reader DocumentReader,
	writer DocumentWriter,
	baseURL string,
	adapter *httpcontext.Adapter,
	logger *zap.Logger,
) *DocumentHandler {
	return &DocumentHandler{
		baseHandler: newBaseHandler(adapter, logger),
		registry:    registry,
		reader:      reader,
		writer:      writer,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// @Summary List documents
// @Router /v1/{entity} [get]
func (h *DocumentHandler) List(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	req, err := h.readRequest(ctx)
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	if req.Params.IDArray {
		ids, err := h.reader.ListIDs(reqCtx, req)
		if err != nil {
			h.respondError(ctx, err)
			return
		}
		h.respondRaw(ctx, http.StatusOK, "application/json", ids)
		return
	}

	req.PageLink = h.pageLink(ctx)
	page, err := h.reader.List(reqCtx, req)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	if req.GeoJSON {
		h.respondRaw(ctx, http.StatusOK, projection.MediaTypeGeoJSON, projection.NewFeatureCollection(page.Features))
		return
	}
	h.respondRaw(ctx, http.StatusOK, "application/json", page)
}

// @Summary Get a single document
// @Router /v1/{entity}/{id} [get]
func (h *DocumentHandler) Single(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	req, err := h.readRequest(ctx)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	doc, err := h.reader.Single(reqCtx, req, pathValue(ctx, "id"))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	contentType := "application/json"
	if req.GeoJSON {
		contentType = projection.MediaTypeGeoJSON
	}
	h.respondRaw(ctx, http.StatusOK, contentType, doc)
}

// @Summary Create a document
// @Router /v1/{entity} [post]
func (h *DocumentHandler) Create(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	d, access, err := h.writeAccess(ctx, filter.VerbCreate)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	doc, err := decodeDocument(ctx.PostBody())
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	// the caller keeps its id only when it opts out of generation
	if generate, _ := strconv.ParseBool(string(ctx.QueryArgs().Peek("generateid"))); generate || !ctx.QueryArgs().Has("generateid") {
		doc.ID = ""
	}

	result, err := h.writer.Upsert(reqCtx, upsert.Request{
		Descriptor:      d,
		Document:        doc,
		Operation:       domain.OperationCreate,
		ErrorWhenExists: true,
		Constraints:     access.Constraint(filter.VerbCreate),
		Editor:          access.Editor(),
		EditSource:      editSource(reqCtx),
	})
	h.respondWrite(ctx, result, err)
}

// @Summary Replace a document
// @Router /v1/{entity}/{id} [put]
func (h *DocumentHandler) Update(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	d, access, err := h.writeAccess(ctx, filter.VerbUpdate)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	doc, err := decodeDocument(ctx.PostBody())
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	doc.ID = pathValue(ctx, "id")

	result, err := h.writer.Upsert(reqCtx, upsert.Request{
		Descriptor:  d,
		Document:    doc,
		Operation:   domain.OperationUpdate,
		Compare:     true,
		Constraints: access.Constraint(filter.VerbUpdate),
		Editor:      access.Editor(),
		EditSource:  editSource(reqCtx),
	})
	h.respondWrite(ctx, result, err)
}

// @Summary Create or update many documents
// @Router /v1/{entity} [put]
func (h *DocumentHandler) Batch(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	d, access, err := h.writeAccess(ctx, filter.VerbUpdate)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	if !access.Allowed(filter.VerbCreate) {
		h.respondError(ctx, domain.ErrNotAllowed)
		return
	}
	var docs []*domain.Document
	if err := json.Unmarshal(ctx.PostBody(), &docs); err != nil {
		h.respondError(ctx, domain.WrapError(domain.ErrCodeInvalid, "body must be an array of documents", err))
		return
	}

	result, err := h.writer.UpsertBatch(reqCtx, upsert.BatchRequest{
		Descriptor:  d,
		Documents:   docs,
		Operation:   domain.OperationCreateAndUpdate,
		Compare:     true,
		Constraints: access.Constraint(filter.VerbUpdate),
		Editor:      access.Editor(),
		EditSource:  editSource(reqCtx),
	})
	if err != nil {
		h.respondErrorWith(ctx, err, result)
		return
	}
	status := http.StatusOK
	if len(result.ValidationErrors) > 0 {
		status = http.StatusBadRequest
	}
	h.respondRaw(ctx, status, "application/json", result)
}

// @Summary Delete or deactivate a document
// @Router /v1/{entity}/{id} [delete]
func (h *DocumentHandler) Delete(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	d, access, err := h.writeAccess(ctx, filter.VerbDelete)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	result, err := h.writer.Delete(reqCtx, upsert.DeleteRequest{
		Descriptor:  d,
		ID:          pathValue(ctx, "id"),
		Constraints: access.Constraint(filter.VerbDelete),
		Hard:        d.HardDelete,
		Editor:      access.Editor(),
		EditSource:  editSource(reqCtx),
	})
	h.respondWrite(ctx, result, err)
}

func (h *DocumentHandler) respondWrite(ctx *fasthttp.RequestCtx, result domain.CRUDResult, err error) {
	if err != nil {
		h.respondErrorWith(ctx, err, result)
		return
	}
	h.respondRaw(ctx, http.StatusOK, "application/json", result)
}

func (h *DocumentHandler) descriptor(ctx *fasthttp.RequestCtx) (*entity.Descriptor, error) {
	return h.registry.ByName(pathValue(ctx, "entity"))
}

func (h *DocumentHandler) filterContext(ctx *fasthttp.RequestCtx, d *entity.Descriptor) (*filter.FilterContext, error) {
	p := middleware.PrincipalFrom(ctx)
	return filter.NewFilterContext(d.Name, p.Authenticated, p.User, p.Roles)
}

func (h *DocumentHandler) readRequest(ctx *fasthttp.RequestCtx) (query.Request, error) {
	d, err := h.descriptor(ctx)
	if err != nil {
		return query.Request{}, err
	}
	access, err := h.filterContext(ctx, d)
	if err != nil {
		return query.Request{}, err
	}
	params, err := filter.ParseParams(queryValues(ctx))
	if err != nil {
		return query.Request{}, err
	}
	geo := strings.Contains(string(ctx.Request.Header.Peek("Accept")), projection.MediaTypeGeoJSON)
	if geo && !d.GeoShaped {
		return query.Request{}, domain.Invalidf("%s has no geometry, GeoJSON is not available", d.Name)
	}
	return query.Request{Descriptor: d, Params: params, Access: access, GeoJSON: geo}, nil
}

func (h *DocumentHandler) writeAccess(ctx *fasthttp.RequestCtx, verb filter.Verb) (*entity.Descriptor, *filter.FilterContext, error) {
	d, err := h.descriptor(ctx)
	if err != nil {
		return nil, nil, err
	}
	access, err := h.filterContext(ctx, d)
	if err != nil {
		return nil, nil, err
	}
	if !access.Allowed(verb) {
		return nil, nil, domain.ErrNotAllowed
	}
	return d, access, nil
}

// pageLink rebuilds the request url for another page, keeping every other parameter.
func (h *DocumentHandler) pageLink(ctx *fasthttp.RequestCtx) func(int, string) string {
	return func(page int, seed string) string {
		args := fasthttp.AcquireArgs()
		defer fasthttp.ReleaseArgs(args)
		ctx.QueryArgs().CopyTo(args)
		args.Set("pagenumber", strconv.Itoa(page))
		if seed != "" {
			args.Set("seed", seed)
		}
		return h.baseURL + string(ctx.Path()) + "?" + string(args.QueryString())
	}
}

// queryValues lower-cases parameter names; the first occurrence of a name wins.
func queryValues(ctx *fasthttp.RequestCtx) filter.MapValues {
	values := make(filter.MapValues)
	ctx.QueryArgs().VisitAll(func(key, value []byte) {
		k := strings.ToLower(string(key))
		if _, ok := values[k]; !ok {
			values[k] = string(value)
		}
	})
	return values
}

func decodeDocument(body []byte) (*domain.Document, error) {
	if len(body) == 0 {
		return nil, domain.ErrInvalidPayload
	}
	var doc domain.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, domain.WrapError(domain.ErrCodeInvalid, "body is not a valid document", err)
	}
	return &doc, nil
}

// editSource is the calling application, taken from the Referer header.
func editSource(ctx context.Context) string {
	if ref := strings.TrimSpace(httpcontext.Referer(ctx)); ref != "" {
		return ref
	}
	return "api"
}

func pathValue(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
