package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/api/transport"
	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/pkg/httpcontext"
	"github.com/fastygo/opendatahub/usecase/importer"
)

// JobRunner executes named import jobs.
type JobRunner interface {
	Execute(ctx context.Context, name string, payload interface{}) (interface{}, error)
	Names() []string
}

type ImportHandler struct {
	baseHandler
	jobs    JobRunner
	timeout time.Duration
}

// NewImportHandler builds the trigger endpoints. Runs are bounded by timeout rather than
// the request timeout, since a full import outlives a normal request.
func NewImportHandler(jobs JobRunner, timeout time.Duration, adapter *httpcontext.Adapter, logger *zap.Logger) *ImportHandler {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &ImportHandler{
		baseHandler: newBaseHandler(adapter, logger),
		jobs:        jobs,
		timeout:     timeout,
	}
}

// @Summary List import feeds
// @Router /api/v1/import [get]
func (h *ImportHandler) Feeds(ctx *fasthttp.RequestCtx) {
	h.respondSuccess(ctx, http.StatusOK, h.jobs.Names())
}

// @Summary Run an import feed
// @Router /api/v1/import/{feed} [post]
func (h *ImportHandler) Run(ctx *fasthttp.RequestCtx) {
	var req transport.ImportRequest
	if body := ctx.PostBody(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.respondError(ctx, domain.WrapError(domain.ErrCodeInvalid, "invalid import request", err))
			return
		}
	}
	if id := string(ctx.QueryArgs().Peek("id")); id != "" {
		req.ID = id
	}
	if full, err := strconv.ParseBool(string(ctx.QueryArgs().Peek("full"))); err == nil {
		req.Full = full
	}

	runCtx, cancel := h.adapter.Detached(ctx, h.timeout)
	defer cancel()

	feed := pathValue(ctx, "feed")
	out, err := h.jobs.Execute(runCtx, feed, importer.RunOptions{ID: req.ID, Full: req.Full})
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeNotFound) && !hasJob(h.jobs, feed) {
			err = domain.ErrFeedNotFound
		}
		h.respondError(ctx, err)
		return
	}
	h.logger.Info("import triggered", zap.String("feed", feed), zap.String("id", req.ID), zap.Bool("full", req.Full))
	h.respondSuccess(ctx, http.StatusOK, out)
}

func hasJob(jobs JobRunner, name string) bool {
	for _, n := range jobs.Names() {
		if n == name {
			return true
		}
	}
	return false
}
