package upsert

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/filter"
)

// BatchRequest applies the same write options to many documents.
type BatchRequest struct {
	Descriptor  *entity.Descriptor
	Documents   []*domain.Document
	Operation   domain.Operation
	Compare     bool
	Constraints *filter.RawExpr
	Editor      string
	EditSource  string
}

// UpsertBatch validates every item before writing any of them. A single invalid item
// rejects the whole batch with per-index messages.
func (uc *UseCase) UpsertBatch(ctx context.Context, req BatchRequest) (domain.BatchCRUDResult, error) {
	out := domain.BatchCRUDResult{}
	if req.Descriptor == nil {
		return out, domain.ErrInvalidPayload
	}
	if len(req.Documents) == 0 {
		out.Success = true
		return out, nil
	}

	requests := make([]Request, len(req.Documents))
	invalid := make(map[string][]string)
	for i, doc := range req.Documents {
		key := fmt.Sprintf("[%d]", i)
		if doc == nil {
			invalid[key] = []string{"document is null"}
			continue
		}
		r := Request{
			Descriptor:  req.Descriptor,
			Document:    doc,
			Operation:   req.Operation,
			Compare:     req.Compare,
			Constraints: req.Constraints,
			Editor:      req.Editor,
			EditSource:  req.EditSource,
		}
		if err := uc.assignID(&r); err != nil {
			invalid[key] = []string{err.Error()}
			continue
		}
		if msgs := uc.validateDocument(req.Descriptor, doc); len(msgs) > 0 {
			invalid[key] = msgs
			continue
		}
		requests[i] = r
	}
	if len(invalid) > 0 {
		out.ValidationErrors = invalid
		return out, nil
	}

	ids := make([]string, len(requests))
	for i, r := range requests {
		ids[i] = r.Document.ID
	}
	existing, err := uc.docs.GetMany(ctx, req.Descriptor.Table, ids)
	if err != nil {
		return out, domain.WrapError(domain.ErrCodeInternal, "failed to load stored documents", err)
	}
	if existing == nil {
		existing = make(map[string][]byte)
	}

	for _, r := range requests {
		res, err := uc.write(ctx, r, existing[r.Document.ID])
		out.TotalProcessed++
		out.Results = append(out.Results, res)
		switch {
		case err != nil:
			out.Errors++
			uc.logger.Warn("batch item failed",
				zap.String("type", req.Descriptor.Type),
				zap.String("id", r.Document.ID),
				zap.Error(err))
		case res.State == domain.StateNew:
			out.Created++
		case res.State == domain.StateChanged:
			out.Updated++
		default:
			out.Unchanged++
		}
		if err == nil && res.State != domain.StateUnchanged {
			// later duplicates in the same batch must see this write
			if raw, mErr := json.Marshal(r.Document); mErr == nil {
				existing[r.Document.ID] = raw
			}
		}
	}
	out.Success = out.Errors == 0
	return out, nil
}
