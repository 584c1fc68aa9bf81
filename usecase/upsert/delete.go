package upsert

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/filter"
	"github.com/fastygo/opendatahub/repository"
)

// DeleteRequest removes or disables one document.
type DeleteRequest struct {
	Descriptor  *entity.Descriptor
	ID          string
	Constraints *filter.RawExpr
	// Hard removes the row; otherwise the document is deactivated and unpublished.
	Hard       bool
	Editor     string
	EditSource string
}

// Delete applies a hard or soft delete. The push channels of the previous state are
// reported so consumers can retract the document.
func (uc *UseCase) Delete(ctx context.Context, req DeleteRequest) (domain.CRUDResult, error) {
	result := domain.CRUDResult{Operation: domain.OperationDelete}
	fail := func(err error) (domain.CRUDResult, error) {
		result.State = domain.StateError
		result.Error = 1
		result.ErrorReason = err.Error()
		return result, err
	}
	if req.Descriptor == nil || req.ID == "" {
		return fail(domain.Invalidf("Id is required"))
	}
	d := req.Descriptor
	id := d.CanonicalID(req.ID)
	result.ID = id

	stored, err := uc.docs.Get(ctx, d.Table, id, nil)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fail(domain.ErrNotFound)
		}
		return fail(domain.WrapError(domain.ErrCodeInternal, "failed to load stored document", err))
	}
	current, err := domain.DecodeMap(stored.Data)
	if err != nil {
		return fail(domain.WrapError(domain.ErrCodeInternal, "stored document is corrupt", err))
	}
	if req.Constraints != nil && !req.Constraints.Evaluate(current) {
		return fail(domain.ErrNotAllowed)
	}
	doc, err := domain.DocumentFromMap(current)
	if err != nil {
		return fail(domain.WrapError(domain.ErrCodeInternal, "stored document is corrupt", err))
	}
	result.PushChannels = unionChannels(doc.PublishedOn, nil)

	if req.Hard {
		if err := uc.docs.Delete(ctx, d.Table, id); err != nil {
			return fail(domain.WrapError(domain.ErrCodeInternal, "failed to delete document", err))
		}
		if d.SupportsReduced {
			if err := uc.docs.Delete(ctx, d.Table, d.ReducedID(id)); err != nil && !errors.Is(err, domain.ErrNotFound) {
				uc.logger.Warn("failed to delete reduced copy", zap.String("id", id), zap.Error(err))
			}
		}
		result.State = domain.StateChanged
		result.Deleted = 1
		result.ObjectChanged = 1
		return result, nil
	}

	if !doc.Active && !doc.SmgActive && len(doc.PublishedOn) == 0 {
		result.State = domain.StateUnchanged
		return result, nil
	}

	now := uc.now()
	doc.Active = false
	doc.SmgActive = false
	doc.PublishedOn = []string{}
	doc.LastChange = &now
	if doc.Meta != nil {
		doc.Meta.LastUpdate = &now
		doc.Meta.UpdateInfo = &domain.UpdateInfo{UpdatedBy: editor(req.Editor), UpdateSource: req.EditSource}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fail(domain.WrapError(domain.ErrCodeInternal, "document cannot be encoded", err))
	}
	w := repository.DocumentWrite{
		Table: d.Table,
		ID:    id,
		Data:  data,
		Change: &domain.RawChange{
			Type:       d.Type,
			Datasource: doc.SourceValue(),
			SourceID:   id,
			EditSource: req.EditSource,
			EditedBy:   editor(req.Editor),
			Date:       now,
			License:    domain.LicenseKind(doc.LicenseInfo),
			Changes:    []string{domain.FieldActive, domain.FieldSmgActive, domain.FieldPublishedOn},
		},
	}
	if err := uc.docs.Write(ctx, w); err != nil {
		return fail(domain.WrapError(domain.ErrCodeInternal, "failed to disable document", err))
	}
	result.State = domain.StateChanged
	result.Deleted = 1
	result.ObjectChanged = 1
	return result, nil
}

// DeleteOrDisable is used by reconciliation for ids that vanished from a feed.
func (uc *UseCase) DeleteOrDisable(ctx context.Context, d *entity.Descriptor, id string, hard bool, source string) (domain.CRUDResult, error) {
	return uc.Delete(ctx, DeleteRequest{Descriptor: d, ID: id, Hard: hard, Editor: filter.AnonymousEditor, EditSource: source})
}
