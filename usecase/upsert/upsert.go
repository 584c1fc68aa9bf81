package upsert

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/filter"
	"github.com/fastygo/opendatahub/repository"
	"github.com/fastygo/opendatahub/usecase"
)

// TagResolver rebuilds the Tags of a document from its TagIds.
type TagResolver interface {
	Resolve(ctx context.Context, doc *domain.Document) error
}

// Request describes one write.
type Request struct {
	Descriptor *entity.Descriptor
	Document   *domain.Document
	Operation  domain.Operation
	// Compare short-circuits writes whose content equals the stored row.
	Compare bool
	// ErrorWhenExists makes a Create against an existing id fail instead of updating.
	ErrorWhenExists bool
	// Constraints must hold on the target row.
	Constraints *filter.RawExpr
	Editor      string
	EditSource  string
	Reduced     bool
	// Raw overrides the provenance row; by default the incoming payload is recorded.
	Raw *domain.RawData
	// BufferOnFailure parks the write for replay when the store rejects it.
	BufferOnFailure bool
}

type UseCase struct {
	docs     repository.DocumentRepository
	tags     TagResolver
	buffer   usecase.WriteBuffer
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func New(docs repository.DocumentRepository, tags TagResolver, buffer usecase.WriteBuffer, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{
		docs:     docs,
		tags:     tags,
		buffer:   buffer,
		validate: newValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

// Upsert runs the create/update/no-op decision for one document.
func (uc *UseCase) Upsert(ctx context.Context, req Request) (domain.CRUDResult, error) {
	if req.Descriptor == nil || req.Document == nil {
		return errorResult(req, domain.ErrInvalidPayload), domain.ErrInvalidPayload
	}
	if err := uc.assignID(&req); err != nil {
		return errorResult(req, err), err
	}
	if msgs := uc.validateDocument(req.Descriptor, req.Document); len(msgs) > 0 {
		err := invalidDocument(msgs)
		return errorResult(req, err), err
	}

	stored, err := uc.docs.Get(ctx, req.Descriptor.Table, req.Document.ID, nil)
	var existing []byte
	switch {
	case err == nil:
		existing = stored.Data
	case !errors.Is(err, domain.ErrNotFound):
		err = domain.WrapError(domain.ErrCodeInternal, "failed to load stored document", err)
		return errorResult(req, err), err
	}
	return uc.write(ctx, req, existing)
}

// assignID canonicalizes or generates the document id and applies the reduced suffix.
func (uc *UseCase) assignID(req *Request) error {
	d, doc := req.Descriptor, req.Document
	switch {
	case doc.ID != "":
		doc.ID = d.CanonicalID(doc.ID)
	case req.Operation == domain.OperationCreate:
		doc.ID = d.NewID()
	default:
		return domain.Invalidf("Id is required")
	}
	if req.Reduced {
		doc.ID = d.ReducedID(doc.ID)
	}
	return nil
}

// write runs the state machine once the existing row, if any, is known.
func (uc *UseCase) write(ctx context.Context, req Request, existingRaw []byte) (domain.CRUDResult, error) {
	d, doc := req.Descriptor, req.Document
	result := domain.CRUDResult{ID: doc.ID, Operation: req.Operation}

	var existing *domain.Document
	var existingMap map[string]interface{}
	if existingRaw != nil {
		var err error
		if existingMap, err = domain.DecodeMap(existingRaw); err == nil {
			existing, err = domain.DocumentFromMap(existingMap)
		}
		if err != nil {
			err = domain.WrapError(domain.ErrCodeInternal, "stored document is corrupt", err)
			return errorResult(req, err), err
		}
	}

	switch {
	case existing == nil && req.Operation == domain.OperationUpdate:
		return errorResult(req, domain.ErrDataNotFound), domain.ErrDataNotFound
	case existing != nil && req.Operation == domain.OperationCreate && req.ErrorWhenExists:
		return errorResult(req, domain.ErrDataExists), domain.ErrDataExists
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		err = domain.WrapError(domain.ErrCodeInvalid, "document cannot be encoded", err)
		return errorResult(req, err), err
	}

	if req.Constraints != nil {
		target := existingMap
		if target == nil {
			if target, err = domain.DecodeMap(payload); err != nil {
				return errorResult(req, err), err
			}
		}
		if !req.Constraints.Evaluate(target) {
			return errorResult(req, domain.ErrNotAllowed), domain.ErrNotAllowed
		}
	}

	now := uc.now()
	if err := uc.prepare(ctx, req, existing, now); err != nil {
		return errorResult(req, err), err
	}

	incomingMap, err := doc.Map()
	if err != nil {
		return errorResult(req, err), err
	}

	var change *domain.RawChange
	if existing == nil {
		result.State = domain.StateNew
		result.Created = 1
		result.ObjectChanged = 1
		if img, ok := filter.Lookup(incomingMap, d.Path(entity.FieldImages)); ok && !domain.IsEmptyValue(img) {
			result.ObjectImageChanged = 1
		}
	} else {
		if req.Compare && Fingerprint(incomingMap) == Fingerprint(existingMap) {
			result.State = domain.StateUnchanged
			return result, nil
		}
		result.State = domain.StateChanged
		result.Updated = 1
		result.ObjectChanged = 1
		result.Changes = ChangedFields(incomingMap, existingMap)
		imagePath := d.Path(entity.FieldImages)
		newImages, _ := filter.Lookup(incomingMap, imagePath)
		oldImages, _ := filter.Lookup(existingMap, imagePath)
		if hashValue(newImages) != hashValue(oldImages) {
			result.ObjectImageChanged = 1
		}
		change = &domain.RawChange{
			Type:       d.Type,
			Datasource: doc.SourceValue(),
			SourceID:   doc.ID,
			EditSource: req.EditSource,
			EditedBy:   editor(req.Editor),
			Date:       now,
			License:    domain.LicenseKind(doc.LicenseInfo),
			Changes:    result.Changes,
		}
	}

	var previous []string
	if existing != nil {
		previous = existing.PublishedOn
	}
	result.PushChannels = unionChannels(doc.PublishedOn, previous)

	data, err := json.Marshal(doc)
	if err != nil {
		return errorResult(req, err), err
	}
	w := repository.DocumentWrite{
		Table:  d.Table,
		ID:     doc.ID,
		Data:   data,
		Raw:    uc.rawRow(req, payload, now),
		Change: change,
	}
	if err := uc.docs.Write(ctx, w); err != nil {
		return uc.writeFailed(ctx, req, result, w, err)
	}
	return result, nil
}

func (uc *UseCase) writeFailed(ctx context.Context, req Request, result domain.CRUDResult, w repository.DocumentWrite, cause error) (domain.CRUDResult, error) {
	if req.BufferOnFailure && uc.buffer != nil {
		if err := uc.buffer.BufferWrite(ctx, string(req.Operation), w); err == nil {
			uc.logger.Warn("document write buffered due to repository error",
				zap.String("id", w.ID),
				zap.String("table", w.Table),
				zap.Error(cause))
			return result, nil
		} else {
			uc.logger.Error("failed to buffer document write", zap.String("id", w.ID), zap.Error(err))
		}
	}
	err := domain.WrapError(domain.ErrCodeInternal, "failed to persist document", cause)
	return errorResult(req, err), err
}

// prepare fills every derived field before comparison and persistence.
func (uc *UseCase) prepare(ctx context.Context, req Request, existing *domain.Document, now time.Time) error {
	d, doc := req.Descriptor, req.Document

	if uc.tags != nil {
		if err := uc.tags.Resolve(ctx, doc); err != nil {
			return err
		}
	}

	if doc.LicenseInfo == nil {
		if existing != nil && existing.LicenseInfo != nil {
			license := *existing.LicenseInfo
			doc.LicenseInfo = &license
		} else {
			doc.LicenseInfo = domain.DefaultLicense()
		}
	}

	if err := doc.Set(domain.FieldSelf, d.SelfLink(doc.ID)); err != nil {
		return err
	}

	// HasLanguage is derived from content only; the stored value must not feed back into itself.
	doc.HasLanguage = nil
	m, err := doc.Map()
	if err != nil {
		return err
	}
	doc.HasLanguage = domain.DetectLanguages(m)
	doc.PublishedOn = PublishedOn(d, doc)

	first := now
	if existing != nil && existing.FirstImport != nil {
		first = *existing.FirstImport
	}
	doc.FirstImport = &first
	doc.LastChange = &now

	doc.Meta = &domain.Metadata{
		ID:         doc.ID,
		Type:       d.Type,
		Source:     doc.SourceValue(),
		LastUpdate: &now,
		Reduced:    req.Reduced,
		UpdateInfo: &domain.UpdateInfo{
			UpdatedBy:    editor(req.Editor),
			UpdateSource: req.EditSource,
		},
	}
	return nil
}

func (uc *UseCase) rawRow(req Request, payload []byte, now time.Time) *domain.RawData {
	if req.Raw != nil {
		raw := *req.Raw
		if raw.ImportDate.IsZero() {
			raw.ImportDate = now
		}
		if raw.SourceID == "" {
			raw.SourceID = req.Document.ID
		}
		if raw.Type == "" {
			raw.Type = req.Descriptor.Type
		}
		return &raw
	}
	return &domain.RawData{
		Type:            req.Descriptor.Type,
		Datasource:      req.Document.SourceValue(),
		SourceInterface: req.EditSource,
		SourceID:        req.Document.ID,
		ImportDate:      now,
		License:         domain.LicenseKind(req.Document.LicenseInfo),
		RawFormat:       "json",
		Raw:             payload,
	}
}

func editor(name string) string {
	if name == "" {
		return filter.AnonymousEditor
	}
	return name
}

func errorResult(req Request, err error) domain.CRUDResult {
	r := domain.CRUDResult{Operation: req.Operation, State: domain.StateError, Error: 1, ErrorReason: err.Error()}
	if req.Document != nil {
		r.ID = req.Document.ID
	}
	return r
}
