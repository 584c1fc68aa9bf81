// Package importer runs feed imports: fetch, map, tag, upsert and reconcile.
package importer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/filter"
	appLogger "github.com/fastygo/opendatahub/pkg/logger"
	"github.com/fastygo/opendatahub/repository"
	"github.com/fastygo/opendatahub/usecase/tagging"
	"github.com/fastygo/opendatahub/usecase/upsert"
)

// Writer is the part of the upsert engine the importer needs.
type Writer interface {
	Upsert(ctx context.Context, req upsert.Request) (domain.CRUDResult, error)
	DeleteOrDisable(ctx context.Context, d *entity.Descriptor, id string, hard bool, source string) (domain.CRUDResult, error)
}

// Checkpoints remembers the last successful run per feed.
type Checkpoints interface {
	Checkpoint(feed string) (time.Time, error)
	SaveCheckpoint(feed string, at time.Time) error
}

// Recorder receives run metrics.
type Recorder interface {
	ObserveImport(feed, outcome string, d domain.UpdateDetail, elapsed time.Duration)
}

// RunOptions narrows a run to a single upstream id or forces a full import.
type RunOptions struct {
	ID   string
	Full bool
}

// RunResult summarizes one run.
type RunResult struct {
	Feed    string              `json:"feed"`
	Mode    string              `json:"mode"`
	Skipped bool                `json:"skipped"`
	Detail  domain.UpdateDetail `json:"detail"`
	Logs    []domain.ImportLog  `json:"-"`
}

type Orchestrator struct {
	registry    *entity.Registry
	fetcher     Fetcher
	writer      Writer
	docs        repository.DocumentRepository
	locks       repository.LockRepository
	checkpoints Checkpoints
	recorder    Recorder
	lockTTL     time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// Deps groups the collaborators of an Orchestrator. Locks, Checkpoints and Recorder are optional.
type Deps struct {
	Registry    *entity.Registry
	Fetcher     Fetcher
	Writer      Writer
	Docs        repository.DocumentRepository
	Locks       repository.LockRepository
	Checkpoints Checkpoints
	Recorder    Recorder
	LockTTL     time.Duration
	Logger      *zap.Logger
}

func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:    deps.Registry,
		fetcher:     deps.Fetcher,
		writer:      deps.Writer,
		docs:        deps.Docs,
		locks:       deps.Locks,
		checkpoints: deps.Checkpoints,
		recorder:    deps.Recorder,
		lockTTL:     deps.LockTTL,
		logger:      logger.With(zap.String("component", "importer")),
		now:         time.Now,
	}
}

// Run imports one feed. A run whose lock is held elsewhere is skipped, not failed.
func (o *Orchestrator) Run(ctx context.Context, feed Feed, opts RunOptions) (*RunResult, error) {
	started := o.now()
	result := &RunResult{Feed: feed.Name}

	d, err := o.registry.Get(feed.Entity)
	if err != nil {
		return nil, err
	}
	parser, err := NewMappingParser(feed)
	if err != nil {
		return nil, err
	}

	if o.locks != nil {
		token, err := o.locks.Acquire(ctx, feed.Name, o.lockTTL)
		if err != nil {
			return nil, domain.WrapError(domain.ErrCodeInternal, "failed to acquire import lock", err)
		}
		if token == "" {
			o.logger.Info("import skipped, feed locked", zap.String("feed", feed.Name))
			result.Skipped = true
			o.record(feed.Name, "skipped", result.Detail, started)
			return result, nil
		}
		defer func() {
			if err := o.locks.Release(context.WithoutCancel(ctx), feed.Name, token); err != nil {
				o.logger.Warn("failed to release import lock", zap.String("feed", feed.Name), zap.Error(err))
			}
		}()
	}

	req := FetchRequest{Feed: feed, ID: opts.ID}
	result.Mode = o.mode(feed, opts, &req)
	log := appLogger.ForFeed(ctx, o.logger, feed.Name, result.Mode)

	payload, err := o.fetcher.Fetch(ctx, req)
	if err != nil {
		log.Error("feed fetch failed", zap.Error(err))
		o.record(feed.Name, "failed", result.Detail, started)
		if domain.IsDomainError(err, domain.ErrCodeNotFound) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrCodeUpstream, "feed "+feed.Name+" unavailable", err)
	}
	records, err := parser.Records(payload)
	if err != nil {
		o.record(feed.Name, "failed", result.Detail, started)
		return nil, err
	}

	details, seen := o.importRecords(ctx, log, d, feed, parser, records, result)

	if result.Mode == ModeFull && feed.DeletePolicy != PolicyKeep {
		details = append(details, o.reconcile(ctx, log, d, feed, seen, len(records), result)...)
	}

	result.Detail = domain.MergeUpdateDetails(details...)
	outcome := "success"
	if result.Detail.Error > 0 {
		outcome = "partial"
	}
	if opts.ID == "" && result.Detail.Error == 0 && o.checkpoints != nil {
		if err := o.checkpoints.SaveCheckpoint(feed.Name, started); err != nil {
			log.Warn("failed to save checkpoint", zap.Error(err))
		}
	}
	o.record(feed.Name, outcome, result.Detail, started)
	log.Info("import finished",
		zap.Int("created", result.Detail.Created),
		zap.Int("updated", result.Detail.Updated),
		zap.Int("deleted", result.Detail.Deleted),
		zap.Int("error", result.Detail.Error),
		zap.Duration("elapsed", o.now().Sub(started)))
	return result, nil
}

func (o *Orchestrator) mode(feed Feed, opts RunOptions, req *FetchRequest) string {
	if opts.ID != "" {
		return "single"
	}
	if feed.Mode != ModeDelta || opts.Full || o.checkpoints == nil {
		return ModeFull
	}
	since, err := o.checkpoints.Checkpoint(feed.Name)
	if err != nil {
		o.logger.Warn("checkpoint unreadable, running full import", zap.String("feed", feed.Name), zap.Error(err))
		return ModeFull
	}
	if since.IsZero() {
		return ModeFull
	}
	req.Since = since
	return ModeDelta
}

func (o *Orchestrator) importRecords(ctx context.Context, log *zap.Logger, d *entity.Descriptor, feed Feed, parser *MappingParser, records []interface{}, result *RunResult) ([]domain.UpdateDetail, map[string]struct{}) {
	type parsed struct {
		doc *domain.Document
		raw []byte
	}
	var items []parsed
	var details []domain.UpdateDetail
	seen := make(map[string]struct{}, len(records))

	for _, rec := range records {
		doc, err := parser.Parse(rec)
		if err != nil {
			// A record that fails to parse is still listed upstream; keep it out of reconciliation.
			sourceID, idErr := parser.SourceID(rec)
			if idErr == nil && sourceID != "" {
				seen[d.CanonicalID(feed.IDPrefix+sourceID)] = struct{}{}
			}
			o.outcome(log, result, feed, sourceID, err)
			details = append(details, domain.UpdateDetail{Error: 1})
			continue
		}
		doc.ID = d.CanonicalID(doc.ID)
		raw, _ := json.Marshal(rec)
		items = append(items, parsed{doc: doc, raw: raw})
		seen[doc.ID] = struct{}{}
	}

	existing := map[string][]byte{}
	if len(items) > 0 && o.docs != nil {
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.doc.ID
		}
		rows, err := o.docs.GetMany(ctx, d.Table, ids)
		if err != nil {
			log.Warn("failed to preload stored documents, editorial tags may be lost", zap.Error(err))
		} else if rows != nil {
			existing = rows
		}
	}

	for _, it := range items {
		if ctx.Err() != nil {
			o.outcome(log, result, feed, it.doc.ID, ctx.Err())
			details = append(details, domain.UpdateDetail{Error: 1})
			continue
		}
		if stored, ok := existing[it.doc.ID]; ok {
			var prev domain.Document
			if err := json.Unmarshal(stored, &prev); err == nil {
				tagging.MergeEditorialTags(it.doc, &prev, feed.Source)
			}
		}
		res, err := o.writer.Upsert(ctx, upsert.Request{
			Descriptor: d,
			Document:   it.doc,
			Operation:  domain.OperationCreateAndUpdate,
			Compare:    true,
			Editor:     "importer",
			EditSource: feed.Interface,
			Raw: &domain.RawData{
				Type:            d.Type,
				Datasource:      feed.Source,
				SourceInterface: feed.Interface,
				SourceURL:       feed.URL,
				License:         domain.LicenseKind(it.doc.LicenseInfo),
				RawFormat:       "json",
				Raw:             it.raw,
			},
			BufferOnFailure: true,
		})
		o.outcome(log, result, feed, it.doc.ID, err)
		details = append(details, res.Detail())
	}
	return details, seen
}

// reconcile deactivates or deletes stored documents of the feed source that the feed no longer lists.
func (o *Orchestrator) reconcile(ctx context.Context, log *zap.Logger, d *entity.Descriptor, feed Feed, seen map[string]struct{}, fetched int, result *RunResult) []domain.UpdateDetail {
	if fetched == 0 {
		log.Warn("feed returned no records, reconciliation skipped")
		return nil
	}
	where := filter.Expr("lower("+filter.TextPath(d.Path(entity.FieldSource))+") = %s", strings.ToLower(feed.Source))
	stored, err := o.docs.ListIDs(ctx, d.Table, where)
	if err != nil {
		log.Error("reconciliation failed", zap.Error(err))
		return []domain.UpdateDetail{{Error: 1}}
	}

	hard := feed.DeletePolicy == PolicyDelete
	var details []domain.UpdateDetail
	for _, id := range stored {
		if _, ok := seen[id]; ok {
			continue
		}
		if feed.IDPrefix != "" && !strings.HasPrefix(strings.ToLower(id), strings.ToLower(feed.IDPrefix)) {
			continue
		}
		if strings.HasSuffix(strings.ToUpper(id), domain.ReducedSuffix) {
			continue
		}
		res, err := o.writer.DeleteOrDisable(ctx, d, id, hard, feed.Interface)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		o.outcome(log, result, feed, id, err)
		details = append(details, res.Detail())
	}
	return details
}

// outcome logs one unit of work; this log is the audit trail of the importer.
func (o *Orchestrator) outcome(log *zap.Logger, result *RunResult, feed Feed, sourceID string, err error) {
	entry := domain.ImportLog{SourceID: sourceID, SourceInterface: feed.Interface, Success: err == nil}
	if err != nil {
		entry.Error = err.Error()
	}
	result.Logs = append(result.Logs, entry)
	log.Info("import outcome",
		zap.String("sourceid", entry.SourceID),
		zap.String("sourceinterface", entry.SourceInterface),
		zap.Bool("success", entry.Success),
		zap.String("error", entry.Error))
}

func (o *Orchestrator) record(feed, outcome string, d domain.UpdateDetail, started time.Time) {
	if o.recorder != nil {
		o.recorder.ObserveImport(feed, outcome, d, o.now().Sub(started))
	}
}
