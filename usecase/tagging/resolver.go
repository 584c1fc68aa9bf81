package tagging

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/repository"
)

const defaultCacheSize = 4096

// Resolver attaches resolved tag entries to documents.
type Resolver struct {
	tags   repository.TagRepository
	cache  *lru.ARCCache
	logger *zap.Logger
}

func NewResolver(tags repository.TagRepository, cacheSize int, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{tags: tags, cache: cache, logger: logger}, nil
}

// Resolve dedupes TagIds and rebuilds Tags from the tag store. Unknown ids stay in TagIds
// but get no Tags entry. TagEntry values of entries that survive are kept.
func (r *Resolver) Resolve(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return nil
	}
	doc.TagIds = Dedupe(doc.TagIds)
	if len(doc.TagIds) == 0 {
		if doc.Tags != nil {
			doc.Tags = []domain.DocumentTag{}
		}
		return nil
	}

	known, err := r.lookup(ctx, doc.TagIds)
	if err != nil {
		return err
	}

	entries := make(map[string]map[string]string, len(doc.Tags))
	for _, t := range doc.Tags {
		if len(t.TagEntry) > 0 {
			entries[t.ID] = t.TagEntry
		}
	}

	resolved := make([]domain.DocumentTag, 0, len(doc.TagIds))
	for _, id := range doc.TagIds {
		tag, ok := known[id]
		if !ok {
			r.logger.Debug("dropping unresolved tag", zap.String("tag", id), zap.String("document", doc.ID))
			continue
		}
		resolved = append(resolved, domain.DocumentTag{
			ID:       id,
			Source:   strings.ToLower(tag.Source),
			Type:     tag.PrimaryType(),
			Name:     tag.DisplayName(),
			TagEntry: entries[id],
		})
	}
	doc.Tags = resolved
	return nil
}

func (r *Resolver) lookup(ctx context.Context, ids []string) (map[string]domain.Tag, error) {
	out := make(map[string]domain.Tag, len(ids))
	var missing []string
	for _, id := range ids {
		if cached, ok := r.cache.Get(id); ok {
			out[id] = cached.(domain.Tag)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	tags, err := r.tags.GetByIDs(ctx, missing)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "tag lookup failed", err)
	}
	for _, tag := range tags {
		r.cache.Add(tag.ID, tag)
		out[tag.ID] = tag
	}
	return out, nil
}

// Dedupe removes empty and repeated ids keeping first occurrence order.
func Dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// MergeEditorialTags carries tags added by anyone other than the feed into the re-imported document.
func MergeEditorialTags(incoming, existing *domain.Document, feedSource string) {
	if incoming == nil || existing == nil {
		return
	}
	have := make(map[string]struct{}, len(incoming.TagIds))
	for _, id := range incoming.TagIds {
		have[id] = struct{}{}
	}
	for _, tag := range existing.Tags {
		if strings.EqualFold(tag.Source, feedSource) {
			continue
		}
		if _, ok := have[tag.ID]; ok {
			continue
		}
		have[tag.ID] = struct{}{}
		incoming.TagIds = append(incoming.TagIds, tag.ID)
		incoming.Tags = append(incoming.Tags, tag)
	}
}
