package filter

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/fastygo/opendatahub/domain"
)

// TagRef is one item of a tag filter; an empty Source matches the tag id from any source.
type TagRef struct {
	Source string
	ID     string
}

// TagExpr is a flat and(...) or or(...) tag expression.
type TagExpr struct {
	Op   string
	Refs []TagRef
}

// ParseTagFilter parses "and(src:id,...)" or "or(src:id,...)".
// Nesting and mixing of and/or is rejected with an INVALID error.
func ParseTagFilter(raw string) (*TagExpr, error) {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)

	var op, inner string
	switch {
	case strings.HasPrefix(lower, "and(") && strings.HasSuffix(raw, ")"):
		op, inner = "and", raw[4:len(raw)-1]
	case strings.HasPrefix(lower, "or(") && strings.HasSuffix(raw, ")"):
		op, inner = "or", raw[3:len(raw)-1]
	default:
		return nil, domain.Invalidf("tagfilter must be and(...) or or(...), got %q", raw)
	}

	if strings.ContainsAny(inner, "()") {
		return nil, domain.Invalidf("tagfilter does not support nested or mixed and/or expressions")
	}

	expr := &TagExpr{Op: op}
	for _, item := range strings.Split(inner, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		ref := TagRef{ID: item}
		if idx := strings.Index(item, ":"); idx > 0 {
			ref = TagRef{Source: strings.ToLower(strings.TrimSpace(item[:idx])), ID: strings.TrimSpace(item[idx+1:])}
		}
		if ref.ID == "" {
			return nil, domain.Invalidf("tagfilter item %q has no tag id", item)
		}
		expr.Refs = append(expr.Refs, ref)
	}
	if len(expr.Refs) == 0 {
		return nil, domain.Invalidf("tagfilter %q lists no tags", raw)
	}
	return expr, nil
}

// Predicate compiles the tag expression against the resolved Tags and the TagIds list.
func (t *TagExpr) Predicate() Predicate {
	if t == nil || len(t.Refs) == 0 {
		return nil
	}

	var sourced []domain.DocumentTag
	var bare []string
	for _, ref := range t.Refs {
		if ref.Source == "" {
			bare = append(bare, ref.ID)
			continue
		}
		sourced = append(sourced, domain.DocumentTag{ID: ref.ID, Source: ref.Source})
	}

	if t.Op == "and" {
		var parts []Predicate
		if len(sourced) > 0 {
			parts = append(parts, tagContainment(sourced))
		}
		if len(bare) > 0 {
			parts = append(parts, Expr("jsonb_exists_all(data->'TagIds', %s)", bare))
		}
		return And(parts...)
	}

	parts := make([]Predicate, 0, len(sourced)+1)
	for _, tag := range sourced {
		parts = append(parts, tagContainment([]domain.DocumentTag{tag}))
	}
	if len(bare) > 0 {
		parts = append(parts, Expr("jsonb_exists_any(data->'TagIds', %s)", bare))
	}
	return Or(parts...)
}

type tagProbe struct {
	ID     string `json:"Id"`
	Source string `json:"Source"`
}

func tagContainment(tags []domain.DocumentTag) Predicate {
	probe := make([]tagProbe, len(tags))
	for i, tag := range tags {
		probe[i] = tagProbe{ID: tag.ID, Source: tag.Source}
	}
	raw, _ := json.Marshal(probe)
	return Expr("data->'Tags' @> %s::jsonb", string(raw))
}
