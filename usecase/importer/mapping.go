package importer

import (
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jmespath/go-jmespath"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/filter"
)

// Parser turns an upstream payload into documents.
type Parser interface {
	Records(payload []byte) ([]interface{}, error)
	Parse(record interface{}) (*domain.Document, error)
}

type fieldMapping struct {
	target string
	expr   *jmespath.JMESPath
}

// MappingParser maps upstream records with JMESPath expressions, one per target path.
type MappingParser struct {
	feed   Feed
	items  *jmespath.JMESPath
	id     *jmespath.JMESPath
	fields []fieldMapping
}

// NewMappingParser compiles every expression of feed.
func NewMappingParser(feed Feed) (*MappingParser, error) {
	p := &MappingParser{feed: feed}
	var err error
	if strings.TrimSpace(feed.Items) != "" {
		if p.items, err = compile(feed.Name, "items", feed.Items); err != nil {
			return nil, err
		}
	}
	if p.id, err = compile(feed.Name, "id", feed.ID); err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(feed.Mapping))
	for target := range feed.Mapping {
		targets = append(targets, target)
	}
	// parents before children so nested targets can refine a mapped object
	sort.Strings(targets)
	for _, target := range targets {
		if !filter.ValidPath(target) {
			return nil, domain.Invalidf("feed %s: invalid target path %q", feed.Name, target)
		}
		expr, err := compile(feed.Name, target, feed.Mapping[target])
		if err != nil {
			return nil, err
		}
		p.fields = append(p.fields, fieldMapping{target: target, expr: expr})
	}
	return p, nil
}

func compile(feed, name, expression string) (*jmespath.JMESPath, error) {
	expr, err := jmespath.Compile(expression)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInvalid, "feed "+feed+": invalid expression for "+name, err)
	}
	return expr, nil
}

// Records extracts the record list of a payload. Without an items expression a top-level
// array is the list and an object is a single record.
func (p *MappingParser) Records(payload []byte) ([]interface{}, error) {
	var data interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, domain.WrapError(domain.ErrCodeUpstream, "upstream payload is not valid json", err)
	}
	if p.items != nil {
		var err error
		if data, err = p.items.Search(data); err != nil {
			return nil, domain.WrapError(domain.ErrCodeUpstream, "items expression failed", err)
		}
	}
	switch v := data.(type) {
	case nil:
		return []interface{}{}, nil
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		return []interface{}{v}, nil
	}
	return nil, domain.NewError(domain.ErrCodeUpstream, "upstream payload holds no records")
}

// SourceID returns the upstream id of a record.
func (p *MappingParser) SourceID(record interface{}) (string, error) {
	v, err := p.id.Search(record)
	if err != nil {
		return "", domain.WrapError(domain.ErrCodeInvalid, "id expression failed", err)
	}
	switch id := v.(type) {
	case string:
		if strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id), nil
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	}
	return "", domain.Invalidf("record has no id")
}

// Parse builds the document of one record.
func (p *MappingParser) Parse(record interface{}) (*domain.Document, error) {
	sourceID, err := p.SourceID(record)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{domain.FieldActive: true}
	for _, f := range p.fields {
		v, err := f.expr.Search(record)
		if err != nil {
			return nil, domain.WrapError(domain.ErrCodeInvalid, "mapping for "+f.target+" failed", err)
		}
		if v == nil {
			continue
		}
		setPath(out, f.target, v)
	}
	out[domain.FieldID] = p.feed.IDPrefix + sourceID
	out[domain.FieldSource] = p.feed.Source

	doc, err := domain.DocumentFromMap(out)
	if err != nil {
		return nil, err
	}
	if l := p.feed.License; l != nil {
		doc.LicenseInfo = &domain.LicenseInfo{
			License:       l.License,
			LicenseHolder: l.LicenseHolder,
			Author:        l.Author,
			ClosedData:    l.ClosedData,
		}
	}
	doc.TagIds = append(doc.TagIds, p.feed.Tags...)
	return doc, nil
}

// setPath writes v at a dotted path, creating intermediate objects.
func setPath(m map[string]interface{}, path string, v interface{}) {
	parts := strings.Split(path, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}
