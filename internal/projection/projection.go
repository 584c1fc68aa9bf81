// Package projection shapes stored documents for API responses.
package projection

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/filter"
)

// Options controls one projection.
type Options struct {
	Language    string
	Fields      []string
	RemoveNulls bool
	URLs        URLRewriter
}

// Project returns a reshaped copy of doc. The input is never modified.
// Steps run in order: URL rewriting, field selection, language reduction, null stripping.
func Project(doc map[string]interface{}, opts Options) map[string]interface{} {
	out, _ := deepCopy(doc).(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}

	if opts.URLs != nil {
		rewriteURLs(out, opts.URLs)
	}
	if len(opts.Fields) > 0 {
		out = selectFields(out, opts.Fields)
	}
	if opts.Language != "" {
		out, _ = reduceLanguage(out, opts.Language).(map[string]interface{})
	}
	if opts.RemoveNulls {
		if stripped, ok := StripEmpty(out).(map[string]interface{}); ok {
			out = stripped
		} else {
			out = map[string]interface{}{}
		}
	}
	return out
}

// selectFields keeps the requested paths, keyed by the path as requested. Id is always kept.
func selectFields(doc map[string]interface{}, fields []string) map[string]interface{} {
	out := map[string]interface{}{domain.FieldID: doc[domain.FieldID]}
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" || field == domain.FieldID {
			continue
		}
		value, ok := filter.Lookup(doc, field)
		if !ok {
			value = nil
		}
		out[field] = value
	}
	return out
}

// reduceLanguage collapses every localized map to the value for lang; a missing language yields null.
func reduceLanguage(value interface{}, lang string) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		if domain.IsLocalizedMap(v) {
			return reduceLanguage(v[lang], lang)
		}
		for k, child := range v {
			v[k] = reduceLanguage(child, lang)
		}
		return v
	case []interface{}:
		for i, child := range v {
			v[i] = reduceLanguage(child, lang)
		}
		return v
	}
	return value
}

// StripEmpty removes null, empty strings, empty arrays and objects that end up empty, recursively.
// It returns nil when the value itself is empty.
func StripEmpty(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			if kept := StripEmpty(child); kept != nil {
				out[k] = kept
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, child := range v {
			if kept := StripEmpty(child); kept != nil {
				out = append(out, kept)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return value
}

func deepCopy(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = deepCopy(child)
		}
		return out
	}
	return value
}

// Float reads a numeric or numeric-string value.
func Float(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
