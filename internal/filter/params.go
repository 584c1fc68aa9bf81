package filter

import (
	"strconv"
	"strings"
	"time"

	"github.com/fastygo/opendatahub/domain"
)

// Values is the read-only view of request parameters the builder needs.
type Values interface {
	Get(key string) string
}

// MapValues adapts a plain map.
type MapValues map[string]string

func (m MapValues) Get(key string) string { return m[key] }

// NullableBool is a tri-state flag: unset means "no filter".
type NullableBool struct {
	Value bool
	Valid bool
}

// ParseNullableBool accepts "", "null", "1", "0", "true" and "false".
func ParseNullableBool(raw string) (NullableBool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "null":
		return NullableBool{}, nil
	case "1", "true":
		return NullableBool{Value: true, Valid: true}, nil
	case "0", "false":
		return NullableBool{Value: false, Valid: true}, nil
	}
	return NullableBool{}, domain.Invalidf("invalid boolean value %q", raw)
}

// Params is the typed form of every list/single query parameter.
type Params struct {
	IDs          []string
	Sources      []string
	Language     string
	LangFilter   []string
	Active       NullableBool
	OdhActive    NullableBool
	Begin        *time.Time
	End          *time.Time
	TagFilter    *TagExpr
	Geo          *GeoFilter
	Polygon      *PolygonFilter
	SearchFilter string
	RawFilter    *RawExpr
	RawSort      []SortField
	PublishedOn  []string
	UpdateFrom   *time.Time
	Seed         string
	PageNumber   int
	PageSize     int
	Fields       []string
	RemoveNulls  bool
	IDArray      bool
}

// ParseParams validates and converts raw parameters. Malformed values are INVALID errors.
func ParseParams(v Values) (*Params, error) {
	p := &Params{
		IDs:          splitList(first(v, "idlist", "ids")),
		Sources:      splitList(v.Get("source")),
		Language:     strings.ToLower(strings.TrimSpace(v.Get("language"))),
		LangFilter:   lowerList(splitList(v.Get("langfilter"))),
		SearchFilter: strings.TrimSpace(v.Get("searchfilter")),
		PublishedOn:  splitList(v.Get("publishedon")),
		Seed:         strings.TrimSpace(v.Get("seed")),
		Fields:       splitList(v.Get("fields")),
		PageNumber:   1,
	}

	if p.Language != "" && !domain.IsLanguage(p.Language) {
		return nil, domain.Invalidf("unknown language %q", p.Language)
	}

	var err error
	if p.Active, err = ParseNullableBool(v.Get("active")); err != nil {
		return nil, err
	}
	if p.OdhActive, err = ParseNullableBool(v.Get("odhactive")); err != nil {
		return nil, err
	}
	if p.RemoveNulls, err = parseFlag(v.Get("removenullvalues")); err != nil {
		return nil, err
	}
	if p.IDArray, err = parseFlag(v.Get("getasidarray")); err != nil {
		return nil, err
	}

	if raw := strings.TrimSpace(v.Get("pagenumber")); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 {
			return nil, domain.Invalidf("invalid pagenumber %q", raw)
		}
		p.PageNumber = n
	}
	if raw := strings.TrimSpace(v.Get("pagesize")); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 {
			return nil, domain.Invalidf("invalid pagesize %q", raw)
		}
		p.PageSize = n
	}

	format := v.Get("datetimeformat")
	if p.Begin, err = ParseDate(first(v, "begindate", "startdate", "begin"), format, false); err != nil {
		return nil, err
	}
	if p.End, err = ParseDate(first(v, "enddate", "end"), format, true); err != nil {
		return nil, err
	}
	if p.UpdateFrom, err = ParseDate(first(v, "updatefrom", "lastchange"), format, false); err != nil {
		return nil, err
	}

	if raw := strings.TrimSpace(v.Get("tagfilter")); raw != "" {
		if p.TagFilter, err = ParseTagFilter(raw); err != nil {
			return nil, err
		}
	}
	if p.Geo, err = ParseGeo(v.Get("latitude"), v.Get("longitude"), v.Get("radius")); err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(v.Get("polygon")); raw != "" {
		if p.Polygon, err = ParsePolygon(raw); err != nil {
			return nil, err
		}
	}
	if raw := strings.TrimSpace(v.Get("rawfilter")); raw != "" {
		if p.RawFilter, err = ParseRawFilter(raw); err != nil {
			return nil, err
		}
	}
	if raw := strings.TrimSpace(v.Get("rawsort")); raw != "" {
		if p.RawSort, err = ParseRawSort(raw); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func first(v Values, keys ...string) string {
	for _, k := range keys {
		if val := strings.TrimSpace(v.Get(k)); val != "" {
			return val
		}
	}
	return ""
}

func parseFlag(raw string) (bool, error) {
	nb, err := ParseNullableBool(raw)
	if err != nil {
		return false, err
	}
	return nb.Valid && nb.Value, nil
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func lowerList(in []string) []string {
	for i := range in {
		in[i] = strings.ToLower(in[i])
	}
	return in
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDate parses a local date-time or, with format "uxtimestamp", Unix epoch milliseconds.
// A date-only value bound as an upper limit covers the whole day.
func ParseDate(raw, format string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return nil, nil
	}

	if strings.EqualFold(strings.TrimSpace(format), "uxtimestamp") {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, domain.Invalidf("invalid unix timestamp %q", raw)
		}
		t := time.UnixMilli(ms).In(time.Local)
		return &t, nil
	}

	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, raw, time.Local)
		if err != nil {
			continue
		}
		if endOfDay && layout == "2006-01-02" {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		return &t, nil
	}
	return nil, domain.Invalidf("invalid date %q", raw)
}
