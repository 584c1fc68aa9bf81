package filter

import (
	"strings"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
)

// Build composes every active parameter into one predicate. Unset parameters add nothing;
// the access condition of fc is always part of the result.
func Build(d *entity.Descriptor, p *Params, fc *FilterContext) (Predicate, error) {
	var parts []Predicate

	if len(p.IDs) > 0 {
		parts = append(parts, idListPredicate(d, p.IDs))
	}

	if len(p.Sources) > 0 {
		parts = append(parts, sourcePredicate(d, p.Sources))
	}

	if len(p.LangFilter) > 0 {
		parts = append(parts, Expr("jsonb_exists_any(data->'"+domain.FieldHasLanguage+"', %s)", p.LangFilter))
	}

	parts = append(parts,
		flagPredicate(d.Path(entity.FieldActive), p.Active),
		flagPredicate(d.Path(entity.FieldOdhActive), p.OdhActive),
	)

	if p.Begin != nil || p.End != nil {
		pred, err := dateRange(d, p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, pred)
	}

	if p.UpdateFrom != nil {
		parts = append(parts, Expr("("+TextPath(d.Path(entity.FieldLastChange))+")::timestamp >= %s", *p.UpdateFrom))
	}

	if p.TagFilter != nil {
		parts = append(parts, p.TagFilter.Predicate())
	}

	if p.Geo != nil {
		pred, err := p.Geo.Predicate(d)
		if err != nil {
			return nil, err
		}
		parts = append(parts, pred)
	}

	if p.Polygon != nil {
		pred, err := p.Polygon.Predicate(d)
		if err != nil {
			return nil, err
		}
		parts = append(parts, pred)
	}

	if p.SearchFilter != "" {
		parts = append(parts, searchPredicate(d, p.SearchFilter, p.Language))
	}

	if len(p.PublishedOn) > 0 {
		parts = append(parts, Expr("jsonb_exists_any(data->'"+domain.FieldPublishedOn+"', %s)", p.PublishedOn))
	}

	if p.RawFilter != nil {
		parts = append(parts, p.RawFilter.Predicate())
	}

	parts = append(parts, fc.ReadPredicate())
	return And(parts...), nil
}

// sourcePredicate matches the listed sources; the entry "null" selects documents without one.
func sourcePredicate(d *entity.Descriptor, sources []string) Predicate {
	path := TextPath(d.Path(entity.FieldSource))
	var values []string
	var parts []Predicate
	for _, s := range sources {
		if strings.EqualFold(s, "null") {
			parts = append(parts, Expr(path+" IS NULL"))
			continue
		}
		values = append(values, strings.ToLower(s))
	}
	if len(values) > 0 {
		parts = append([]Predicate{Expr("lower("+path+") = ANY(%s)", values)}, parts...)
	}
	return Or(parts...)
}

func flagPredicate(path string, flag NullableBool) Predicate {
	if !flag.Valid || path == "" {
		return nil
	}
	return Expr("coalesce("+TextPath(path)+", 'false') = %s", stringBool(flag.Value))
}

func stringBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// dateRange keeps documents whose [Begin, End] interval overlaps the requested one.
func dateRange(d *entity.Descriptor, p *Params) (Predicate, error) {
	begin, end := d.Path(entity.FieldBegin), d.Path(entity.FieldEnd)
	if begin == "" || end == "" {
		return nil, domain.Invalidf("%s does not support date range filters", d.Name)
	}
	var parts []Predicate
	if p.Begin != nil {
		parts = append(parts, Expr("("+TextPath(end)+")::timestamp >= %s", *p.Begin))
	}
	if p.End != nil {
		parts = append(parts, Expr("("+TextPath(begin)+")::timestamp <= %s", *p.End))
	}
	return And(parts...), nil
}

func searchPredicate(d *entity.Descriptor, term, language string) Predicate {
	langs := domain.Languages
	if language != "" {
		langs = []string{language}
	}
	pattern := "%" + escapeLike(term) + "%"

	var parts []Predicate
	for _, field := range d.SearchFields {
		if !strings.Contains(field, "{lang}") {
			parts = append(parts, Expr(TextPath(field)+" ILIKE %s", pattern))
			continue
		}
		for _, lang := range langs {
			parts = append(parts, Expr(TextPath(strings.ReplaceAll(field, "{lang}", lang))+" ILIKE %s", pattern))
		}
	}
	return Or(parts...)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// idListPredicate matches ids regardless of case. Entities with a canonical case compare the
// stored id directly; the others fold both sides.
func idListPredicate(d *entity.Descriptor, list []string) Predicate {
	ids := make([]string, len(list))
	if d.IDCase == entity.IDKeep {
		for i, id := range list {
			ids[i] = strings.ToLower(strings.TrimSpace(id))
		}
		return Expr("lower(id) = ANY(%s)", ids)
	}
	for i, id := range list {
		ids[i] = d.CanonicalID(id)
	}
	return Expr("id = ANY(%s)", ids)
}
