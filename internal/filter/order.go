package filter

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
)

// SortField is one rawsort entry.
type SortField struct {
	Path string
	Desc bool
}

// ParseRawSort parses "Field,-Other.Nested" into sort fields.
func ParseRawSort(raw string) ([]SortField, error) {
	var out []SortField
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		f := SortField{Path: item}
		if strings.HasPrefix(item, "-") {
			f = SortField{Path: strings.TrimSpace(item[1:]), Desc: true}
		}
		f.Path = normalizeIndexPath(f.Path)
		if !ValidPath(f.Path) {
			return nil, domain.Invalidf("rawsort: invalid field %q", item)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, domain.Invalidf("rawsort is empty")
	}
	return out, nil
}

type orderTerm struct {
	expr Predicate
	desc bool
}

// Order is a resolved ORDER BY clause. Seed is the effective seed, "" when unseeded.
type Order struct {
	terms []orderTerm
	Seed  string
}

// SeedSource picks the seed used when the caller passes seed=0.
type SeedSource func() int

// RandomSeed returns a value in 1..10.
func RandomSeed() int {
	return rand.IntN(10) + 1
}

// ResolveOrder applies the precedence raw sort, geo distance, seed, default sort.
// The id is always appended so pages are stable.
func ResolveOrder(d *entity.Descriptor, p *Params, seeds SeedSource) (*Order, error) {
	o := &Order{}

	switch {
	case len(p.RawSort) > 0:
		for _, f := range p.RawSort {
			o.terms = append(o.terms, orderTerm{expr: Expr(TextPath(f.Path)), desc: f.Desc})
		}

	case p.Geo != nil:
		dist, err := p.Geo.DistanceOrder(d)
		if err != nil {
			return nil, err
		}
		o.terms = append(o.terms, orderTerm{expr: dist})

	case p.Seed != "" && !strings.EqualFold(p.Seed, "null"):
		n, err := strconv.Atoi(p.Seed)
		if err != nil || n < 0 {
			return nil, domain.Invalidf("invalid seed %q", p.Seed)
		}
		if n == 0 {
			if seeds == nil {
				seeds = RandomSeed
			}
			n = seeds()
		}
		o.Seed = strconv.Itoa(n)
		o.terms = append(o.terms, orderTerm{expr: Expr("md5(id || %s)", o.Seed)})

	case d.DefaultSort != "" && d.DefaultSort != domain.FieldID:
		o.terms = append(o.terms, orderTerm{expr: Expr(TextPath(d.DefaultSort))})
	}

	o.terms = append(o.terms, orderTerm{expr: Expr("id")})
	return o, nil
}

// SQL renders the ORDER BY list without the keyword.
func (o *Order) SQL(b Binder) string {
	parts := make([]string, len(o.terms))
	for i, t := range o.terms {
		dir := " ASC"
		if t.desc {
			dir = " DESC"
		}
		parts[i] = t.expr.SQL(b) + dir
	}
	return strings.Join(parts, ", ")
}
