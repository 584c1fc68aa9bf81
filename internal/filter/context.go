package filter

import (
	"strings"

	"github.com/fastygo/opendatahub/domain"
)

// Verb is an access verb carried in role names.
type Verb string

const (
	VerbRead   Verb = "Read"
	VerbCreate Verb = "Create"
	VerbUpdate Verb = "Update"
	VerbDelete Verb = "Delete"
)

// WriterRole grants every write verb on every entity without conditions.
const WriterRole = "DataWriter"

// AnonymousEditor is recorded as editor when no user is known.
const AnonymousEditor = "anonymous"

// FilterContext carries the caller identity and the role-derived conditions of one request.
type FilterContext struct {
	Entity        string
	Authenticated bool
	User          string

	granted    map[Verb]bool
	open       map[Verb]bool
	conditions map[Verb][]*RawExpr
}

// NewFilterContext derives per-verb conditions from roles shaped "<Entity>_<Verb>" or
// "<Entity>_<Verb>_<rawfilter>". Roles for other entities are ignored.
func NewFilterContext(entityName string, authenticated bool, user string, roles []string) (*FilterContext, error) {
	fc := &FilterContext{
		Entity:        entityName,
		Authenticated: authenticated,
		User:          user,
		granted:       make(map[Verb]bool),
		open:          make(map[Verb]bool),
		conditions:    make(map[Verb][]*RawExpr),
	}

	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == WriterRole {
			for _, v := range []Verb{VerbCreate, VerbUpdate, VerbDelete} {
				fc.granted[v], fc.open[v] = true, true
			}
			continue
		}

		parts := strings.SplitN(role, "_", 3)
		if len(parts) < 2 || !strings.EqualFold(parts[0], entityName) {
			continue
		}
		verb, ok := parseVerb(parts[1])
		if !ok {
			continue
		}
		fc.granted[verb] = true
		if len(parts) == 2 || strings.TrimSpace(parts[2]) == "" {
			fc.open[verb] = true
			continue
		}
		expr, err := ParseRawFilter(parts[2])
		if err != nil {
			return nil, domain.WrapError(domain.ErrCodeInvalid, "invalid role filter "+role, err)
		}
		fc.conditions[verb] = append(fc.conditions[verb], expr)
	}
	return fc, nil
}

func parseVerb(s string) (Verb, bool) {
	for _, v := range []Verb{VerbRead, VerbCreate, VerbUpdate, VerbDelete} {
		if strings.EqualFold(string(v), s) {
			return v, true
		}
	}
	return "", false
}

// Editor is the user recorded on writes.
func (fc *FilterContext) Editor() string {
	if fc == nil || fc.User == "" {
		return AnonymousEditor
	}
	return fc.User
}

// Allowed reports whether the caller holds any grant for a write verb.
func (fc *FilterContext) Allowed(verb Verb) bool {
	if verb == VerbRead {
		return true
	}
	return fc != nil && fc.Authenticated && fc.granted[verb]
}

// Constraint returns the condition a target row must satisfy for verb; nil means unrestricted.
// Several filtered roles for one verb are alternatives.
func (fc *FilterContext) Constraint(verb Verb) *RawExpr {
	if fc == nil || fc.open[verb] {
		return nil
	}
	conds := fc.conditions[verb]
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	}
	return &RawExpr{Op: OpOr, Children: conds}
}

// ReadPredicate is the access condition for reads: anonymous callers see open data only,
// authenticated callers see full rows rather than reduced copies.
func (fc *FilterContext) ReadPredicate() Predicate {
	var base Predicate
	if fc == nil || !fc.Authenticated {
		base = Expr("coalesce(" + TextPath(domain.FieldLicenseInfo+".ClosedData") + ", 'false') = 'false'")
	} else {
		base = Expr("coalesce(" + TextPath(domain.FieldMeta+".Reduced") + ", 'false') = 'false'")
	}
	if fc == nil {
		return base
	}
	return And(base, fc.Constraint(VerbRead).Predicate())
}
