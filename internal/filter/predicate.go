package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Binder registers a bound argument and returns its placeholder.
// go-sqlbuilder's SelectBuilder and Cond both satisfy it.
type Binder interface {
	Var(arg interface{}) string
}

// Predicate is a composable condition over the document column.
type Predicate interface {
	SQL(b Binder) string
}

type expr struct {
	format string
	args   []interface{}
}

// Expr builds a predicate from format; every %s receives the placeholder of the matching arg.
func Expr(format string, args ...interface{}) Predicate {
	return expr{format: format, args: args}
}

func (e expr) SQL(b Binder) string {
	if len(e.args) == 0 {
		return e.format
	}
	placeholders := make([]interface{}, len(e.args))
	for i, arg := range e.args {
		placeholders[i] = b.Var(arg)
	}
	return fmt.Sprintf(e.format, placeholders...)
}

type group struct {
	op    string
	items []Predicate
}

// And joins predicates; nil items are skipped and nil is returned when nothing remains.
func And(items ...Predicate) Predicate {
	return newGroup("AND", items)
}

// Or joins predicates with OR.
func Or(items ...Predicate) Predicate {
	return newGroup("OR", items)
}

func newGroup(op string, items []Predicate) Predicate {
	kept := make([]Predicate, 0, len(items))
	for _, item := range items {
		if item != nil {
			kept = append(kept, item)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return group{op: op, items: kept}
}

func (g group) SQL(b Binder) string {
	parts := make([]string, len(g.items))
	for i, item := range g.items {
		parts[i] = item.SQL(b)
	}
	return "(" + strings.Join(parts, " "+g.op+" ") + ")"
}

var pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

// ValidPath reports whether p is a dotted path safe to inline into SQL.
func ValidPath(p string) bool {
	return pathPattern.MatchString(p)
}

// TextPath renders the text extraction of a dotted path from the data column.
func TextPath(path string) string {
	return "data#>>'{" + strings.ReplaceAll(path, ".", ",") + "}'"
}

// JSONPath renders the jsonb extraction of a dotted path from the data column.
func JSONPath(path string) string {
	return "data#>'{" + strings.ReplaceAll(path, ".", ",") + "}'"
}
