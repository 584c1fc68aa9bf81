package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/fastygo/opendatahub/domain"
)

// MaxRawNodes bounds the size of a raw filter expression.
const MaxRawNodes = 32

// Raw filter operators.
const (
	OpEq        = "eq"
	OpNe        = "ne"
	OpGt        = "gt"
	OpGe        = "ge"
	OpLt        = "lt"
	OpLe        = "le"
	OpLike      = "like"
	OpIn        = "in"
	OpNin       = "nin"
	OpIsNull    = "isnull"
	OpIsNotNull = "isnotnull"
	OpAnd       = "and"
	OpOr        = "or"
)

var fieldOps = map[string]int{
	OpEq: 1, OpNe: 1, OpGt: 1, OpGe: 1, OpLt: 1, OpLe: 1, OpLike: 1,
	OpIn: -1, OpNin: -1,
	OpIsNull: 0, OpIsNotNull: 0,
}

// Literal kinds.
const (
	KindString = "string"
	KindNumber = "number"
	KindBool   = "bool"
	KindNull   = "null"
)

// Literal is a typed constant of a raw filter.
type Literal struct {
	Kind string
	Text string
}

// RawExpr is a node of the restricted raw filter grammar, e.g.
// and(eq(Active,true),in(Source,'lts','idm'),isnotnull(GpsInfo)).
type RawExpr struct {
	Op       string
	Field    string
	Values   []Literal
	Children []*RawExpr
}

// ParseRawFilter parses a raw filter expression.
func ParseRawFilter(raw string) (*RawExpr, error) {
	p := &rawParser{src: raw}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, domain.Invalidf("rawfilter: unexpected input at %d", p.pos)
	}
	if p.nodes > MaxRawNodes {
		return nil, domain.Invalidf("rawfilter: more than %d nodes", MaxRawNodes)
	}
	return expr, nil
}

type rawParser struct {
	src   string
	pos   int
	nodes int
}

func (p *rawParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *rawParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *rawParser) expect(c byte) error {
	if p.peek() != c {
		return domain.Invalidf("rawfilter: expected %q at %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *rawParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c == '.' || c == '[' || c == ']' || c == '-' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *rawParser) parseExpr() (*RawExpr, error) {
	p.nodes++
	if p.nodes > MaxRawNodes {
		return nil, domain.Invalidf("rawfilter: more than %d nodes", MaxRawNodes)
	}

	op := strings.ToLower(p.ident())
	if err := p.expect('('); err != nil {
		return nil, err
	}

	if op == OpAnd || op == OpOr {
		node := &RawExpr{Op: op}
		for {
			child, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
			if p.peek() == ',' {
				p.pos++
				continue
			}
			break
		}
		return node, p.expect(')')
	}

	arity, ok := fieldOps[op]
	if !ok {
		return nil, domain.Invalidf("rawfilter: unknown operator %q", op)
	}

	field := normalizeIndexPath(p.ident())
	if !ValidPath(field) {
		return nil, domain.Invalidf("rawfilter: invalid field %q", field)
	}
	node := &RawExpr{Op: op, Field: field}

	for p.peek() == ',' {
		p.pos++
		lit, err := p.literal()
		if err != nil {
			return nil, err
		}
		node.Values = append(node.Values, lit)
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}

	switch {
	case arity >= 0 && len(node.Values) != arity:
		return nil, domain.Invalidf("rawfilter: %s expects %d value(s)", op, arity)
	case arity < 0 && len(node.Values) == 0:
		return nil, domain.Invalidf("rawfilter: %s expects at least one value", op)
	}
	if op == OpLike && node.Values[0].Kind != KindString {
		return nil, domain.Invalidf("rawfilter: like expects a string pattern")
	}
	return node, nil
}

func (p *rawParser) literal() (Literal, error) {
	c := p.peek()
	if c == '\'' || c == '"' {
		p.pos++
		var sb strings.Builder
		for p.pos < len(p.src) {
			ch := p.src[p.pos]
			p.pos++
			if ch == '\\' && p.pos < len(p.src) {
				sb.WriteByte(p.src[p.pos])
				p.pos++
				continue
			}
			if ch == c {
				return Literal{Kind: KindString, Text: sb.String()}, nil
			}
			sb.WriteByte(ch)
		}
		return Literal{}, domain.Invalidf("rawfilter: unterminated string")
	}

	word := p.ident()
	switch strings.ToLower(word) {
	case "":
		return Literal{}, domain.Invalidf("rawfilter: expected value at %d", p.pos)
	case "true", "false":
		return Literal{Kind: KindBool, Text: strings.ToLower(word)}, nil
	case "null":
		return Literal{Kind: KindNull}, nil
	}
	if _, err := strconv.ParseFloat(word, 64); err != nil {
		return Literal{}, domain.Invalidf("rawfilter: invalid value %q", word)
	}
	return Literal{Kind: KindNumber, Text: word}, nil
}

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// normalizeIndexPath rewrites "a[0].b" to "a.0.b".
func normalizeIndexPath(p string) string {
	return indexPattern.ReplaceAllString(p, ".$1")
}

// String renders the expression back to its canonical text.
func (r *RawExpr) String() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Children)+len(r.Values)+1)
	if r.Op == OpAnd || r.Op == OpOr {
		for _, c := range r.Children {
			parts = append(parts, c.String())
		}
	} else {
		parts = append(parts, r.Field)
		for _, v := range r.Values {
			switch v.Kind {
			case KindString:
				parts = append(parts, "'"+strings.ReplaceAll(v.Text, "'", `\'`)+"'")
			case KindNull:
				parts = append(parts, "null")
			default:
				parts = append(parts, v.Text)
			}
		}
	}
	return r.Op + "(" + strings.Join(parts, ",") + ")"
}

// Predicate compiles the expression with every literal bound as a parameter.
func (r *RawExpr) Predicate() Predicate {
	if r == nil {
		return nil
	}
	switch r.Op {
	case OpAnd, OpOr:
		items := make([]Predicate, len(r.Children))
		for i, c := range r.Children {
			items[i] = c.Predicate()
		}
		if r.Op == OpAnd {
			return And(items...)
		}
		return Or(items...)
	}

	text, js := TextPath(r.Field), JSONPath(r.Field)
	switch r.Op {
	case OpIsNull:
		return Expr(fmt.Sprintf("coalesce(jsonb_typeof(%s), 'null') = 'null'", js))
	case OpIsNotNull:
		return Expr(fmt.Sprintf("coalesce(jsonb_typeof(%s), 'null') <> 'null'", js))
	case OpIn:
		return Expr(text+" = ANY(%s)", literalTexts(r.Values))
	case OpNin:
		return Expr("NOT coalesce("+text+" = ANY(%s), false)", literalTexts(r.Values))
	case OpLike:
		return Expr(text+" LIKE %s", r.Values[0].Text)
	}

	v := r.Values[0]
	if v.Kind == KindNull {
		if r.Op == OpNe {
			return Expr(fmt.Sprintf("coalesce(jsonb_typeof(%s), 'null') <> 'null'", js))
		}
		return Expr(fmt.Sprintf("coalesce(jsonb_typeof(%s), 'null') = 'null'", js))
	}

	switch r.Op {
	case OpEq:
		return Expr(text+" = %s", v.Text)
	case OpNe:
		return Expr(text+" IS DISTINCT FROM %s", v.Text)
	}

	cmp := map[string]string{OpGt: ">", OpGe: ">=", OpLt: "<", OpLe: "<="}[r.Op]
	if v.Kind == KindNumber {
		n, _ := strconv.ParseFloat(v.Text, 64)
		return Expr(fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = 'number' THEN (%s)::numeric END) %s %%s", js, text, cmp), n)
	}
	return Expr(text+" "+cmp+" %s", v.Text)
}

func literalTexts(values []Literal) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v.Kind != KindNull {
			out = append(out, v.Text)
		}
	}
	return out
}

// Evaluate tests the expression against a decoded document.
func (r *RawExpr) Evaluate(doc map[string]interface{}) bool {
	if r == nil {
		return true
	}
	switch r.Op {
	case OpAnd:
		for _, c := range r.Children {
			if !c.Evaluate(doc) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range r.Children {
			if c.Evaluate(doc) {
				return true
			}
		}
		return false
	}

	value, present := Lookup(doc, r.Field)
	present = present && value != nil
	text := valueText(value)

	switch r.Op {
	case OpIsNull:
		return !present
	case OpIsNotNull:
		return present
	case OpIn, OpNin:
		found := false
		if present {
			for _, lit := range literalTexts(r.Values) {
				if lit == text {
					found = true
					break
				}
			}
		}
		return found == (r.Op == OpIn)
	case OpLike:
		return present && likeMatch(r.Values[0].Text, text)
	}

	v := r.Values[0]
	if v.Kind == KindNull {
		return present == (r.Op == OpNe)
	}
	switch r.Op {
	case OpEq:
		return present && text == v.Text
	case OpNe:
		return !present || text != v.Text
	}
	if !present {
		return false
	}

	var c int
	if v.Kind == KindNumber {
		lhs, ok := numberOf(value)
		if !ok {
			return false
		}
		rhs, _ := strconv.ParseFloat(v.Text, 64)
		switch {
		case lhs < rhs:
			c = -1
		case lhs > rhs:
			c = 1
		}
	} else {
		c = strings.Compare(text, v.Text)
	}
	switch r.Op {
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	default:
		return c <= 0
	}
}

// Lookup walks a dotted path through maps and arrays.
func Lookup(doc interface{}, path string) (interface{}, bool) {
	cur := doc
	for _, seg := range strings.Split(normalizeIndexPath(path), ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// valueText mirrors the text form Postgres yields for data#>>path.
func valueText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}

func numberOf(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func likeMatch(pattern, s string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile("(?s)" + sb.String())
	return err == nil && re.MatchString(s)
}
