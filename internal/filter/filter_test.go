package filter

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
)

type recorder struct {
	args []interface{}
}

func (r *recorder) Var(arg interface{}) string {
	r.args = append(r.args, arg)
	return "$" + strconv.Itoa(len(r.args))
}

func render(p Predicate) (string, []interface{}) {
	r := &recorder{}
	return p.SQL(r), r.args
}

func descriptor(t *testing.T, typ string) *entity.Descriptor {
	t.Helper()
	d, err := entity.Defaults().Get(typ)
	require.NoError(t, err)
	return d
}

func TestAndOrSkipNil(t *testing.T) {
	assert.Nil(t, And(nil, nil))

	single := Expr("a = %s", 1)
	assert.Equal(t, single, And(nil, single))

	sql, args := render(Or(Expr("a = %s", 1), nil, Expr("b")))
	assert.Equal(t, "(a = $1 OR b)", sql)
	assert.Equal(t, []interface{}{1}, args)
}

func TestParseTagFilter(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantOp  string
		wantLen int
		wantErr bool
	}{
		{name: "and", raw: "and(LTS:abc, def)", wantOp: "and", wantLen: 2},
		{name: "or", raw: "or(idm:x)", wantOp: "or", wantLen: 1},
		{name: "nested", raw: "and(a,or(b,c))", wantErr: true},
		{name: "mixed", raw: "and(a)or(b)", wantErr: true},
		{name: "no operator", raw: "a,b", wantErr: true},
		{name: "empty", raw: "or()", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ParseTagFilter(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, expr.Op)
			assert.Len(t, expr.Refs, tt.wantLen)
		})
	}
}

func TestTagPredicate(t *testing.T) {
	expr, err := ParseTagFilter("and(LTS:abc, def)")
	require.NoError(t, err)
	assert.Equal(t, TagRef{Source: "lts", ID: "abc"}, expr.Refs[0])

	sql, args := render(expr.Predicate())
	assert.Equal(t, "(data->'Tags' @> $1::jsonb AND jsonb_exists_all(data->'TagIds', $2))", sql)
	assert.Equal(t, `[{"Id":"abc","Source":"lts"}]`, args[0])
	assert.Equal(t, []string{"def"}, args[1])

	expr, err = ParseTagFilter("or(lts:a,idm:b)")
	require.NoError(t, err)
	sql, _ = render(expr.Predicate())
	assert.Equal(t, "(data->'Tags' @> $1::jsonb OR data->'Tags' @> $2::jsonb)", sql)
}

func TestParseRawFilter(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantSQL  string
		wantArgs []interface{}
		wantErr  bool
	}{
		{
			name:     "and of eq and in",
			raw:      "and(eq(Active,true),in(Source,'lts','idm'))",
			wantSQL:  "(data#>>'{Active}' = $1 AND data#>>'{Source}' = ANY($2))",
			wantArgs: []interface{}{"true", []string{"lts", "idm"}},
		},
		{
			name:     "numeric comparison",
			raw:      "gt(Rating, 3)",
			wantSQL:  "(CASE WHEN jsonb_typeof(data#>'{Rating}') = 'number' THEN (data#>>'{Rating}')::numeric END) > $1",
			wantArgs: []interface{}{3.0},
		},
		{
			name:    "isnull with array index",
			raw:     "isnull(ContactInfos[0].Email)",
			wantSQL: "coalesce(jsonb_typeof(data#>'{ContactInfos,0,Email}'), 'null') = 'null'",
		},
		{
			name:     "like",
			raw:      `like(Shortname,"Hotel%")`,
			wantSQL:  "data#>>'{Shortname}' LIKE $1",
			wantArgs: []interface{}{"Hotel%"},
		},
		{name: "unknown operator", raw: "regex(Shortname,'x')", wantErr: true},
		{name: "injection in field", raw: "eq(Id';drop,1)", wantErr: true},
		{name: "missing value", raw: "eq(Active)", wantErr: true},
		{name: "trailing input", raw: "eq(Active,true) or 1", wantErr: true},
		{name: "unterminated", raw: "eq(Shortname,'abc)", wantErr: true},
		{name: "like needs string", raw: "like(Shortname,1)", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ParseRawFilter(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))
				return
			}
			require.NoError(t, err)
			sql, args := render(expr.Predicate())
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestRawFilterNodeLimit(t *testing.T) {
	raw := "or("
	for i := 0; i < MaxRawNodes; i++ {
		if i > 0 {
			raw += ","
		}
		raw += "eq(Id,'" + strconv.Itoa(i) + "')"
	}
	raw += ")"

	_, err := ParseRawFilter(raw)
	assert.Error(t, err)
}

func TestRawFilterEvaluate(t *testing.T) {
	doc := map[string]interface{}{
		"Source": "lts",
		"Active": true,
		"Rating": 4.5,
		"Detail": map[string]interface{}{"de": map[string]interface{}{"Title": "Hotel Post"}},
		"Images": []interface{}{map[string]interface{}{"Url": "http://x"}},
	}
	tests := []struct {
		raw  string
		want bool
	}{
		{"eq(Source,'lts')", true},
		{"ne(Source,'lts')", false},
		{"eq(Active,true)", true},
		{"gt(Rating,4)", true},
		{"le(Rating,4)", false},
		{"like(Detail.de.Title,'Hotel%')", true},
		{"in(Source,'idm','lts')", true},
		{"nin(Source,'idm','lts')", false},
		{"isnull(Missing)", true},
		{"isnotnull(Images[0].Url)", true},
		{"eq(Missing,null)", true},
		{"and(eq(Source,'lts'),eq(Active,false))", false},
		{"or(eq(Source,'idm'),eq(Active,true))", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			expr, err := ParseRawFilter(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.Evaluate(doc))
		})
	}
}

func TestRawExprString(t *testing.T) {
	expr, err := ParseRawFilter(`and(eq(Source, "lts"), in(Id,1,2), isnull(X))`)
	require.NoError(t, err)
	assert.Equal(t, "and(eq(Source,'lts'),in(Id,1,2),isnull(X))", expr.String())
}

func TestParseRawSort(t *testing.T) {
	fields, err := ParseRawSort("Shortname, -Detail.de.Title")
	require.NoError(t, err)
	assert.Equal(t, []SortField{{Path: "Shortname"}, {Path: "Detail.de.Title", Desc: true}}, fields)

	_, err = ParseRawSort("Short name")
	assert.Error(t, err)
	_, err = ParseRawSort(" , ")
	assert.Error(t, err)
}

func TestResolveOrderPrecedence(t *testing.T) {
	event := descriptor(t, "event")
	announcement := descriptor(t, "announcement")
	sensor := descriptor(t, "sensor")
	fixed := func() int { return 7 }
	geo := &GeoFilter{Latitude: 46.5, Longitude: 11.3, Radius: 1000}

	tests := []struct {
		name     string
		desc     *entity.Descriptor
		params   Params
		wantSQL  string
		wantSeed string
	}{
		{
			name:    "raw sort wins",
			desc:    announcement,
			params:  Params{RawSort: []SortField{{Path: "Shortname", Desc: true}}, Geo: geo, Seed: "3"},
			wantSQL: "data#>>'{Shortname}' DESC, id ASC",
		},
		{
			name:    "geo disables seed",
			desc:    announcement,
			params:  Params{Geo: geo, Seed: "3"},
			wantSQL: "earth_distance(ll_to_earth($1, $2), ll_to_earth((data#>>'{Geo,position,Latitude}')::double precision, (data#>>'{Geo,position,Longitude}')::double precision)) ASC, id ASC",
		},
		{
			name:     "fixed seed",
			desc:     event,
			params:   Params{Seed: "3"},
			wantSQL:  "md5(id || $1) ASC, id ASC",
			wantSeed: "3",
		},
		{
			name:     "seed zero is replaced",
			desc:     event,
			params:   Params{Seed: "0"},
			wantSQL:  "md5(id || $1) ASC, id ASC",
			wantSeed: "7",
		},
		{
			name:    "default sort",
			desc:    event,
			params:  Params{Seed: "null"},
			wantSQL: "data#>>'{DateBegin}' ASC, id ASC",
		},
		{
			name:    "id default",
			desc:    sensor,
			wantSQL: "id ASC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.params
			o, err := ResolveOrder(tt.desc, &params, fixed)
			require.NoError(t, err)
			sql := o.SQL(&recorder{})
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantSeed, o.Seed)
		})
	}

	_, err := ResolveOrder(event, &Params{Seed: "abc"}, fixed)
	assert.Error(t, err)
}

func TestRandomSeedRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := RandomSeed()
		assert.GreaterOrEqual(t, s, 1)
		assert.LessOrEqual(t, s, 10)
	}
}

func TestParseGeo(t *testing.T) {
	g, err := ParseGeo("46.5", "11.3", "")
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = ParseGeo("46.5", "11.3", "5000")
	require.NoError(t, err)
	assert.Equal(t, &GeoFilter{Latitude: 46.5, Longitude: 11.3, Radius: 5000}, g)

	_, err = ParseGeo("96", "11.3", "5000")
	assert.Error(t, err)
	_, err = ParseGeo("46", "11.3", "-1")
	assert.Error(t, err)
}

func TestGeoPredicateNeedsCoordinates(t *testing.T) {
	g := &GeoFilter{Latitude: 46.5, Longitude: 11.3, Radius: 1000}
	d := &entity.Descriptor{Name: "Thing", Fields: map[string]string{entity.FieldLatitude: ""}}
	_, err := g.Predicate(d)
	assert.Error(t, err)

	pred, err := g.Predicate(descriptor(t, "venue"))
	require.NoError(t, err)
	sql, args := render(pred)
	assert.Contains(t, sql, "earth_box(ll_to_earth($1, $2), $3) @> ll_to_earth((data#>>'{Latitude}')::double precision")
	assert.Len(t, args, 6)
}

func TestParsePolygon(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		check   func(t *testing.T, p *PolygonFilter)
		wantErr bool
	}{
		{
			name: "bbox contains",
			raw:  "bbc:11,46,12,47",
			check: func(t *testing.T, p *PolygonFilter) {
				assert.Equal(t, PolygonContains, p.Operation)
				assert.Equal(t, []float64{11, 46, 12, 47}, p.Envelope)
			},
		},
		{
			name: "bbox intersects",
			raw:  "BBI:(11 46, 12 47)",
			check: func(t *testing.T, p *PolygonFilter) {
				assert.Equal(t, PolygonIntersects, p.Operation)
			},
		},
		{
			name: "wkt",
			raw:  "POLYGON((11 46, 12 46, 12 47, 11 46))",
			check: func(t *testing.T, p *PolygonFilter) {
				assert.NotEmpty(t, p.WKT)
			},
		},
		{
			name: "multipolygon",
			raw:  "MULTIPOLYGON(((11 46, 12 46, 12 47, 11 46)),((1 1, 2 1, 2 2, 1 1)))",
			check: func(t *testing.T, p *PolygonFilter) {
				assert.NotEmpty(t, p.WKT)
			},
		},
		{
			name: "named boundary",
			raw:  "Municipality.Bozen",
			check: func(t *testing.T, p *PolygonFilter) {
				assert.Equal(t, &BoundaryRef{Kind: "municipality", Name: "Bozen"}, p.Boundary)
			},
		},
		{name: "open ring", raw: "POLYGON((11 46, 12 46, 12 47, 11 47))", wantErr: true},
		{name: "too few points", raw: "POLYGON((11 46, 12 46, 11 46))", wantErr: true},
		{name: "bad latitude", raw: "POLYGON((11 96, 12 46, 12 47, 11 96))", wantErr: true},
		{name: "unordered bbox", raw: "bbc:12,47,11,46", wantErr: true},
		{name: "garbage", raw: "circle", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolygon(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestPolygonPredicate(t *testing.T) {
	p, err := ParsePolygon("bbi:11,46,12,47")
	require.NoError(t, err)
	pred, err := p.Predicate(descriptor(t, "venue"))
	require.NoError(t, err)
	sql, args := render(pred)
	assert.Equal(t, "ST_Intersects(ST_MakeEnvelope($1, $2, $3, $4, 4326), ST_SetSRID(ST_MakePoint((data#>>'{Longitude}')::double precision, (data#>>'{Latitude}')::double precision), 4326))", sql)
	assert.Equal(t, []interface{}{11.0, 46.0, 12.0, 47.0}, args)
}

func TestFilterContext(t *testing.T) {
	fc, err := NewFilterContext("Event", true, "editor@example.com", []string{
		"Event_Read_eq(Source,'lts')",
		"Event_Update",
		"Event_Create_eq(Source,'idm')",
		"Event_Create_eq(Source,'lts')",
		"Venue_Delete",
	})
	require.NoError(t, err)

	assert.True(t, fc.Allowed(VerbUpdate))
	assert.True(t, fc.Allowed(VerbCreate))
	assert.False(t, fc.Allowed(VerbDelete))
	assert.Nil(t, fc.Constraint(VerbUpdate))
	assert.Equal(t, "or(eq(Source,'idm'),eq(Source,'lts'))", fc.Constraint(VerbCreate).String())
	assert.Equal(t, "editor@example.com", fc.Editor())

	sql, args := render(fc.ReadPredicate())
	assert.Equal(t, "(coalesce(data#>>'{_Meta,Reduced}', 'false') = 'false' AND data#>>'{Source}' = $1)", sql)
	assert.Equal(t, []interface{}{"lts"}, args)
}

func TestFilterContextAnonymous(t *testing.T) {
	var fc *FilterContext
	sql, _ := render(fc.ReadPredicate())
	assert.Equal(t, "coalesce(data#>>'{LicenseInfo,ClosedData}', 'false') = 'false'", sql)
	assert.Equal(t, AnonymousEditor, fc.Editor())
	assert.False(t, fc.Allowed(VerbCreate))

	writer, err := NewFilterContext("Event", true, "", []string{WriterRole})
	require.NoError(t, err)
	assert.True(t, writer.Allowed(VerbDelete))
	assert.Equal(t, AnonymousEditor, writer.Editor())

	_, err = NewFilterContext("Event", true, "", []string{"Event_Read_bogus("})
	assert.Error(t, err)
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams(MapValues{
		"idlist":     "a,b,a",
		"language":   "DE",
		"active":     "1",
		"odhactive":  "null",
		"pagenumber": "2",
		"enddate":    "2024-05-01",
		"seed":       "0",
		"fields":     "Detail.de.Title,Id",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.IDs)
	assert.Equal(t, "de", p.Language)
	assert.Equal(t, NullableBool{Value: true, Valid: true}, p.Active)
	assert.False(t, p.OdhActive.Valid)
	assert.Equal(t, 2, p.PageNumber)
	require.NotNil(t, p.End)
	assert.Equal(t, 23, p.End.Hour())
	assert.Equal(t, "0", p.Seed)

	tests := []struct {
		name   string
		values MapValues
	}{
		{"bad page", MapValues{"pagenumber": "0"}},
		{"bad bool", MapValues{"active": "maybe"}},
		{"bad language", MapValues{"language": "xx"}},
		{"bad date", MapValues{"begindate": "yesterday"}},
		{"nested tags", MapValues{"tagfilter": "and(a,or(b))"}},
		{"bad rawfilter", MapValues{"rawfilter": "drop(table)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParams(tt.values)
			require.Error(t, err)
			assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))
		})
	}
}

func TestParseDateUnixMillis(t *testing.T) {
	ts, err := ParseDate("1714521600000", "uxtimestamp", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1714521600000), ts.UnixMilli())
}

func TestBuild(t *testing.T) {
	event := descriptor(t, "event")

	pred, err := Build(event, &Params{
		IDs:    []string{"abc"},
		Active: NullableBool{Value: true, Valid: true},
	}, nil)
	require.NoError(t, err)
	sql, args := render(pred)
	assert.Equal(t, "(id = ANY($1) AND coalesce(data#>>'{Active}', 'false') = $2 AND coalesce(data#>>'{LicenseInfo,ClosedData}', 'false') = 'false')", sql)
	assert.Equal(t, []interface{}{[]string{"ABC"}, "true"}, args)
}

func TestBuildIDListIgnoresCase(t *testing.T) {
	pred, err := Build(descriptor(t, "sensor"), &Params{IDs: []string{"abc-Sensor", " X-1 "}}, nil)
	require.NoError(t, err)
	sql, args := render(pred)
	assert.True(t, strings.HasPrefix(sql, "(lower(id) = ANY($1) AND "), sql)
	assert.Equal(t, []string{"abc-sensor", "x-1"}, args[0])
}

func TestBuildSourceNull(t *testing.T) {
	pred, err := Build(descriptor(t, "event"), &Params{Sources: []string{"LTS", "null"}}, nil)
	require.NoError(t, err)
	sql, args := render(pred)
	assert.Equal(t, "((lower(data#>>'{Source}') = ANY($1) OR data#>>'{Source}' IS NULL) AND coalesce(data#>>'{LicenseInfo,ClosedData}', 'false') = 'false')", sql)
	assert.Equal(t, []interface{}{[]string{"lts"}}, args)
}

func TestBuildSearchAndDates(t *testing.T) {
	venue := descriptor(t, "venue")
	pred, err := Build(venue, &Params{SearchFilter: "50%", Language: "de"}, nil)
	require.NoError(t, err)
	sql, args := render(pred)
	assert.Equal(t, "((data#>>'{Shortname}' ILIKE $1 OR data#>>'{Detail,de,Title}' ILIKE $2) AND coalesce(data#>>'{LicenseInfo,ClosedData}', 'false') = 'false')", sql)
	assert.Equal(t, `%50\%%`, args[0])

	begin := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)
	_, err = Build(descriptor(t, "sensor"), &Params{Begin: &begin}, nil)
	assert.Error(t, err)

	pred, err = Build(descriptor(t, "event"), &Params{Begin: &begin}, nil)
	require.NoError(t, err)
	sql, _ = render(pred)
	assert.Contains(t, sql, "(data#>>'{DateEnd}')::timestamp >= $1")
}

func TestValidateGeometry(t *testing.T) {
	assert.NoError(t, ValidateGeometry("POINT (11.35 46.5)"))
	assert.NoError(t, ValidateGeometry("POLYGON((11 46, 12 46, 12 47, 11 46))"))
	assert.Error(t, ValidateGeometry("POINT (11.35)"))
	assert.Error(t, ValidateGeometry("POINT 11 46"))
	assert.Error(t, ValidateGeometry("LINESTRING(11 46, 12 47)"))
}
