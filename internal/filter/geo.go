package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
)

// GeoFilter is a circular search region in meters around a point.
type GeoFilter struct {
	Latitude  float64
	Longitude float64
	Radius    float64
}

// ParseGeo returns nil unless latitude, longitude and radius are all present.
func ParseGeo(lat, lng, radius string) (*GeoFilter, error) {
	lat, lng, radius = strings.TrimSpace(lat), strings.TrimSpace(lng), strings.TrimSpace(radius)
	if lat == "" || lng == "" || radius == "" {
		return nil, nil
	}
	g := &GeoFilter{}
	var err error
	if g.Latitude, err = strconv.ParseFloat(lat, 64); err != nil || g.Latitude < -90 || g.Latitude > 90 {
		return nil, domain.Invalidf("invalid latitude %q", lat)
	}
	if g.Longitude, err = strconv.ParseFloat(lng, 64); err != nil || g.Longitude < -180 || g.Longitude > 180 {
		return nil, domain.Invalidf("invalid longitude %q", lng)
	}
	if g.Radius, err = strconv.ParseFloat(radius, 64); err != nil || g.Radius <= 0 {
		return nil, domain.Invalidf("invalid radius %q", radius)
	}
	return g, nil
}

type pointColumns struct {
	lat string
	lng string
}

func documentPoint(d *entity.Descriptor) (pointColumns, error) {
	lat, lng := d.Path(entity.FieldLatitude), d.Path(entity.FieldLongitude)
	if lat == "" || lng == "" {
		return pointColumns{}, domain.Invalidf("%s does not support geographic filters", d.Name)
	}
	return pointColumns{
		lat: "(" + TextPath(lat) + ")::double precision",
		lng: "(" + TextPath(lng) + ")::double precision",
	}, nil
}

// Predicate restricts to documents inside the radius.
func (g *GeoFilter) Predicate(d *entity.Descriptor) (Predicate, error) {
	pt, err := documentPoint(d)
	if err != nil {
		return nil, err
	}
	target := fmt.Sprintf("ll_to_earth(%s, %s)", pt.lat, pt.lng)
	return Expr(
		"earth_box(ll_to_earth(%s, %s), %s) @> "+target+" AND earth_distance(ll_to_earth(%s, %s), "+target+") < %s",
		g.Latitude, g.Longitude, g.Radius, g.Latitude, g.Longitude, g.Radius,
	), nil
}

// DistanceOrder is the ascending distance ordering expression.
func (g *GeoFilter) DistanceOrder(d *entity.Descriptor) (Predicate, error) {
	pt, err := documentPoint(d)
	if err != nil {
		return nil, err
	}
	return Expr(fmt.Sprintf("earth_distance(ll_to_earth(%%s, %%s), ll_to_earth(%s, %s))", pt.lat, pt.lng), g.Latitude, g.Longitude), nil
}

// Polygon operations.
const (
	PolygonContains   = "contains"
	PolygonIntersects = "intersects"
)

// PolygonFilter is one of a WKT geometry, a bounding box or a named boundary.
type PolygonFilter struct {
	Operation string
	WKT       string
	Envelope  []float64
	Boundary  *BoundaryRef
}

// BoundaryRef names a stored administrative boundary, e.g. "municipality.Bozen".
type BoundaryRef struct {
	Kind string
	Name string
}

var boundaryPattern = regexp.MustCompile(`^([A-Za-z]+)\.(.+)$`)

// ParsePolygon parses "bbc:minLng,minLat,maxLng,maxLat", "bbi:..." , WKT, or "<kind>.<name>".
func ParsePolygon(raw string) (*PolygonFilter, error) {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)

	switch {
	case strings.HasPrefix(lower, "bbc:"), strings.HasPrefix(lower, "bbi:"):
		op := PolygonContains
		if strings.HasPrefix(lower, "bbi:") {
			op = PolygonIntersects
		}
		coords, err := parseCoordinates(raw[4:])
		if err != nil {
			return nil, err
		}
		if len(coords) != 4 {
			return nil, domain.Invalidf("bounding box needs two coordinate pairs")
		}
		if coords[0] >= coords[2] || coords[1] >= coords[3] {
			return nil, domain.Invalidf("bounding box corners are not ordered")
		}
		return &PolygonFilter{Operation: op, Envelope: coords}, nil

	case strings.HasPrefix(lower, "polygon"), strings.HasPrefix(lower, "multipolygon"):
		if err := ValidateWKT(raw); err != nil {
			return nil, err
		}
		return &PolygonFilter{Operation: PolygonContains, WKT: raw}, nil
	}

	if m := boundaryPattern.FindStringSubmatch(raw); m != nil {
		return &PolygonFilter{
			Operation: PolygonContains,
			Boundary:  &BoundaryRef{Kind: strings.ToLower(m[1]), Name: strings.TrimSpace(m[2])},
		}, nil
	}
	return nil, domain.Invalidf("invalid polygon %q", raw)
}

func parseCoordinates(raw string) ([]float64, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "()")
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, domain.Invalidf("invalid coordinate %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}

// Predicate compiles the polygon test against the document point.
func (p *PolygonFilter) Predicate(d *entity.Descriptor) (Predicate, error) {
	pt, err := documentPoint(d)
	if err != nil {
		return nil, err
	}
	point := fmt.Sprintf("ST_SetSRID(ST_MakePoint(%s, %s), 4326)", pt.lng, pt.lat)
	fn := "ST_Contains"
	if p.Operation == PolygonIntersects {
		fn = "ST_Intersects"
	}

	switch {
	case p.Envelope != nil:
		return Expr(fn+"(ST_MakeEnvelope(%s, %s, %s, %s, 4326), "+point+")",
			p.Envelope[0], p.Envelope[1], p.Envelope[2], p.Envelope[3]), nil
	case p.WKT != "":
		return Expr(fn+"(ST_GeomFromText(%s, 4326), "+point+")", p.WKT), nil
	case p.Boundary != nil:
		return Expr(fn+"((SELECT geometry FROM shapes WHERE type = %s AND (id = %s OR lower(name) = lower(%s)) LIMIT 1), "+point+")",
			p.Boundary.Kind, p.Boundary.Name, p.Boundary.Name), nil
	}
	return nil, domain.Invalidf("empty polygon filter")
}
