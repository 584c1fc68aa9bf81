package filter

import (
	"strconv"
	"strings"

	"github.com/fastygo/opendatahub/domain"
)

// ValidateWKT checks that raw is a well-formed POLYGON or MULTIPOLYGON with closed rings
// of valid longitude/latitude pairs.
func ValidateWKT(raw string) error {
	s := strings.TrimSpace(raw)
	upper := strings.ToUpper(s)

	var depth int
	switch {
	case strings.HasPrefix(upper, "MULTIPOLYGON"):
		s, depth = s[len("MULTIPOLYGON"):], 3
	case strings.HasPrefix(upper, "POLYGON"):
		s, depth = s[len("POLYGON"):], 2
	default:
		return domain.Invalidf("geometry must be POLYGON or MULTIPOLYGON")
	}

	rest, err := wktGroup(strings.TrimSpace(s), depth)
	if err != nil {
		return err
	}
	if strings.TrimSpace(rest) != "" {
		return domain.Invalidf("invalid geometry: trailing input %q", rest)
	}
	return nil
}

// ValidateGeometry accepts a POINT or any geometry ValidateWKT accepts.
func ValidateGeometry(raw string) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToUpper(s), "POINT") {
		body := strings.TrimSpace(s[len("POINT"):])
		if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
			return domain.Invalidf("invalid geometry: malformed point")
		}
		_, err := parsePoint(body[1 : len(body)-1])
		return err
	}
	return ValidateWKT(s)
}

// wktGroup consumes "(item, item, ...)" where items are groups of depth-1, or a ring at depth 1.
func wktGroup(s string, depth int) (string, error) {
	if !strings.HasPrefix(s, "(") {
		return "", domain.Invalidf("invalid geometry: expected '('")
	}
	if depth == 1 {
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return "", domain.Invalidf("invalid geometry: unterminated ring")
		}
		if err := validateRing(s[1:end]); err != nil {
			return "", err
		}
		return s[end+1:], nil
	}

	s = strings.TrimSpace(s[1:])
	for {
		rest, err := wktGroup(s, depth-1)
		if err != nil {
			return "", err
		}
		s = strings.TrimSpace(rest)
		if strings.HasPrefix(s, ",") {
			s = strings.TrimSpace(s[1:])
			continue
		}
		if !strings.HasPrefix(s, ")") {
			return "", domain.Invalidf("invalid geometry: expected ')'")
		}
		return s[1:], nil
	}
}

func validateRing(body string) error {
	points := strings.Split(body, ",")
	if len(points) < 4 {
		return domain.Invalidf("invalid geometry: ring needs at least 4 points")
	}
	coords := make([][2]float64, len(points))
	for i, pt := range points {
		c, err := parsePoint(pt)
		if err != nil {
			return err
		}
		coords[i] = c
	}
	if coords[0] != coords[len(coords)-1] {
		return domain.Invalidf("invalid geometry: ring is not closed")
	}
	return nil
}

func parsePoint(pt string) ([2]float64, error) {
	fields := strings.Fields(pt)
	if len(fields) != 2 {
		return [2]float64{}, domain.Invalidf("invalid geometry: point %q", strings.TrimSpace(pt))
	}
	lng, err1 := strconv.ParseFloat(fields[0], 64)
	lat, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil || lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return [2]float64{}, domain.Invalidf("invalid geometry: point %q", strings.TrimSpace(pt))
	}
	return [2]float64{lng, lat}, nil
}
