package entity

import (
	"strings"

	"github.com/google/uuid"

	"github.com/fastygo/opendatahub/domain"
)

// IDCase is the canonical casing applied to document ids of a type.
type IDCase int

const (
	IDKeep IDCase = iota
	IDUpper
	IDLower
)

// Logical field names resolved through Descriptor.Path.
const (
	FieldSource     = "Source"
	FieldActive     = "Active"
	FieldOdhActive  = "OdhActive"
	FieldLastChange = "LastChange"
	FieldBegin      = "Begin"
	FieldEnd        = "End"
	FieldLatitude   = "Latitude"
	FieldLongitude  = "Longitude"
	FieldImages     = "Images"
	FieldGeometry   = "Geometry"
)

var defaultFields = map[string]string{
	FieldSource:     "Source",
	FieldActive:     "Active",
	FieldOdhActive:  "SmgActive",
	FieldLastChange: "LastChange",
	FieldLatitude:   "Latitude",
	FieldLongitude:  "Longitude",
	FieldImages:     "ImageGallery",
	FieldGeometry:   "Geometry",
}

// PublishRule adds Channel to PublishedOn when the document matches.
type PublishRule struct {
	Channel          string
	Sources          []string
	RequireSmgActive bool
	RequireAnyTag    []string
	ExcludeAnyTag    []string
}

// Descriptor parameterizes the generic pipelines for one entity type.
type Descriptor struct {
	Type            string
	Name            string
	Table           string
	Fields          map[string]string
	DefaultSort     string
	IDCase          IDCase
	IDPrefix        string
	DefaultPageSize int
	MaxPageSize     int
	// SearchFields are dotted paths; "{lang}" expands to each language.
	SearchFields    []string
	GeoShaped       bool
	SupportsReduced bool
	HardDelete      bool
	PublishRules    []PublishRule
}

// Path resolves a logical field to a dotted document path; "" when the type lacks it.
func (d *Descriptor) Path(logical string) string {
	if p, ok := d.Fields[logical]; ok {
		return p
	}
	return defaultFields[logical]
}

// CanonicalID applies the id casing rule.
func (d *Descriptor) CanonicalID(id string) string {
	id = strings.TrimSpace(id)
	switch d.IDCase {
	case IDUpper:
		return strings.ToUpper(id)
	case IDLower:
		return strings.ToLower(id)
	default:
		return id
	}
}

// NewID generates a fresh canonical id.
func (d *Descriptor) NewID() string {
	return d.CanonicalID(d.IDPrefix + uuid.NewString())
}

// ReducedID returns the id of the shadow copy.
func (d *Descriptor) ReducedID(id string) string {
	id = d.CanonicalID(id)
	if strings.HasSuffix(strings.ToUpper(id), domain.ReducedSuffix) {
		return id
	}
	return id + domain.ReducedSuffix
}

// PageSize clamps a requested page size to the type bounds.
func (d *Descriptor) PageSize(requested int) int {
	def := d.DefaultPageSize
	if def <= 0 {
		def = 25
	}
	max := d.MaxPageSize
	if max <= 0 {
		max = 1024
	}
	if requested <= 0 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}

// SelfLink is the relative link stored under Self.
func (d *Descriptor) SelfLink(id string) string {
	return d.Name + "/" + id
}
