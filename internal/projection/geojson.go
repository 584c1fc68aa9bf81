package projection

import (
	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/filter"
)

// MediaTypeGeoJSON is the Accept value that selects GeoJSON output.
const MediaTypeGeoJSON = "application/geo+json"

// Geometry is a GeoJSON Point.
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Feature is a GeoJSON feature wrapping one document.
type Feature struct {
	Type       string                 `json:"type"`
	ID         interface{}            `json:"id,omitempty"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection wraps a page of documents.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// ToFeature reads the point of doc from the descriptor coordinates; geometry is null without one.
// Coordinates are taken from the stored document, not from a field-reduced projection.
func ToFeature(d *entity.Descriptor, stored, properties map[string]interface{}) Feature {
	f := Feature{Type: "Feature", ID: stored[domain.FieldID], Properties: properties}
	latRaw, okLat := filter.Lookup(stored, d.Path(entity.FieldLatitude))
	lngRaw, okLng := filter.Lookup(stored, d.Path(entity.FieldLongitude))
	if !okLat || !okLng {
		return f
	}
	lat, okLat := Float(latRaw)
	lng, okLng := Float(lngRaw)
	if okLat && okLng {
		f.Geometry = &Geometry{Type: "Point", Coordinates: [2]float64{lng, lat}}
	}
	return f
}

// NewFeatureCollection wraps features; an empty page yields an empty, non-null list.
func NewFeatureCollection(features []Feature) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}
