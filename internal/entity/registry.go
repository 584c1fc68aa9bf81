package entity

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fastygo/opendatahub/domain"
)

// Registry holds the descriptors of every exposed entity type.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]*Descriptor
	byName map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string]*Descriptor),
		byName: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor; type, name and table are mandatory and must be unique.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Type == "" || d.Name == "" || d.Table == "" {
		return fmt.Errorf("descriptor requires type, name and table")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byType[d.Type]; exists {
		return fmt.Errorf("entity type %s already registered", d.Type)
	}
	r.byType[d.Type] = d
	r.byName[strings.ToLower(d.Name)] = d
	return nil
}

// Get looks a descriptor up by its type discriminator.
func (r *Registry) Get(typ string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.byType[strings.ToLower(typ)]; ok {
		return d, nil
	}
	return nil, domain.ErrUnknownEntity
}

// ByName looks a descriptor up by its route name, case-insensitively.
func (r *Registry) ByName(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.byName[strings.ToLower(name)]; ok {
		return d, nil
	}
	return nil, domain.ErrUnknownEntity
}

// All returns the descriptors sorted by name.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.byType))
	for _, d := range r.byType {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Defaults returns a registry with the built-in entity types.
func Defaults() *Registry {
	r := NewRegistry()
	for _, d := range builtin() {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

func builtin() []*Descriptor {
	return []*Descriptor{
		{
			Type:  "announcement",
			Name:  "Announcement",
			Table: "announcements",
			Fields: map[string]string{
				FieldBegin:     "StartTime",
				FieldEnd:       "EndTime",
				FieldLatitude:  "Geo.position.Latitude",
				FieldLongitude: "Geo.position.Longitude",
				FieldGeometry:  "Geo.position.Geometry",
			},
			DefaultSort:     "Shortname",
			IDCase:          IDLower,
			IDPrefix:        "urn:announcements:",
			DefaultPageSize: 25,
			MaxPageSize:     1024,
			SearchFields:    []string{"Shortname", "Detail.{lang}.Title"},
			GeoShaped:       true,
			PublishRules: []PublishRule{
				{Channel: "idm-marketplace", RequireSmgActive: true},
			},
		},
		{
			Type:  "event",
			Name:  "Event",
			Table: "events",
			Fields: map[string]string{
				FieldBegin: "DateBegin",
				FieldEnd:   "DateEnd",
			},
			DefaultSort:     "DateBegin",
			IDCase:          IDUpper,
			DefaultPageSize: 10,
			MaxPageSize:     1024,
			SearchFields:    []string{"Shortname", "Detail.{lang}.Title"},
			SupportsReduced: true,
			PublishRules: []PublishRule{
				{Channel: "idm-marketplace", Sources: []string{"lts", "drin", "trevilab"}, RequireSmgActive: true},
			},
		},
		{
			Type:            "venue",
			Name:            "Venue",
			Table:           "venues",
			DefaultSort:     "Shortname",
			IDCase:          IDUpper,
			DefaultPageSize: 10,
			MaxPageSize:     1024,
			SearchFields:    []string{"Shortname", "Detail.{lang}.Title"},
			GeoShaped:       true,
			SupportsReduced: true,
			PublishRules: []PublishRule{
				{Channel: "idm-marketplace", Sources: []string{"lts"}, RequireSmgActive: true},
			},
		},
		{
			Type:            "odhactivitypoi",
			Name:            "ODHActivityPoi",
			Table:           "smgpois",
			DefaultSort:     "Shortname",
			IDCase:          IDLower,
			DefaultPageSize: 10,
			MaxPageSize:     1024,
			SearchFields:    []string{"Shortname", "Detail.{lang}.Title"},
			GeoShaped:       true,
			SupportsReduced: true,
			PublishRules: []PublishRule{
				{
					Channel:          "idm-marketplace",
					Sources:          []string{"lts", "suedtirolwein", "archapp"},
					RequireSmgActive: true,
					ExcludeAnyTag:    []string{"weinkellereien"},
				},
				{Channel: "suedtirol.info", RequireSmgActive: true},
			},
		},
		{
			Type:            "sensor",
			Name:            "Sensor",
			Table:           "sensors",
			DefaultSort:     "Id",
			IDCase:          IDKeep,
			DefaultPageSize: 25,
			MaxPageSize:     1024,
			SearchFields:    []string{"Shortname", "Mapping.{lang}.Name"},
			GeoShaped:       true,
			HardDelete:      true,
		},
		{
			Type:  "webcam",
			Name:  "WebcamInfo",
			Table: "webcams",
			Fields: map[string]string{
				FieldImages: "WebCamProperties",
			},
			DefaultSort:     "Shortname",
			IDCase:          IDUpper,
			DefaultPageSize: 10,
			MaxPageSize:     1024,
			SearchFields:    []string{"Shortname", "Detail.{lang}.Title"},
			GeoShaped:       true,
		},
	}
}
