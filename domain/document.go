package domain

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"
)

// Document field names shared by every entity type.
const (
	FieldID          = "Id"
	FieldSource      = "Source"
	FieldActive      = "Active"
	FieldSmgActive   = "SmgActive"
	FieldLicenseInfo = "LicenseInfo"
	FieldMeta        = "_Meta"
	FieldTagIds      = "TagIds"
	FieldTags        = "Tags"
	FieldHasLanguage = "HasLanguage"
	FieldPublishedOn = "PublishedOn"
	FieldLastChange  = "LastChange"
	FieldFirstImport = "FirstImport"
	FieldSelf        = "Self"
)

// ReducedSuffix marks the id of an access-restricted shadow copy.
const ReducedSuffix = "_REDUCED"

// Document is one stored entity instance. The fields every entity carries are typed,
// everything else travels untouched in Extra.
type Document struct {
	ID          string
	Source      *string
	Active      bool
	SmgActive   bool
	LicenseInfo *LicenseInfo
	Meta        *Metadata
	TagIds      []string
	Tags        []DocumentTag
	HasLanguage []string
	PublishedOn []string
	LastChange  *time.Time
	FirstImport *time.Time

	Extra map[string]json.RawMessage
}

// LicenseInfo describes the license a document is published under.
type LicenseInfo struct {
	License       string `json:"License"`
	LicenseHolder string `json:"LicenseHolder"`
	Author        string `json:"Author"`
	ClosedData    bool   `json:"ClosedData"`
}

// DefaultLicense is applied to documents created without license information.
func DefaultLicense() *LicenseInfo {
	return &LicenseInfo{License: "CC0", ClosedData: false}
}

// Metadata is the audit block stored under _Meta.
type Metadata struct {
	ID         string      `json:"Id"`
	Type       string      `json:"Type"`
	Source     string      `json:"Source,omitempty"`
	LastUpdate *time.Time  `json:"LastUpdate,omitempty"`
	Reduced    bool        `json:"Reduced"`
	UpdateInfo *UpdateInfo `json:"UpdateInfo,omitempty"`
}

// UpdateInfo records who last wrote a document and through which channel.
type UpdateInfo struct {
	UpdatedBy    string `json:"UpdatedBy,omitempty"`
	UpdateSource string `json:"UpdateSource,omitempty"`
}

// SourceValue returns the provenance tag or "" when absent.
func (d *Document) SourceValue() string {
	if d == nil || d.Source == nil {
		return ""
	}
	return *d.Source
}

// SetSource sets the provenance tag; an empty value clears it.
func (d *Document) SetSource(source string) {
	if source == "" {
		d.Source = nil
		return
	}
	d.Source = &source
}

// Reduced reports whether the document is a shadow copy.
func (d *Document) Reduced() bool {
	return d != nil && d.Meta != nil && d.Meta.Reduced
}

// Set stores an arbitrary extra field.
func (d *Document) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if d.Extra == nil {
		d.Extra = make(map[string]json.RawMessage)
	}
	d.Extra[key] = raw
	return nil
}

// Clone returns a deep copy through the JSON codec.
func (d *Document) Clone() (*Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Map returns a generic view of the document. Numbers are kept as json.Number.
func (d *Document) Map() (map[string]interface{}, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return DecodeMap(raw)
}

// DecodeMap decodes a JSON object keeping numbers as json.Number.
func DecodeMap(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// DocumentFromMap converts a generic map into a Document.
func DocumentFromMap(m map[string]interface{}) (*Document, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// MarshalJSON writes typed and extra fields into one object with sorted keys.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Extra)+12)
	for k, v := range d.Extra {
		out[k] = v
	}
	out[FieldID] = d.ID
	out[FieldActive] = d.Active
	out[FieldSmgActive] = d.SmgActive
	if d.Source != nil {
		out[FieldSource] = *d.Source
	}
	if d.LicenseInfo != nil {
		out[FieldLicenseInfo] = d.LicenseInfo
	}
	if d.Meta != nil {
		out[FieldMeta] = d.Meta
	}
	if d.TagIds != nil {
		out[FieldTagIds] = d.TagIds
	}
	if d.Tags != nil {
		out[FieldTags] = d.Tags
	}
	if d.HasLanguage != nil {
		out[FieldHasLanguage] = d.HasLanguage
	}
	if d.PublishedOn != nil {
		out[FieldPublishedOn] = d.PublishedOn
	}
	if d.LastChange != nil {
		out[FieldLastChange] = d.LastChange
	}
	if d.FirstImport != nil {
		out[FieldFirstImport] = d.FirstImport
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known fields from the extra bag.
func (d *Document) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*d = Document{}
	decoders := map[string]interface{}{
		FieldID:          &d.ID,
		FieldActive:      &d.Active,
		FieldSmgActive:   &d.SmgActive,
		FieldSource:      &d.Source,
		FieldLicenseInfo: &d.LicenseInfo,
		FieldMeta:        &d.Meta,
		FieldTagIds:      &d.TagIds,
		FieldTags:        &d.Tags,
		FieldHasLanguage: &d.HasLanguage,
		FieldPublishedOn: &d.PublishedOn,
		FieldLastChange:  &d.LastChange,
		FieldFirstImport: &d.FirstImport,
	}

	for key, raw := range fields {
		target, known := decoders[key]
		if !known {
			if d.Extra == nil {
				d.Extra = make(map[string]json.RawMessage)
			}
			d.Extra[key] = append(json.RawMessage(nil), raw...)
			continue
		}
		if isJSONNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return WrapError(ErrCodeInvalid, "invalid field "+key, err)
		}
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
