package domain

// Tag is a row of the shared tag store.
type Tag struct {
	ID      string            `json:"Id"`
	Source  string            `json:"Source"`
	Types   []string          `json:"Types"`
	TagName map[string]string `json:"TagName"`
	Active  bool              `json:"Active"`
}

// DocumentTag is a resolved tag reference attached to a document.
type DocumentTag struct {
	ID       string            `json:"Id"`
	Source   string            `json:"Source"`
	Type     string            `json:"Type,omitempty"`
	Name     string            `json:"Name,omitempty"`
	TagEntry map[string]string `json:"TagEntry,omitempty"`
}

// PreferredTagType wins when a tag carries several types.
const PreferredTagType = "ltscategory"

// PrimaryType picks the type exposed on a resolved tag.
func (t Tag) PrimaryType() string {
	switch len(t.Types) {
	case 0:
		return ""
	case 1:
		return t.Types[0]
	}
	for _, typ := range t.Types {
		if typ == PreferredTagType {
			return typ
		}
	}
	return t.Types[0]
}

// DisplayName returns the english name, falling back to the first non-empty one in language order.
func (t Tag) DisplayName() string {
	if name := t.TagName["en"]; name != "" {
		return name
	}
	for _, lang := range Languages {
		if name := t.TagName[lang]; name != "" {
			return name
		}
	}
	return ""
}
