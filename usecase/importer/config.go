package importer

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fastygo/opendatahub/domain"
)

const (
	ModeFull  = "full"
	ModeDelta = "delta"

	PolicyDisable = "disable"
	PolicyDelete  = "delete"
	PolicyKeep    = "keep"
)

// LicenseConfig is stamped on every document of a feed.
type LicenseConfig struct {
	License       string `yaml:"license" validate:"required"`
	LicenseHolder string `yaml:"holder"`
	Author        string `yaml:"author"`
	ClosedData    bool   `yaml:"closed"`
}

// Feed describes one upstream source and how its records become documents.
type Feed struct {
	Name      string `yaml:"name" validate:"required,max=64"`
	Entity    string `yaml:"entity" validate:"required"`
	Source    string `yaml:"source" validate:"required"`
	Interface string `yaml:"interface"`
	URL       string `yaml:"url" validate:"required,url"`
	// ItemURL fetches a single record; "{id}" is replaced by the upstream id.
	ItemURL string `yaml:"itemurl" validate:"omitempty,url"`
	// SinceParam is the query parameter carrying the delta timestamp.
	SinceParam   string            `yaml:"sinceparam"`
	Items        string            `yaml:"items"`
	ID           string            `yaml:"id" validate:"required"`
	IDPrefix     string            `yaml:"idprefix"`
	Mode         string            `yaml:"mode" validate:"omitempty,oneof=full delta"`
	DeletePolicy string            `yaml:"deletepolicy" validate:"omitempty,oneof=disable delete keep"`
	Schedule     string            `yaml:"schedule"`
	License      *LicenseConfig    `yaml:"license"`
	Tags         []string          `yaml:"tags"`
	Mapping      map[string]string `yaml:"mapping" validate:"required,min=1"`
	Headers      map[string]string `yaml:"headers"`
}

type feedFile struct {
	Feeds []Feed `yaml:"feeds" validate:"dive"`
}

// LoadFeeds reads and validates a feed definition file.
func LoadFeeds(path string) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds: %w", err)
	}
	return ParseFeeds(data)
}

// ParseFeeds decodes feed definitions and applies defaults. Names must be unique and every
// mapping expression must compile.
func ParseFeeds(data []byte) ([]Feed, error) {
	var file feedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, domain.WrapError(domain.ErrCodeInvalid, "invalid feed file", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, domain.WrapError(domain.ErrCodeInvalid, "invalid feed definition", err)
	}

	seen := make(map[string]struct{}, len(file.Feeds))
	for i := range file.Feeds {
		f := &file.Feeds[i]
		f.Name = strings.TrimSpace(f.Name)
		if _, dup := seen[f.Name]; dup {
			return nil, domain.Invalidf("duplicate feed %q", f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Mode == "" {
			f.Mode = ModeFull
		}
		if f.DeletePolicy == "" {
			f.DeletePolicy = PolicyDisable
		}
		if f.Interface == "" {
			f.Interface = f.Source + "." + f.Name
		}
		f.Source = strings.ToLower(f.Source)
		if _, err := NewMappingParser(*f); err != nil {
			return nil, err
		}
	}
	return file.Feeds, nil
}

// FindFeed looks a feed up by name.
func FindFeed(feeds []Feed, name string) (Feed, error) {
	for _, f := range feeds {
		if f.Name == name {
			return f, nil
		}
	}
	return Feed{}, domain.ErrFeedNotFound
}
