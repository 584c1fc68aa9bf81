package upsert

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/filter"
	"github.com/fastygo/opendatahub/internal/projection"
)

// documentRules is the validated view of a document.
type documentRules struct {
	ID        string   `validate:"required,max=256"`
	Source    string   `validate:"omitempty,max=128"`
	Latitude  *float64 `validate:"omitempty,latitude"`
	Longitude *float64 `validate:"omitempty,longitude"`
	Geometry  string   `validate:"omitempty,wkt"`
	License   string   `validate:"omitempty,max=64"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("wkt", func(fl validator.FieldLevel) bool {
		return filter.ValidateGeometry(fl.Field().String()) == nil
	})
	return v
}

// validateDocument returns one message per violated rule; nil when the document is valid.
func (uc *UseCase) validateDocument(d *entity.Descriptor, doc *domain.Document) []string {
	m, err := doc.Map()
	if err != nil {
		return []string{"document is not valid json: " + err.Error()}
	}

	var msgs []string
	rules := documentRules{ID: doc.ID, Source: doc.SourceValue()}
	if doc.LicenseInfo != nil {
		rules.License = doc.LicenseInfo.License
	}

	coords := []struct {
		field  string
		target **float64
	}{
		{entity.FieldLatitude, &rules.Latitude},
		{entity.FieldLongitude, &rules.Longitude},
	}
	for _, c := range coords {
		field, target := c.field, c.target
		raw, ok := filter.Lookup(m, d.Path(field))
		if !ok || raw == nil || raw == "" {
			continue
		}
		f, ok := projection.Float(raw)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("%s must be numeric", d.Path(field)))
			continue
		}
		*target = &f
	}

	if raw, ok := filter.Lookup(m, d.Path(entity.FieldGeometry)); ok && raw != nil {
		s, isString := raw.(string)
		if !isString {
			msgs = append(msgs, fmt.Sprintf("%s must be a WKT string", d.Path(entity.FieldGeometry)))
		}
		rules.Geometry = s
	}

	if err := uc.validate.Struct(rules); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, ruleMessage(d, fe))
			}
		} else {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

func ruleMessage(d *entity.Descriptor, fe validator.FieldError) string {
	field := fe.Field()
	switch field {
	case "Latitude", "Longitude", "Geometry":
		field = d.Path(field)
	case "ID":
		field = domain.FieldID
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	case "wkt":
		return field + " is not a valid geometry"
	}
	return fmt.Sprintf("%s is not a valid %s", field, fe.Tag())
}

func invalidDocument(msgs []string) error {
	return domain.NewError(domain.ErrCodeInvalid, strings.Join(msgs, "; "))
}
