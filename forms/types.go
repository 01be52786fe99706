package forms

import (
	"errors"
	"time"

	"github.com/liamcoop/formrules/derived"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// FieldType is the input widget of a field
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldNumber   FieldType = "number"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldRadio    FieldType = "radio"
	FieldCheckbox FieldType = "checkbox"
	FieldDate     FieldType = "date"
	FieldPassword FieldType = "password"
	FieldDerived  FieldType = "derived"
)

// IsValid reports whether t is a known field type
func (t FieldType) IsValid() bool {
	switch t {
	case FieldText, FieldEmail, FieldNumber, FieldTextarea, FieldSelect,
		FieldRadio, FieldCheckbox, FieldDate, FieldPassword, FieldDerived:
		return true
	}
	return false
}

// Password rule keys accepted in FieldValidation.PasswordRules
const (
	PasswordMin8             = "min8"
	PasswordIncludeNumber    = "includeNumber"
	PasswordIncludeUppercase = "includeUppercase"
	PasswordIncludeSpecial   = "includeSpecial"
)

// FieldValidation holds the validation settings of a field. Length bounds
// only apply when LengthEnabled is set.
type FieldValidation struct {
	Required      bool            `json:"required,omitempty"`
	LengthEnabled bool            `json:"lengthEnabled,omitempty"`
	MinLength     *int            `json:"minLength,omitempty"`
	MaxLength     *int            `json:"maxLength,omitempty"`
	Min           *float64        `json:"min,omitempty"`
	Max           *float64        `json:"max,omitempty"`
	Regex         string          `json:"regex,omitempty"`
	Email         bool            `json:"email,omitempty"`
	PasswordRules map[string]bool `json:"passwordRules,omitempty"`
}

// Field is one input of a form. Derived fields carry a conditional config
// instead of accepting user input.
type Field struct {
	ID           string           `json:"id"`
	Label        string           `json:"label"`
	Type         FieldType        `json:"type"`
	Required     bool             `json:"required,omitempty"`
	Placeholder  string           `json:"placeholder,omitempty"`
	HelpText     string           `json:"helpText,omitempty"`
	Options      []string         `json:"options,omitempty"`
	DefaultValue string           `json:"defaultValue,omitempty"`
	Validation   *FieldValidation `json:"validation,omitempty"`
	Derived      *derived.Config  `json:"derivedConfig,omitempty"`
}

// Form is a versioned form definition
type Form struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Fields    []Field   `json:"fields"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Field returns the field with the given id
func (f *Form) Field(id string) (Field, bool) {
	for _, field := range f.Fields {
		if field.ID == id {
			return field, true
		}
	}
	return Field{}, false
}

// DerivedFields returns the fields computed from a derived config, in form order
func (f *Form) DerivedFields() []Field {
	var out []Field
	for _, field := range f.Fields {
		if field.Type == FieldDerived && field.Derived != nil {
			out = append(out, field)
		}
	}
	return out
}

// FieldError reports a value that failed a field's validation
type FieldError struct {
	FieldID string `json:"fieldId"`
	Message string `json:"message"`
}
