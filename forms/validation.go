package forms

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/formrules/derived"
)

const (
	maxFields      = 200
	maxFieldIDLen  = 100
	maxFormNameLen = 200
)

// ValidateForm checks a form definition before it is stored or compiled.
// Returns an error if validation fails, nil if the form is valid
func ValidateForm(form *Form) error {
	if strings.TrimSpace(form.Name) == "" {
		return fmt.Errorf("form name cannot be empty")
	}
	if len(form.Name) > maxFormNameLen {
		return fmt.Errorf("form name length %d exceeds maximum of %d characters", len(form.Name), maxFormNameLen)
	}

	if len(form.Fields) == 0 {
		return fmt.Errorf("form must contain at least one field")
	}
	if len(form.Fields) > maxFields {
		return fmt.Errorf("form contains %d fields, maximum allowed is %d", len(form.Fields), maxFields)
	}

	seen := make(map[string]bool, len(form.Fields))
	for i, field := range form.Fields {
		if err := validateFieldID(field.ID); err != nil {
			return fmt.Errorf("field %d: invalid id %q: %w", i+1, field.ID, err)
		}
		if seen[field.ID] {
			return fmt.Errorf("duplicate field id %q", field.ID)
		}
		seen[field.ID] = true

		if err := validateField(field); err != nil {
			return fmt.Errorf("field %q: %w", field.ID, err)
		}
	}

	return nil
}

func validateFieldID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > maxFieldIDLen {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(id), maxFieldIDLen)
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("identifier cannot contain whitespace")
	}
	return nil
}

func validateField(field Field) error {
	if !field.Type.IsValid() {
		return fmt.Errorf("unknown type %q", field.Type)
	}

	if field.Type == FieldSelect || field.Type == FieldRadio {
		if len(field.Options) == 0 {
			return fmt.Errorf("%s field needs at least one option", field.Type)
		}
	}

	if field.Type == FieldDerived {
		if field.Derived == nil {
			return fmt.Errorf("derived field needs a derived config")
		}
		if err := derived.Validate(*field.Derived); err != nil {
			return fmt.Errorf("invalid derived config: %w", err)
		}
		if target := field.Derived.Then.TargetFieldID; target != field.ID {
			return fmt.Errorf("derived config targets %q, must target the field itself", target)
		}
		if !field.Derived.Else.IsConstant() && field.Derived.Else.Action.TargetFieldID != field.ID {
			return fmt.Errorf("else action targets %q, must target the field itself", field.Derived.Else.Action.TargetFieldID)
		}
		return nil
	}
	if field.Derived != nil {
		return fmt.Errorf("only derived fields may carry a derived config")
	}

	v := field.Validation
	if v == nil {
		return nil
	}

	if v.LengthEnabled {
		if v.MinLength != nil && *v.MinLength < 0 {
			return fmt.Errorf("min length cannot be negative")
		}
		if v.MaxLength != nil && *v.MaxLength < 1 {
			return fmt.Errorf("max length must be at least 1")
		}
		if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
			return fmt.Errorf("min length %d is greater than max length %d", *v.MinLength, *v.MaxLength)
		}
	}

	if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
		return fmt.Errorf("min %v is greater than max %v", *v.Min, *v.Max)
	}

	if v.Regex != "" {
		if _, err := regexp.Compile(v.Regex); err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
	}

	for rule := range v.PasswordRules {
		if !isPasswordRule(rule) {
			return fmt.Errorf("unknown password rule %q", rule)
		}
	}

	return nil
}

func isPasswordRule(name string) bool {
	switch name {
	case PasswordMin8, PasswordIncludeNumber, PasswordIncludeUppercase, PasswordIncludeSpecial:
		return true
	}
	return false
}
