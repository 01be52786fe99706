package forms

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/spf13/cast"

	"github.com/liamcoop/formrules/derived"
)

// validationCostLimit bounds a single check; regex checks on long input are
// the expensive case.
const validationCostLimit = 100000

const emailPattern = `^[^\s@]+@[^\s@]+\.[^\s@]+$`

// NewValidationEnv creates the CEL environment field checks compile against.
// Every check sees the same variables, derived from one raw value:
//
//	value   the value as text ("" when absent)
//	present whether the value is non-blank (checked, for checkboxes)
//	numeric whether the value coerces to a finite number
//	number  that number, 0 when not numeric
//	date    whether the value coerces to a date
func NewValidationEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.StringType),
		cel.Variable("present", cel.BoolType),
		cel.Variable("numeric", cel.BoolType),
		cel.Variable("number", cel.DoubleType),
		cel.Variable("date", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

type check struct {
	expr    string
	message string
	program cel.Program
}

type fieldChecks struct {
	field  Field
	checks []check
}

// Validator runs the compiled validation checks of one form version.
// Safe for concurrent use; programs are immutable once compiled.
type Validator struct {
	fields []fieldChecks
}

// NewValidator compiles every validation setting of form into CEL programs.
// Derived fields are computed, never user-validated, and get no checks.
func NewValidator(form *Form) (*Validator, error) {
	env, err := NewValidationEnv()
	if err != nil {
		return nil, err
	}

	v := &Validator{}
	for _, field := range form.Fields {
		if field.Type == FieldDerived {
			continue
		}

		fc := fieldChecks{field: field}
		for _, c := range checksFor(field) {
			prog, err := compileCheck(env, c.expr)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field.ID, err)
			}
			c.program = prog
			fc.checks = append(fc.checks, c)
		}
		if len(fc.checks) > 0 {
			v.fields = append(v.fields, fc)
		}
	}

	return v, nil
}

func compileCheck(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("check %q must return bool, got %s", expr, ast.OutputType())
	}

	prog, err := env.Program(ast, cel.CostLimit(validationCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// Check validates values and returns one error per failed check, in form
// field order. Values of unknown fields are ignored.
func (v *Validator) Check(values derived.FormValues) []FieldError {
	var errs []FieldError
	for _, fc := range v.fields {
		vars := activation(fc.field, values[fc.field.ID])
		for _, c := range fc.checks {
			out, _, err := c.program.Eval(vars)
			if err != nil {
				errs = append(errs, FieldError{FieldID: fc.field.ID, Message: fmt.Sprintf("validation failed: %v", err)})
				continue
			}
			if ok, isBool := out.Value().(bool); !isBool || !ok {
				errs = append(errs, FieldError{FieldID: fc.field.ID, Message: c.message})
			}
		}
	}
	return errs
}

// Expressions returns the CEL source of every check of fieldID, for debugging
func (v *Validator) Expressions(fieldID string) []string {
	for _, fc := range v.fields {
		if fc.field.ID != fieldID {
			continue
		}
		out := make([]string, len(fc.checks))
		for i, c := range fc.checks {
			out[i] = c.expr
		}
		return out
	}
	return nil
}

func activation(field Field, raw any) map[string]any {
	text := ""
	if raw != nil {
		text = cast.ToString(raw)
	}

	present := strings.TrimSpace(text) != ""
	if field.Type == FieldCheckbox {
		present = cast.ToBool(raw)
	}

	coerced := derived.Coerce(raw)
	number := 0.0
	if coerced.Kind == derived.KindNumber {
		number = coerced.Number
	}

	return map[string]any{
		"value":   text,
		"present": present,
		"numeric": coerced.Kind == derived.KindNumber,
		"number":  number,
		"date":    coerced.Kind == derived.KindDate,
	}
}

func checksFor(field Field) []check {
	var checks []check
	add := func(expr, message string) {
		checks = append(checks, check{expr: expr, message: message})
	}
	// optional values pass every check when absent
	optional := func(expr, message string) {
		add("!present || "+expr, message)
	}

	v := field.Validation
	if v == nil {
		v = &FieldValidation{}
	}

	if field.Required || v.Required {
		add("present", "is required")
	}

	switch field.Type {
	case FieldNumber:
		optional("numeric", "must be a number")
	case FieldDate:
		optional("date", "must be a date")
	case FieldSelect, FieldRadio:
		quoted := make([]string, len(field.Options))
		for i, opt := range field.Options {
			quoted[i] = strconv.Quote(opt)
		}
		optional(fmt.Sprintf("value in [%s]", strings.Join(quoted, ", ")), "must be one of the listed options")
	}

	if field.Type == FieldEmail || v.Email {
		optional(fmt.Sprintf("value.matches(%s)", strconv.Quote(emailPattern)), "must be a valid email address")
	}

	if v.LengthEnabled {
		if v.MinLength != nil && *v.MinLength > 0 {
			optional(fmt.Sprintf("size(value) >= %d", *v.MinLength), fmt.Sprintf("must be at least %d characters", *v.MinLength))
		}
		if v.MaxLength != nil {
			optional(fmt.Sprintf("size(value) <= %d", *v.MaxLength), fmt.Sprintf("must be at most %d characters", *v.MaxLength))
		}
	}

	if v.Min != nil {
		optional(fmt.Sprintf("numeric && number >= %s", doubleLiteral(*v.Min)), fmt.Sprintf("must be at least %v", *v.Min))
	}
	if v.Max != nil {
		optional(fmt.Sprintf("numeric && number <= %s", doubleLiteral(*v.Max)), fmt.Sprintf("must be at most %v", *v.Max))
	}

	if v.Regex != "" {
		optional(fmt.Sprintf("value.matches(%s)", strconv.Quote(v.Regex)), "does not match the required pattern")
	}

	if field.Type == FieldPassword {
		if v.PasswordRules[PasswordMin8] {
			optional("size(value) >= 8", "must be at least 8 characters")
		}
		if v.PasswordRules[PasswordIncludeNumber] {
			optional(`value.matches("[0-9]")`, "must include at least one number")
		}
		if v.PasswordRules[PasswordIncludeUppercase] {
			optional(`value.matches("[A-Z]")`, "must include at least one uppercase letter")
		}
		if v.PasswordRules[PasswordIncludeSpecial] {
			optional(`value.matches("[^A-Za-z0-9]")`, "must include at least one special character")
		}
	}

	return checks
}

// doubleLiteral formats f so CEL parses it as a double, not an int
func doubleLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
