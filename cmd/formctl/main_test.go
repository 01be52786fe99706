package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const discountYAML = `conditions:
  - id: c1
    fieldId: age
    operator: greater_than
    value: "18"
logicalOperator: AND
then:
  targetFieldId: discount
  operator: multiply
  left: {type: field, fieldId: price}
  right: {type: constant, value: 0.9}
else: {type: constant, value: 0}
`

const checkoutYAML = `id: checkout
name: Checkout
fields:
  - {id: name, label: Full name, type: text, required: true}
  - id: age
    label: Age
    type: number
    validation: {min: 0, max: 130}
  - {id: price, label: Price, type: number}
  - id: discount
    label: Discount
    type: derived
    derivedConfig:
` + `      conditions: [{id: c1, fieldId: age, operator: greater_than, value: "18"}]
      logicalOperator: AND
      then:
        targetFieldId: discount
        operator: multiply
        left: {type: field, fieldId: price}
        right: {type: constant, value: 0.9}
      else: {type: constant, value: 0}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEvalTable(t *testing.T) {
	cfg := writeFile(t, "discount.yaml", discountYAML)
	values := writeFile(t, "values.yaml", "age: 30\nprice: 100\n")

	out, err := runCLI(t, "eval", "--config", cfg, "--values", values, "--trace")
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	for _, want := range []string{"discount", "90", "c1", "greater_than"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEvalJSON(t *testing.T) {
	cfg := writeFile(t, "discount.yaml", discountYAML)
	values := writeFile(t, "values.json", `{"age": "12", "price": "100"}`)

	out, err := runCLI(t, "eval", "--json", "--config", cfg, "--values", values)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}

	var got struct {
		Result struct {
			Hit   bool     `json:"hit"`
			Value *float64 `json:"value"`
		} `json:"result"`
		Trace []any `json:"trace"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Result.Hit || got.Result.Value == nil || *got.Result.Value != 0 {
		t.Errorf("expected the else constant 0, got %+v", got.Result)
	}
	if got.Trace != nil {
		t.Error("trace should only be printed with --trace")
	}
}

func TestEvalWithoutValues(t *testing.T) {
	cfg := writeFile(t, "discount.yaml", discountYAML)

	out, err := runCLI(t, "eval", "--config", cfg)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if !strings.Contains(out, "false") {
		t.Errorf("empty values should miss the condition:\n%s", out)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"valid", discountYAML, ""},
		{"no conditions", strings.Replace(discountYAML, `conditions:
  - id: c1
    fieldId: age
    operator: greater_than
    value: "18"`, "conditions: []", 1), "add at least one condition"},
		{"unquoted condition value", strings.Replace(discountYAML, `"18"`, "18", 1), "does not match schema"},
		{"bad yaml", "conditions: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.yaml", tt.content)
			out, err := runCLI(t, "validate", "--config", path)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate failed: %v", err)
				}
				if !strings.Contains(out, "writes discount, reads age, price") {
					t.Errorf("unexpected output: %s", out)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRequiresConfig(t *testing.T) {
	if _, err := runCLI(t, "validate"); err == nil {
		t.Error("validate without --config should fail")
	}
}

func TestFormCheck(t *testing.T) {
	path := writeFile(t, "checkout.yaml", checkoutYAML)

	out, err := runCLI(t, "form", "check", "--form", path)
	if err != nil {
		t.Fatalf("form check failed: %v", err)
	}
	for _, want := range []string{"present", "numeric && number >= 0.0", "derived from age, price"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormCheckRejectsInvalidForm(t *testing.T) {
	path := writeFile(t, "bad.yaml", "id: bad\nname: Bad\nfields: []\n")

	_, err := runCLI(t, "form", "check", "--form", path)
	if err == nil || !strings.Contains(err.Error(), "at least one field") {
		t.Errorf("error = %v, want an empty-form error", err)
	}
}

func TestFormSubmit(t *testing.T) {
	form := writeFile(t, "checkout.yaml", checkoutYAML)

	valid := writeFile(t, "valid.yaml", "name: Ada\nage: 30\nprice: 100\n")
	out, err := runCLI(t, "form", "submit", "--json", "--form", form, "--values", valid)
	if err != nil {
		t.Fatalf("form submit failed: %v", err)
	}
	var sub struct {
		Valid  bool           `json:"valid"`
		Values map[string]any `json:"values"`
	}
	if err := json.Unmarshal([]byte(out), &sub); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !sub.Valid || sub.Values["discount"] != 90.0 {
		t.Errorf("unexpected submission: %+v", sub)
	}

	invalid := writeFile(t, "invalid.yaml", "age: 200\nprice: 100\n")
	out, err = runCLI(t, "form", "submit", "--form", form, "--values", invalid)
	if !errors.Is(err, errInvalidSubmission) {
		t.Fatalf("error = %v, want errInvalidSubmission", err)
	}
	if !strings.Contains(out, "is required") || !strings.Contains(out, "at most 130") {
		t.Errorf("problems missing from output:\n%s", out)
	}
}
