package rules

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/liamcoop/formrules/derived"
)

const editorDocument = `{
  "conditions": [
    {"id": "c1", "fieldId": "age", "operator": "greater_than", "value": "18"}
  ],
  "logicalOperator": "AND",
  "then": {
    "targetFieldId": "discount",
    "operator": "multiply",
    "left": {"type": "field", "fieldId": "price"},
    "right": {"type": "constant", "value": 0.9}
  },
  "else": {"type": "constant", "value": 0}
}`

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig([]byte(editorDocument))
	if err != nil {
		t.Fatalf("DecodeConfig() failed: %v", err)
	}
	if diff := cmp.Diff(discountConfig(), cfg); diff != "" {
		t.Errorf("DecodeConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeConfigElseAction(t *testing.T) {
	doc := strings.Replace(editorDocument,
		`"else": {"type": "constant", "value": 0}`,
		`"else": {"targetFieldId": "discount", "operator": "add", "left": {"type": "field", "fieldId": "price"}, "right": {"type": "constant", "value": 1}}`,
		1)

	cfg, err := DecodeConfig([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeConfig() failed: %v", err)
	}
	if cfg.Else.IsConstant() {
		t.Fatal("else branch should decode as an action")
	}
	if cfg.Else.Action.Operator != derived.ArithAdd {
		t.Errorf("else operator = %s, want add", cfg.Else.Action.Operator)
	}
}

func TestValidateConfigDocumentRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"conditions":`},
		{"missing then", `{"conditions": [], "logicalOperator": "AND", "else": {"type": "constant", "value": 0}}`},
		{"bad logical operator", strings.Replace(editorDocument, `"AND"`, `"XOR"`, 1)},
		{"bad comparison", strings.Replace(editorDocument, `"greater_than"`, `"gte"`, 1)},
		{"bad arithmetic", strings.Replace(editorDocument, `"multiply"`, `"modulo"`, 1)},
		{"string constant", strings.Replace(editorDocument, `"value": 0.9`, `"value": "0.9"`, 1)},
		{"unknown operand type", strings.Replace(editorDocument, `{"type": "field", "fieldId": "price"}`, `{"type": "lookup", "fieldId": "price"}`, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateConfigDocument([]byte(tt.doc)); err == nil {
				t.Error("ValidateConfigDocument() should fail")
			}
		})
	}
}

func TestValidateConfigDocumentAllowsNullConstant(t *testing.T) {
	doc := strings.Replace(editorDocument, `"else": {"type": "constant", "value": 0}`, `"else": {"type": "constant", "value": null}`, 1)
	if err := ValidateConfigDocument([]byte(doc)); err != nil {
		t.Errorf("ValidateConfigDocument() failed: %v", err)
	}
}
