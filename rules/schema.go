package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/liamcoop/formrules/derived"
)

const configSchemaURL = "https://formrules.local/schemas/derived-config.schema.json"

// ConfigSchema is the JSON Schema of a derived config document, as produced
// by the form editor.
const ConfigSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["conditions", "logicalOperator", "then", "else"],
  "properties": {
    "conditions": {"type": "array", "items": {"$ref": "#/$defs/condition"}},
    "logicalOperator": {"enum": ["AND", "OR"]},
    "then": {"$ref": "#/$defs/action"},
    "else": {"oneOf": [{"$ref": "#/$defs/constant"}, {"$ref": "#/$defs/action"}]}
  },
  "$defs": {
    "condition": {
      "type": "object",
      "required": ["fieldId", "operator", "value"],
      "properties": {
        "id": {"type": "string"},
        "fieldId": {"type": "string"},
        "operator": {"enum": ["equals", "not_equals", "greater_than", "less_than", "contains", "is_empty"]},
        "value": {"type": "string"}
      }
    },
    "fieldOperand": {
      "type": "object",
      "required": ["type", "fieldId"],
      "properties": {
        "type": {"const": "field"},
        "fieldId": {"type": "string"}
      }
    },
    "constant": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"const": "constant"},
        "value": {"type": ["number", "null"]}
      }
    },
    "operand": {"oneOf": [{"$ref": "#/$defs/fieldOperand"}, {"$ref": "#/$defs/constant"}]},
    "action": {
      "type": "object",
      "required": ["targetFieldId", "operator", "left", "right"],
      "properties": {
        "targetFieldId": {"type": "string"},
        "operator": {"enum": ["multiply", "add", "subtract", "divide"]},
        "left": {"$ref": "#/$defs/operand"},
        "right": {"$ref": "#/$defs/operand"}
      }
    }
  }
}`

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Schema
	configSchemaErr  error
)

func compiledConfigSchema() (*jsonschema.Schema, error) {
	configSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(configSchemaURL, strings.NewReader(ConfigSchema)); err != nil {
			configSchemaErr = fmt.Errorf("config schema load failed: %w", err)
			return
		}
		configSchema, configSchemaErr = c.Compile(configSchemaURL)
	})
	return configSchema, configSchemaErr
}

// ValidateConfigDocument checks raw JSON against ConfigSchema
func ValidateConfigDocument(data []byte) error {
	schema, err := compiledConfigSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}

// DecodeConfig validates data against ConfigSchema and decodes it
func DecodeConfig(data []byte) (derived.Config, error) {
	if err := ValidateConfigDocument(data); err != nil {
		return derived.Config{}, err
	}

	var cfg derived.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return derived.Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
