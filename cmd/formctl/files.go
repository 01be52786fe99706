package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/formrules/derived"
	"github.com/liamcoop/formrules/forms"
	"github.com/liamcoop/formrules/rules"
)

// readDocument returns the JSON form of a YAML or JSON file. Files ending
// in .json are passed through unchanged.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s cannot be represented as JSON: %w", path, err)
	}
	return out, nil
}

func loadConfig(path string) (derived.Config, error) {
	data, err := readDocument(path)
	if err != nil {
		return derived.Config{}, err
	}
	cfg, err := rules.DecodeConfig(data)
	if err != nil {
		return derived.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func loadValues(path string) (derived.FormValues, error) {
	values := derived.FormValues{}
	if path == "" {
		return values, nil
	}

	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%s: values must be a mapping of field id to value: %w", path, err)
	}
	return values, nil
}

func loadForm(path string) (*forms.Form, error) {
	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	var form forms.Form
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, fmt.Errorf("%s: failed to decode form: %w", path, err)
	}
	return &form, nil
}
