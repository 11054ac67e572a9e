package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

// FormatJSON returns the canonical JSON Schema document (the inner "schema"
// member of DatabaseSchemaFormat) serialized for prompt embedding.
func FormatJSON() (json.RawMessage, error) {
	wrapper, ok := DatabaseSchemaFormat["json_schema"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("malformed schema format: missing json_schema wrapper")
	}
	b, err := json.Marshal(wrapper["schema"])
	if err != nil {
		return nil, fmt.Errorf("failed to serialize schema: %w", err)
	}
	return b, nil
}

func compiled() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		raw, err := FormatJSON()
		if err != nil {
			compileErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
			compileErr = fmt.Errorf("failed to load schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("schema.json")
	})
	return compiledSchema, compileErr
}

// Validate checks raw model output against the canonical schema and decodes
// it into a DatabaseSchema. Enum values must match exactly; out-of-set type
// strings are rejected, never coerced. Relationships without an explicit
// cardinality default to 1:N.
func Validate(raw json.RawMessage) (*DatabaseSchema, error) {
	s, err := compiled()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode extraction output: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("extraction output does not match schema: %w", err)
	}

	var ds DatabaseSchema
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("failed to decode database schema: %w", err)
	}
	for i := range ds.Relationships {
		if ds.Relationships[i].Type == "" {
			ds.Relationships[i].Type = RelationOneToMany
		}
	}
	return &ds, nil
}
