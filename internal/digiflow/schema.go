package digiflow

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a caller-supplied JSON Schema describing the target structure of
// a digitization flow, compiled once and reused across runs.
type Schema struct {
	Name     string
	Raw      string
	compiled *jsonschema.Schema
	required []string
}

// CompileSchema validates and compiles the schema document. A schema that
// does not compile is a caller error and rejected before any LLM call.
func CompileSchema(name, raw string) (*Schema, error) {
	compiled, err := jsonschema.CompileString(name+".json", raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	var doc struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse schema %q: %w", name, err)
	}
	return &Schema{Name: name, Raw: raw, compiled: compiled, required: doc.Required}, nil
}

// Required returns the schema's top-level required field names.
func (s *Schema) Required() []string { return s.required }

// ValidateShape checks a plain document (values only, no data_source
// wrappers) against the schema.
func (s *Schema) ValidateShape(doc any) error {
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema %q: %w", s.Name, err)
	}
	return nil
}

// StripSources reduces a normalized result to plain values so it can be
// checked against the schema the caller supplied.
func StripSources(v any) any {
	switch node := v.(type) {
	case map[string]any:
		if isLeaf(node) {
			return node["value"]
		}
		out := make(map[string]any, len(node))
		for key, child := range node {
			out[key] = StripSources(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = StripSources(child)
		}
		return out
	default:
		return v
	}
}
