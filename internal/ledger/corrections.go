// Package ledger implements the append-only correction history of extraction
// results: every edit produces a new immutable version plus per-field audit
// entries.
package ledger

import (
	"fmt"
	"strings"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

// FieldEdit is one requested field change.
type FieldEdit struct {
	FieldPath string            `json:"field_path"` // dot path, e.g. "parties.buyer.name"
	OldValue  any               `json:"old_value"`
	NewValue  any               `json:"new_value"`
	Reason    models.ReasonCode `json:"reason"`
}

// Validate rejects edits that cannot be audited.
func (e FieldEdit) Validate() error {
	if strings.TrimSpace(e.FieldPath) == "" {
		return fmt.Errorf("field_path is required")
	}
	if e.NewValue == nil {
		return fmt.Errorf("new_value is required for %q", e.FieldPath)
	}
	return nil
}

// ApplyCorrection returns a NEW document with the dot path set to value,
// creating intermediate objects along the way. The input document is never
// mutated; callers keep the old version untouched for the audit trail.
func ApplyCorrection(doc map[string]any, path string, value any) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty field path")
	}
	out := deepCopy(doc).(map[string]any)

	keys := strings.Split(path, ".")
	node := out
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			if existing, present := node[key]; present && existing != nil {
				return nil, fmt.Errorf("path %q: %q is not an object", path, key)
			}
			child = map[string]any{}
			node[key] = child
		}
		node = child
	}
	node[keys[len(keys)-1]] = value
	return out, nil
}

// ApplyEdits applies a batch of edits to one document, producing a single
// new document. Bulk edits are atomic: any invalid edit fails the whole
// batch before anything is written.
func ApplyEdits(doc map[string]any, edits []FieldEdit) (map[string]any, error) {
	if len(edits) == 0 {
		return nil, fmt.Errorf("no edits supplied")
	}
	for _, e := range edits {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	out := doc
	var err error
	for _, e := range edits {
		out, err = ApplyCorrection(out, e.FieldPath, e.NewValue)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ValueAt reads the value at a dot path, for recording old values in audit
// entries.
func ValueAt(doc map[string]any, path string) (any, bool) {
	node := any(doc)
	for _, key := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func deepCopy(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for key, child := range node {
			out[key] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
