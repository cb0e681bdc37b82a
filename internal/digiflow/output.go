package digiflow

import (
	"fmt"

	"github.com/digiflow/invoice-digitization-service/internal/ai"
)

// ParseResult decodes an LLM reply into the normalized result shape: every
// leaf is a {"value": ..., "data_source": {"block_id": ...}} object.
func ParseResult(reply string) (map[string]any, error) {
	raw, err := ai.DecodeJSONReply(reply)
	if err != nil {
		return nil, fmt.Errorf("digitization reply: %w", err)
	}
	normalized, ok := NormalizeResult(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("digitization reply: top level is not an object")
	}
	return normalized, nil
}

// NormalizeResult rewrites every leaf into the {value, data_source} shape.
// Leaves already in that shape keep their data source; bare scalars are
// wrapped with a nil source, which source-completeness validation will then
// surface.
func NormalizeResult(v any) any {
	switch node := v.(type) {
	case map[string]any:
		if isLeaf(node) {
			out := map[string]any{"value": node["value"]}
			if ds, ok := node["data_source"].(map[string]any); ok {
				out["data_source"] = ds
			} else {
				out["data_source"] = nil
			}
			return out
		}
		out := make(map[string]any, len(node))
		for key, child := range node {
			out[key] = NormalizeResult(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = NormalizeResult(child)
		}
		return out
	default:
		return map[string]any{"value": v, "data_source": nil}
	}
}

// isLeaf reports whether the object already follows the leaf shape. Any
// object carrying a "value" key is treated as a leaf, matching what the
// extraction prompt instructs the model to emit.
func isLeaf(node map[string]any) bool {
	_, ok := node["value"]
	return ok
}
