package digiflow

import (
	"fmt"
	"sort"

	"github.com/digiflow/invoice-digitization-service/internal/content"
)

// Lineage checks: every extracted leaf should point back, via
// data_source.block_id, to a fragment that actually exists in the normalized
// document. Lineage problems flag the result for review; they never fail the
// extraction outright.

// LineageError describes one problem with one block address.
type LineageError struct {
	BlockID string `json:"block_id"`
	Reason  string `json:"reason"`
}

func (e LineageError) Error() string {
	return fmt.Sprintf("block id %q: %s", e.BlockID, e.Reason)
}

// CollectBlockIDs walks the result tree and returns every referenced block
// id, sorted and de-duplicated.
func CollectBlockIDs(result any) []string {
	seen := map[string]struct{}{}
	collectBlockIDs(result, seen)
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func collectBlockIDs(v any, seen map[string]struct{}) {
	switch node := v.(type) {
	case map[string]any:
		if ds, ok := node["data_source"].(map[string]any); ok {
			if id, ok := ds["block_id"].(string); ok && id != "" {
				seen[id] = struct{}{}
			}
		}
		for _, child := range node {
			collectBlockIDs(child, seen)
		}
	case []any:
		for _, child := range node {
			collectBlockIDs(child, seen)
		}
	}
}

// ValidateLineage runs two independent checks on every referenced address:
// grammar validity for the document kind, and membership in the document's
// known block ids. A single malformed, unknown address therefore yields two
// errors, which keeps the two failure modes distinguishable downstream.
func ValidateLineage(result any, kind content.Kind, known map[string]struct{}) []LineageError {
	var errs []LineageError
	for _, id := range CollectBlockIDs(result) {
		if !content.ValidBlockID(kind, id) {
			errs = append(errs, LineageError{BlockID: id, Reason: "malformed for document kind " + kind.String()})
		}
		if _, ok := known[id]; !ok {
			errs = append(errs, LineageError{BlockID: id, Reason: "not present in the document"})
		}
	}
	return errs
}

// ValidateRequired reports which of the schema's required top-level fields
// are missing or valueless in the result.
func ValidateRequired(result map[string]any, required []string) []string {
	var missing []string
	for _, field := range required {
		node, ok := result[field]
		if !ok || node == nil {
			missing = append(missing, field)
			continue
		}
		if leaf, ok := node.(map[string]any); ok {
			if v, has := leaf["value"]; has && (v == nil || v == "") {
				missing = append(missing, field)
			}
		}
	}
	return missing
}

// ValidateSourceCompleteness reports the paths of leaves carrying a value
// but no data source.
func ValidateSourceCompleteness(result any) []string {
	var paths []string
	walkCompleteness(result, "", &paths)
	sort.Strings(paths)
	return paths
}

func walkCompleteness(v any, path string, paths *[]string) {
	switch node := v.(type) {
	case map[string]any:
		if value, hasValue := node["value"]; hasValue {
			// A leaf in normalized shape.
			if value != nil && value != "" {
				ds, _ := node["data_source"].(map[string]any)
				id, _ := ds["block_id"].(string)
				if id == "" {
					*paths = append(*paths, path)
				}
			}
			return
		}
		for key, child := range node {
			walkCompleteness(child, joinPath(path, key), paths)
		}
	case []any:
		for i, child := range node {
			walkCompleteness(child, joinPath(path, fmt.Sprintf("%d", i)), paths)
		}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
