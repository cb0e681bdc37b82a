package digiflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digiflow/invoice-digitization-service/internal/content"
)

func leaf(value any, blockID string) map[string]any {
	node := map[string]any{"value": value}
	if blockID != "" {
		node["data_source"] = map[string]any{"block_id": blockID}
	} else {
		node["data_source"] = nil
	}
	return node
}

func TestCollectBlockIDs(t *testing.T) {
	result := map[string]any{
		"invoice_number": leaf("123", "1.1.1:1:1"),
		"parties": map[string]any{
			"buyer":  leaf("甲公司", "1.1.2:1:1"),
			"seller": leaf("乙公司", "1.1.2:2:1"),
		},
		"items": []any{
			leaf("服务", "1.1.3:1:1"),
			leaf("耗材", "1.1.1:1:1"), // repeat
		},
		"notes": leaf(nil, ""),
	}
	ids := CollectBlockIDs(result)
	assert.Equal(t, []string{"1.1.1:1:1", "1.1.2:1:1", "1.1.2:2:1", "1.1.3:1:1"}, ids)
}

func knownSet(ids ...string) map[string]struct{} {
	m := map[string]struct{}{}
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestValidateLineageClean(t *testing.T) {
	result := map[string]any{"a": leaf("x", "1.1.1:1:1")}
	errs := ValidateLineage(result, content.KindPDF, knownSet("1.1.1:1:1"))
	assert.Empty(t, errs)
}

func TestValidateLineageUnknownAddress(t *testing.T) {
	result := map[string]any{"a": leaf("x", "1.1.9:9:9")}
	errs := ValidateLineage(result, content.KindPDF, knownSet("1.1.1:1:1"))
	require.Len(t, errs, 1)
	assert.Equal(t, "1.1.9:9:9", errs[0].BlockID)
	assert.Contains(t, errs[0].Reason, "not present")
}

func TestValidateLineageMalformedUnknownYieldsTwoErrors(t *testing.T) {
	// A malformed address cannot be in the known set either, so the two
	// independent checks each report it.
	result := map[string]any{"a": leaf("x", "totally-wrong")}
	errs := ValidateLineage(result, content.KindPDF, knownSet("1.1.1:1:1"))
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Reason, "malformed")
	assert.Contains(t, errs[1].Reason, "not present")
}

func TestValidateLineageKindSpecificGrammar(t *testing.T) {
	// An Excel address inside a PDF result is malformed for the kind even
	// when structurally valid for Excel.
	result := map[string]any{"a": leaf("x", "1.1.B2")}
	errs := ValidateLineage(result, content.KindPDF, knownSet("1.1.B2"))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "malformed")

	errs = ValidateLineage(result, content.KindExcel, knownSet("1.1.B2"))
	assert.Empty(t, errs)
}

func TestValidateRequired(t *testing.T) {
	result := map[string]any{
		"present":     leaf("x", "1.1.1:1:1"),
		"empty_value": leaf("", ""),
		"null_value":  leaf(nil, ""),
	}
	missing := ValidateRequired(result, []string{"present", "empty_value", "null_value", "absent"})
	assert.ElementsMatch(t, []string{"empty_value", "null_value", "absent"}, missing)
}

func TestValidateSourceCompleteness(t *testing.T) {
	result := map[string]any{
		"sourced":  leaf("x", "1.1.1:1:1"),
		"orphan":   leaf("y", ""),
		"empty_ok": leaf("", ""),
		"nested": map[string]any{
			"deep": leaf("z", ""),
		},
	}
	paths := ValidateSourceCompleteness(result)
	assert.Equal(t, []string{"nested.deep", "orphan"}, paths)
}
