package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

func sampleDoc() map[string]any {
	return map[string]any{
		"invoice_number": map[string]any{"value": "123", "data_source": map[string]any{"block_id": "1.1.1:1:1"}},
		"parties": map[string]any{
			"buyer": map[string]any{"value": "甲公司"},
		},
	}
}

func TestApplyCorrectionSetsValue(t *testing.T) {
	doc := sampleDoc()
	out, err := ApplyCorrection(doc, "parties.buyer.value", "乙公司")
	require.NoError(t, err)

	v, ok := ValueAt(out, "parties.buyer.value")
	require.True(t, ok)
	assert.Equal(t, "乙公司", v)
}

func TestApplyCorrectionDoesNotMutateInput(t *testing.T) {
	doc := sampleDoc()
	_, err := ApplyCorrection(doc, "parties.buyer.value", "乙公司")
	require.NoError(t, err)

	v, _ := ValueAt(doc, "parties.buyer.value")
	assert.Equal(t, "甲公司", v, "original document must stay untouched")
}

func TestApplyCorrectionCreatesIntermediateNodes(t *testing.T) {
	out, err := ApplyCorrection(map[string]any{}, "a.b.c", 42)
	require.NoError(t, err)
	v, ok := ValueAt(out, "a.b.c")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestApplyCorrectionRejectsScalarInPath(t *testing.T) {
	doc := map[string]any{"a": "scalar"}
	_, err := ApplyCorrection(doc, "a.b", 1)
	assert.Error(t, err)
}

func TestApplyCorrectionEmptyPath(t *testing.T) {
	_, err := ApplyCorrection(map[string]any{}, "  ", 1)
	assert.Error(t, err)
}

func TestApplyEditsBulk(t *testing.T) {
	doc := sampleDoc()
	out, err := ApplyEdits(doc, []FieldEdit{
		{FieldPath: "invoice_number.value", NewValue: "456", Reason: models.ReasonIncorrect},
		{FieldPath: "parties.buyer.value", NewValue: "丙公司", Reason: models.ReasonIncorrect},
	})
	require.NoError(t, err)

	v, _ := ValueAt(out, "invoice_number.value")
	assert.Equal(t, "456", v)
	v, _ = ValueAt(out, "parties.buyer.value")
	assert.Equal(t, "丙公司", v)

	// input untouched
	v, _ = ValueAt(doc, "invoice_number.value")
	assert.Equal(t, "123", v)
}

func TestApplyEditsRejectsInvalidEdit(t *testing.T) {
	_, err := ApplyEdits(sampleDoc(), []FieldEdit{
		{FieldPath: "invoice_number.value", NewValue: "456"},
		{FieldPath: "", NewValue: "x"},
	})
	assert.Error(t, err)
}

func TestApplyEditsEmpty(t *testing.T) {
	_, err := ApplyEdits(sampleDoc(), nil)
	assert.Error(t, err)
}

func TestValueAtMissing(t *testing.T) {
	_, ok := ValueAt(sampleDoc(), "parties.seller.value")
	assert.False(t, ok)
}

func TestOverallConfidence(t *testing.T) {
	result := map[string]any{
		"a": map[string]any{"value": "x", "confidence": 0.8},
		"b": map[string]any{"value": "y", "confidence": 1.0},
		"c": map[string]any{"value": "z"},
	}
	assert.InDelta(t, 0.9, OverallConfidence(result), 1e-9)
	assert.Equal(t, 0.0, OverallConfidence(map[string]any{}))
}

func TestShouldAutoConfirm(t *testing.T) {
	high := map[string]any{"a": map[string]any{"confidence": 0.95}}
	low := map[string]any{"a": map[string]any{"confidence": 0.5}}

	assert.True(t, ShouldAutoConfirm(high, 0))
	assert.False(t, ShouldAutoConfirm(high, 1), "validation findings block auto-confirm")
	assert.False(t, ShouldAutoConfirm(low, 0))
}
