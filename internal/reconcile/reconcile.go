// Package reconcile merges the rule-based and LLM extraction results of one
// invoice into a single resolved field map, recording a per-field diff trail
// whenever the LLM pipeline participated.
package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ComparableFields is the fixed set of fields the two pipelines are compared
// on. Fields outside this list never produce diffs.
var ComparableFields = []string{
	"invoice_number",
	"invoice_code",
	"issue_date",
	"total_with_tax",
	"amount",
	"tax_amount",
	"buyer_name",
	"buyer_tax_id",
	"seller_name",
	"seller_tax_id",
	"item_name",
}

// NumericFields are compared as decimal values, so "¥10,600.00" equals
// "10600.00".
var NumericFields = map[string]bool{
	"total_with_tax": true,
	"amount":         true,
	"tax_amount":     true,
}

// CriticalFields must all be present in the resolved map for an invoice to
// confirm without review.
var CriticalFields = []string{
	"invoice_number",
	"issue_date",
	"total_with_tax",
	"buyer_name",
	"buyer_tax_id",
	"seller_name",
	"seller_tax_id",
	"item_name",
}

// Source records which pipeline a resolved value came from.
type Source string

const (
	SourceMatched  Source = "matched"
	SourceOCR      Source = "ocr"
	SourceLLM      Source = "llm"
	SourceConflict Source = "conflict"
)

// Diff is the comparison record for one field: the raw value from each
// pipeline, the value that was resolved (empty on conflict), which side it
// came from, and whether the field needs a human decision.
type Diff struct {
	Field       string `json:"field"`
	OCRValue    string `json:"ocr_value"`
	LLMValue    string `json:"llm_value"`
	FinalValue  string `json:"final_value"`
	Source      Source `json:"source"`
	NeedsReview bool   `json:"needs_review"`
}

// Outcome is the result of reconciling one invoice.
type Outcome struct {
	Fields  map[string]string `json:"fields"`
	Sources map[string]Source `json:"sources"`
	Diffs   []Diff            `json:"diffs"`
}

// NeedsReview reports whether the outcome has unresolved conflicts or is
// missing any critical field.
func (o Outcome) NeedsReview() bool {
	for _, d := range o.Diffs {
		if d.NeedsReview {
			return true
		}
	}
	for _, f := range CriticalFields {
		if strings.TrimSpace(o.Fields[f]) == "" {
			return true
		}
	}
	return false
}

// Resolve merges the two field maps. When only one pipeline produced a value
// it wins outright; when both agree the OCR rendering is kept; when they
// disagree the field is left blank for manual review. With hasLLM a diff row
// is recorded for every comparable field where either pipeline produced a
// value, so the full comparison survives for the review UI. hasLLM=false
// means the LLM pipeline never ran (or produced nothing meaningful): OCR
// passes through and no diffs are emitted, because there is nothing to
// compare against.
func Resolve(ocrFields, llmFields map[string]string, hasLLM bool) Outcome {
	out := Outcome{
		Fields:  map[string]string{},
		Sources: map[string]Source{},
	}
	for _, field := range ComparableFields {
		ocrVal := strings.TrimSpace(ocrFields[field])
		if !hasLLM {
			if ocrVal != "" {
				out.Fields[field] = ocrVal
				out.Sources[field] = SourceOCR
			}
			continue
		}
		llmVal := strings.TrimSpace(llmFields[field])
		if ocrVal == "" && llmVal == "" {
			continue
		}

		var final string
		var source Source
		needsReview := false
		switch {
		case llmVal == "":
			final, source = ocrVal, SourceOCR
		case ocrVal == "":
			final, source = llmVal, SourceLLM
		case valuesEqual(field, ocrVal, llmVal):
			final, source = ocrVal, SourceMatched
		default:
			final, source, needsReview = "", SourceConflict, true
		}

		if final != "" {
			out.Fields[field] = final
		}
		out.Sources[field] = source
		out.Diffs = append(out.Diffs, Diff{
			Field:       field,
			OCRValue:    ocrVal,
			LLMValue:    llmVal,
			FinalValue:  final,
			Source:      source,
			NeedsReview: needsReview,
		})
	}
	return out
}

// Meaningful reports whether the map carries at least one non-empty
// comparable field. A pipeline yielding nothing meaningful is treated as
// absent by the caller.
func Meaningful(fields map[string]string) bool {
	for _, f := range ComparableFields {
		if strings.TrimSpace(fields[f]) != "" {
			return true
		}
	}
	return false
}

var amountCleaner = strings.NewReplacer("¥", "", "￥", "", ",", "", " ", "")

func valuesEqual(field, a, b string) bool {
	if NumericFields[field] {
		da, errA := decimal.NewFromString(amountCleaner.Replace(a))
		db, errB := decimal.NewFromString(amountCleaner.Replace(b))
		if errA == nil && errB == nil {
			return da.Equal(db)
		}
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
