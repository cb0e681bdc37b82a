package ledger

// AutoConfirmThreshold is the minimum overall confidence for confirming a
// result without human review.
const AutoConfirmThreshold = 0.9

// OverallConfidence averages the confidence values attached to a result's
// leaves. Leaves without a confidence are skipped; a result with none
// scores zero.
func OverallConfidence(result map[string]any) float64 {
	sum, n := collectConfidence(result)
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func collectConfidence(v any) (float64, int) {
	switch node := v.(type) {
	case map[string]any:
		if c, ok := node["confidence"].(float64); ok {
			return c, 1
		}
		var sum float64
		var n int
		for _, child := range node {
			s, c := collectConfidence(child)
			sum += s
			n += c
		}
		return sum, n
	case []any:
		var sum float64
		var n int
		for _, child := range node {
			s, c := collectConfidence(child)
			sum += s
			n += c
		}
		return sum, n
	default:
		return 0, 0
	}
}

// ShouldAutoConfirm reports whether a result is trustworthy enough to skip
// review: high enough overall confidence and no validation findings.
func ShouldAutoConfirm(result map[string]any, validationFindings int) bool {
	return validationFindings == 0 && OverallConfidence(result) >= AutoConfirmThreshold
}
