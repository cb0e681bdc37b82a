package tokens

import (
	"math"
	"strings"
)

// PageWeights returns normalized weights 1/(i+1)^decay for n pages. Earlier
// pages carry more weight because invoice headers and party blocks sit at
// the front of a document.
func PageWeights(n int, decay float64) []float64 {
	if n <= 0 {
		return nil
	}
	weights := make([]float64, n)
	total := 0.0
	for i := range weights {
		weights[i] = 1 / math.Pow(float64(i+1), decay)
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// AllocateTokens splits budget across pages proportionally to weights,
// flooring each share so the total never exceeds the budget; each allocation
// is then capped at the page's own token count so no page is granted more
// than it can spend.
func AllocateTokens(budget int, weights []float64, pageCounts []int) []int {
	n := len(weights)
	allocs := make([]int, n)
	for i, w := range weights {
		allocs[i] = int(math.Floor(float64(budget) * w))
	}
	for i := range allocs {
		if i < len(pageCounts) && allocs[i] > pageCounts[i] {
			allocs[i] = pageCounts[i]
		}
	}
	return allocs
}

// isTagLine reports whether a line is an XML-style tag standing alone.
func isTagLine(line string) bool {
	t := strings.TrimSpace(line)
	return len(t) > 2 && strings.HasPrefix(t, "<") && strings.HasSuffix(t, ">")
}

// TruncateWithTags cuts text down to at most budget tokens. When the text is
// wrapped in a tag pair on its own first and last lines, the pair is kept
// intact and only the inner content is truncated, so downstream prompt
// parsers never see a dangling section. A budget too small for even the tags
// degenerates to the opening tag alone.
func TruncateWithTags(e Encoder, text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if Count(e, text) <= budget {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) >= 2 && isTagLine(lines[0]) && isTagLine(lines[len(lines)-1]) {
		opening, closing := lines[0], lines[len(lines)-1]
		// One token per joining newline.
		reserved := Count(e, opening) + Count(e, closing) + 2
		if budget <= reserved {
			return opening
		}
		inner := strings.Join(lines[1:len(lines)-1], "\n")
		return opening + "\n" + truncateTokens(e, inner, budget-reserved) + "\n" + closing
	}
	return truncateTokens(e, text, budget)
}

// truncateTokens keeps whole lines while they fit, then takes a token prefix
// of the first line that does not.
func truncateTokens(e Encoder, text string, budget int) string {
	if Count(e, text) <= budget {
		return text
	}
	var kept []string
	used := 0
	for _, line := range strings.Split(text, "\n") {
		cost := Count(e, line)
		if len(kept) > 0 {
			cost++ // joining newline
		}
		if used+cost > budget {
			break
		}
		kept = append(kept, line)
		used += cost
	}
	return strings.Join(kept, "\n")
}
