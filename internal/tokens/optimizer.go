package tokens

import (
	"fmt"
	"strings"
)

// Optimizer prepares a document's page texts for embedding or prompting
// within a token budget.
type Optimizer struct {
	enc       Encoder
	decay     float64
	threshold float64
}

func NewOptimizer(enc Encoder) *Optimizer {
	return &Optimizer{enc: enc, decay: 1.0, threshold: DefaultSimilarityThreshold}
}

// Optimize dedupes the pages' lines in one pass with shared seen state,
// allocates the budget across pages and truncates each page to its share,
// then joins the pages with blank lines.
func (o *Optimizer) Optimize(pageTexts []string, budget int) string {
	pages := make([][]string, len(pageTexts))
	for i, text := range pageTexts {
		pages[i] = strings.Split(text, "\n")
	}
	dedupedPages := DeduplicatePages(o.enc, pages, o.threshold)

	deduped := make([]string, len(pageTexts))
	counts := make([]int, len(pageTexts))
	for i, lines := range dedupedPages {
		deduped[i] = strings.Join(lines, "\n")
		counts[i] = Count(o.enc, deduped[i])
	}

	weights := PageWeights(len(deduped), o.decay)
	allocs := AllocateTokens(budget, weights, counts)

	parts := make([]string, 0, len(deduped))
	for i, text := range deduped {
		cut := TruncateWithTags(o.enc, text, allocs[i])
		if strings.TrimSpace(cut) != "" {
			parts = append(parts, cut)
		}
	}
	return strings.Join(parts, "\n\n")
}

// WeightedEmbeddingText labels each page before joining, so the embedding
// carries positional hints: "[page 1] ...".
func (o *Optimizer) WeightedEmbeddingText(pageTexts []string, budget int) string {
	labeled := make([]string, len(pageTexts))
	for i, text := range pageTexts {
		labeled[i] = fmt.Sprintf("[page %d] %s", i+1, text)
	}
	return o.Optimize(labeled, budget)
}

// EstimateSavings reports tokens before and after optimization.
func (o *Optimizer) EstimateSavings(pageTexts []string, budget int) (before, after int) {
	for _, text := range pageTexts {
		before += Count(o.enc, text)
	}
	after = Count(o.enc, o.Optimize(pageTexts, budget))
	return before, after
}
