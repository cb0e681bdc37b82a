package tokens

import "strings"

// DefaultSimilarityThreshold is the Jaccard similarity above which a line is
// considered a repeat of one already kept.
const DefaultSimilarityThreshold = 0.95

// deduper carries the seen state across calls, so repeats are caught even
// when they appear on a later page. Lines are compared on a lowercased,
// whitespace-collapsed form.
type deduper struct {
	enc       Encoder
	threshold float64
	exact     map[string]struct{}
	seen      []map[int]struct{}
}

func newDeduper(e Encoder, threshold float64) *deduper {
	return &deduper{
		enc:       e,
		threshold: threshold,
		exact:     map[string]struct{}{},
	}
}

// keep reports whether the line survives. Empty lines always do, so
// paragraph structure is preserved.
func (d *deduper) keep(line string) bool {
	norm := normalizeLine(line)
	if norm == "" {
		return true
	}
	if _, ok := d.exact[norm]; ok {
		return false
	}
	set := tokenSet(d.enc, norm)
	for _, prev := range d.seen {
		if jaccard(set, prev) >= d.threshold {
			return false
		}
	}
	d.exact[norm] = struct{}{}
	d.seen = append(d.seen, set)
	return true
}

func (d *deduper) filter(lines []string) []string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if d.keep(line) {
			kept = append(kept, line)
		}
	}
	return kept
}

// Deduplicate drops lines whose normalized form exactly matches, or whose
// token set is nearly identical to, any earlier kept line. Kept lines stay
// in their original order. The pass is idempotent: running it on its own
// output changes nothing.
func Deduplicate(e Encoder, lines []string, threshold float64) []string {
	return newDeduper(e, threshold).filter(lines)
}

// DeduplicatePages runs one deduplication pass over all pages in order,
// sharing the seen state, so a header repeated on every page is kept only on
// the first.
func DeduplicatePages(e Encoder, pages [][]string, threshold float64) [][]string {
	d := newDeduper(e, threshold)
	out := make([][]string, len(pages))
	for i, lines := range pages {
		out[i] = d.filter(lines)
	}
	return out
}

func normalizeLine(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func tokenSet(e Encoder, s string) map[int]struct{} {
	set := map[int]struct{}{}
	for _, tok := range e.Encode(s) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[int]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
