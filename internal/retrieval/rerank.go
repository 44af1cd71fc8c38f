package retrieval

import (
	"sort"
	"strings"

	"github.com/healthsphere/grounded-reports/internal/extraction"
)

const (
	fieldMentionBoost = 0.15
	valueMentionBoost = 0.25
)

// Rerank boosts candidates whose snippet names a fact field or contains a
// numeric fact value, then re-sorts. Scores never decrease and the input
// slice is not modified.
func Rerank(candidates []Candidate, facts extraction.Facts) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	for i := range out {
		snippet := strings.ToLower(out[i].Snippet)
		for _, f := range facts.Fields() {
			if strings.Contains(snippet, f.Label()) {
				out[i].Score += fieldMentionBoost
			}
			if v, _ := facts.Get(f); v.IsNumeric() && strings.Contains(snippet, v.String()) {
				out[i].Score += valueMentionBoost
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
