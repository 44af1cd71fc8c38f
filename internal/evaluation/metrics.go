package evaluation

import (
	"math"
	"sort"
)

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// HitRate is the number of retrieved ids that are relevant over the number
// of relevant ids. Zero when nothing is relevant.
func HitRate(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 0
	}
	rel := idSet(relevant)
	hits := 0
	for _, id := range retrieved {
		if rel[id] {
			hits++
		}
	}
	return float64(hits) / float64(len(relevant))
}

// RecallAtK is the share of relevant ids found in the first k retrieved.
func RecallAtK(retrieved, relevant []string, k int) float64 {
	if len(relevant) == 0 || k <= 0 {
		return 0
	}
	top := idSet(retrieved[:min(k, len(retrieved))])
	hits := 0
	for _, id := range relevant {
		if top[id] {
			hits++
		}
	}
	return float64(hits) / float64(len(relevant))
}

// NDCGAtK uses binary relevance. The ideal ordering is the retrieved list's
// own relevance indicators sorted best first.
func NDCGAtK(retrieved, relevant []string, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	rel := idSet(relevant)
	gains := make([]float64, len(retrieved))
	for i, id := range retrieved {
		if rel[id] {
			gains[i] = 1
		}
	}

	actual := dcg(gains, k)
	ideal := append([]float64(nil), gains...)
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))
	idcg := dcg(ideal, k)
	if idcg == 0 {
		return 0
	}
	return actual / idcg
}

func dcg(gains []float64, k int) float64 {
	score := 0.0
	for i, g := range gains {
		if i == k {
			break
		}
		score += (math.Pow(2, g) - 1) / math.Log2(float64(i+2))
	}
	return score
}
