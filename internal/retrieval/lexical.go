package retrieval

import (
	"math"
	"regexp"
	"strings"
)

// wordToken matches runs of two or more word characters.
var wordToken = regexp.MustCompile(`[\p{L}\p{N}\p{M}_]{2,}`)

func tokenize(text string) []string {
	return wordToken.FindAllString(strings.ToLower(text), -1)
}

// tfidfSimilarity fits a TF-IDF model over docs plus query and returns the
// cosine similarity of the query to each doc. IDF is smoothed,
// ln((1+n)/(1+df))+1, and rows are L2-normalised.
func tfidfSimilarity(docs []string, query string) []float64 {
	corpus := make([][]string, 0, len(docs)+1)
	for _, d := range docs {
		corpus = append(corpus, tokenize(d))
	}
	corpus = append(corpus, tokenize(query))

	df := make(map[string]int)
	for _, tokens := range corpus {
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	n := float64(len(corpus))
	idf := make(map[string]float64, len(df))
	for tok, count := range df {
		idf[tok] = math.Log((1+n)/(1+float64(count))) + 1
	}

	rows := make([]map[string]float64, len(corpus))
	for i, tokens := range corpus {
		rows[i] = weightRow(tokens, idf)
	}

	q := rows[len(rows)-1]
	sims := make([]float64, len(docs))
	for i := range docs {
		sims[i] = sparseDot(q, rows[i])
	}
	return sims
}

func weightRow(tokens []string, idf map[string]float64) map[string]float64 {
	row := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		row[tok]++
	}
	var norm float64
	for tok, tf := range row {
		w := tf * idf[tok]
		row[tok] = w
		norm += w * w
	}
	if norm == 0 {
		return row
	}
	norm = math.Sqrt(norm)
	for tok := range row {
		row[tok] /= norm
	}
	return row
}

func sparseDot(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for tok, w := range a {
		dot += w * b[tok]
	}
	return dot
}
