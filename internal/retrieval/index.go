package retrieval

import (
	"errors"
	"fmt"
	"math"
)

// similaritySearcher scores a query vector against every indexed vector, in
// index order.
type similaritySearcher interface {
	Similarities(query []float32) []float64
}

// flatIndex is an exact inner-product index over L2-normalised vectors, so
// scores are cosine similarities.
type flatIndex struct {
	dim  int
	rows [][]float32
}

var errEmptyIndex = errors.New("no vectors to index")

func newFlatIndex(vectors [][]float32) (*flatIndex, error) {
	if len(vectors) == 0 {
		return nil, errEmptyIndex
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("zero-dimension vectors")
	}
	rows := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
		rows[i] = normalized(v)
	}
	return &flatIndex{dim: dim, rows: rows}, nil
}

func (f *flatIndex) Similarities(query []float32) []float64 {
	out := make([]float64, len(f.rows))
	if len(query) != f.dim {
		return out
	}
	q := normalized(query)
	for i, row := range f.rows {
		var dot float64
		for j := range row {
			dot += float64(row[j]) * float64(q[j])
		}
		out[i] = dot
	}
	return out
}

// bruteForce computes cosine similarity pair by pair and tolerates ragged
// input; mismatched vectors score zero.
type bruteForce struct {
	rows [][]float32
}

func (b *bruteForce) Similarities(query []float32) []float64 {
	out := make([]float64, len(b.rows))
	for i, row := range b.rows {
		out[i] = Cosine(query, row)
	}
	return out
}

// newSearcher prefers the flat index and falls back to brute force when the
// vectors cannot be indexed. Both rank identically.
func newSearcher(vectors [][]float32) (similaritySearcher, error) {
	idx, err := newFlatIndex(vectors)
	if err != nil {
		return &bruteForce{rows: vectors}, err
	}
	return idx, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalized(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
