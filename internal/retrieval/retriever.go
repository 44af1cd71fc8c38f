package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/internal/ingestion"
	"github.com/healthsphere/grounded-reports/internal/metrics"
)

const (
	DefaultTopK = 12

	semanticWeight = 0.65
	lexicalWeight  = 0.35

	emptyQuery = "medical report"
)

// Candidate is a scored chunk.
type Candidate struct {
	ChunkID       string  `json:"id"`
	Index         int     `json:"index"`
	Snippet       string  `json:"snippet"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	LexicalScore  float64 `json:"tfidf_score"`
	SemanticScore float64 `json:"emb_score"`
	Score         float64 `json:"score"`
}

// Retriever ranks the chunks of a single document against its facts. Every
// call builds its own index; nothing is shared between requests.
type Retriever struct {
	embedder Embedder
	topK     int
	logger   *zap.Logger
}

func NewRetriever(embedder Embedder, topK int, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, topK: topK, logger: logger}
}

// BuildQuery joins "field value" pairs in fact order.
func BuildQuery(facts extraction.Facts) string {
	if facts.IsEmpty() {
		return emptyQuery
	}
	parts := make([]string, 0, facts.Len())
	for _, f := range facts.Fields() {
		v, _ := facts.Get(f)
		parts = append(parts, fmt.Sprintf("%s %s", f, v))
	}
	return strings.Join(parts, " ")
}

// Retrieve scores every chunk with 0.65*semantic + 0.35*lexical similarity
// and returns the top K, ties kept in chunk order.
func (r *Retriever) Retrieve(ctx context.Context, chunks []ingestion.Chunk, facts extraction.Facts) ([]Candidate, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	query := BuildQuery(facts)
	texts := ingestion.Texts(chunks)

	// Query and chunks are embedded in one batch so they share a model.
	vecs, err := r.embedder.Embed(ctx, append(append([]string{}, texts...), query))
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vecs) != len(texts)+1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vecs), len(texts)+1)
	}

	searcher, err := newSearcher(vecs[:len(texts)])
	if err != nil {
		r.logger.Warn("Flat index unavailable, using brute-force cosine", zap.Error(err))
	}
	semantic := searcher.Similarities(vecs[len(texts)])
	lexical := tfidfSimilarity(texts, query)

	candidates := make([]Candidate, len(chunks))
	for i, c := range chunks {
		candidates[i] = Candidate{
			ChunkID:       c.ID,
			Index:         c.Index,
			Snippet:       c.Text,
			Start:         c.Start,
			End:           c.End,
			LexicalScore:  lexical[i],
			SemanticScore: semantic[i],
			Score:         semanticWeight*semantic[i] + lexicalWeight*lexical[i],
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > r.topK {
		candidates = candidates[:r.topK]
	}

	metrics.RetrievalCandidates.Observe(float64(len(candidates)))
	r.logger.Debug("Chunks retrieved",
		zap.Int("chunks", len(chunks)),
		zap.Int("candidates", len(candidates)),
		zap.String("query", query),
	)
	return candidates, nil
}
