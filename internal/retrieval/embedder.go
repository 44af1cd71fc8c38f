package retrieval

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/metrics"
	"github.com/healthsphere/grounded-reports/pkg/utils"
)

// DefaultDimension matches the small sentence-embedding models the service
// is usually paired with.
const DefaultDimension = 384

// Embedder maps texts to fixed-length vectors. All vectors returned by one
// call share the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// HashEmbedder is a deterministic pseudo-embedding: the md5 of the text
// seeds a 64-bit LCG whose outputs are L2-normalised. Equal texts always map
// to equal vectors; it carries no semantic signal.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	sum := md5.Sum([]byte(text))
	seed := binary.BigEndian.Uint64(sum[:8])

	raw := make([]float64, h.dim)
	var norm float64
	for i := range raw {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64((seed>>32)&0xFFFFFFFF) / float64(0xFFFFFFFF)
		raw[i] = v
		norm += v * v
	}
	norm = math.Sqrt(norm) + 1e-10

	vec := make([]float32, h.dim)
	for i, v := range raw {
		vec[i] = float32(v / norm)
	}
	return vec
}

// EmbeddingProvider is a remote embedding API.
type EmbeddingProvider interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderEmbedder adapts an EmbeddingProvider and rejects responses whose
// shape does not match the configured dimension.
type ProviderEmbedder struct {
	provider EmbeddingProvider
	dim      int
}

func NewProviderEmbedder(provider EmbeddingProvider, dim int) *ProviderEmbedder {
	return &ProviderEmbedder{provider: provider, dim: dim}
}

func (p *ProviderEmbedder) Dimension() int { return p.dim }

func (p *ProviderEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.provider.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != p.dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), p.dim)
		}
	}
	return vecs, nil
}

// FallbackEmbedder serves a whole batch from the fallback whenever the
// primary fails, so vectors within one batch always come from one model.
type FallbackEmbedder struct {
	primary  Embedder
	fallback Embedder
	logger   *zap.Logger
}

func NewFallbackEmbedder(primary, fallback Embedder, logger *zap.Logger) *FallbackEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackEmbedder{primary: primary, fallback: fallback, logger: logger}
}

func (f *FallbackEmbedder) Dimension() int { return f.fallback.Dimension() }

func (f *FallbackEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.primary != nil {
		vecs, err := f.primary.Embed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("Embedding provider failed, using deterministic fallback",
			zap.Error(err),
			zap.Int("texts", len(texts)),
		)
		metrics.EmbeddingFallbacks.Inc()
	}
	return f.fallback.Embed(ctx, texts)
}

// NewProviderChain puts the cache between the fallback and the provider, so
// only provider vectors are ever cached. A batch the provider cannot serve
// is answered whole by fallback and leaves the cache untouched. cache may be
// nil.
func NewProviderChain(provider, fallback Embedder, cache VectorCache, model string, ttl time.Duration, logger *zap.Logger) *FallbackEmbedder {
	primary := provider
	if cache != nil {
		primary = NewCachedEmbedder(provider, cache, model, ttl, logger)
	}
	return NewFallbackEmbedder(primary, fallback, logger)
}

// VectorCache stores embeddings by key.
type VectorCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder consults the cache before calling the wrapped embedder for
// the texts it has not seen. Cache failures only cost a provider call.
type CachedEmbedder struct {
	inner  Embedder
	cache  VectorCache
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedEmbedder(inner Embedder, cache VectorCache, model string, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, model: model, ttl: ttl, logger: logger}
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing    []string
		missingIdx []int
	)
	for i, t := range texts {
		vec, ok, err := c.cache.GetEmbedding(ctx, c.key(t))
		if err != nil {
			c.logger.Debug("Embedding cache read failed", zap.Error(err))
		}
		if ok && len(vec) == c.inner.Dimension() {
			out[i] = vec
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			continue
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		out[missingIdx[j]] = vec
		if err := c.cache.SetEmbedding(ctx, c.key(missing[j]), vec, c.ttl); err != nil {
			c.logger.Debug("Embedding cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	return utils.HashString(c.model + "\x00" + text)
}
