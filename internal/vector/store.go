// Package vector holds the shared knowledge base index. One Store is built
// at startup and injected wherever knowledge documents are added or searched.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/metrics"
	"github.com/healthsphere/grounded-reports/internal/retrieval"
)

var ErrDimensionMismatch = errors.New("vector: embedding dimension mismatch")

// Entry is one embedded knowledge chunk.
type Entry struct {
	ID        string
	DocID     string
	Title     string
	Text      string
	Source    string
	Embedding []float32
}

// Match is a search hit with its cosine similarity.
type Match struct {
	Entry
	Score float64
}

// Backend is an optional approximate nearest-neighbour index mirrored from
// the Store.
type Backend interface {
	Insert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, topK int) ([]Match, error)
}

// Store keeps every entry in memory. Writers are serialised, readers run
// concurrently and never observe a half-applied write.
//
// The backend only answers searches while it holds every entry. A failed
// mirror marks it stale and searches scan memory until a later write
// re-mirrors the full set.
type Store struct {
	mu      sync.RWMutex
	dim     int
	entries []Entry
	backend Backend
	stale   bool
	logger  *zap.Logger
}

func NewStore(dim int, backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dim: dim, backend: backend, logger: logger}
}

// Load seeds the store from persisted entries and mirrors them to the
// backend. Backend inserts must be idempotent on Entry.ID.
func (s *Store) Load(ctx context.Context, entries []Entry) error {
	if err := s.checkDimensions(entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	s.mirror(ctx, entries)
	return nil
}

// Add appends entries and mirrors them to the backend. A backend failure is
// logged and leaves the in-memory entries in place.
func (s *Store) Add(ctx context.Context, entries []Entry) error {
	if err := s.checkDimensions(entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	s.mirror(ctx, entries)
	return nil
}

func (s *Store) checkDimensions(entries []Entry) error {
	for _, e := range entries {
		if len(e.Embedding) != s.dim {
			return fmt.Errorf("%w: entry %s has %d, want %d", ErrDimensionMismatch, e.ID, len(e.Embedding), s.dim)
		}
	}
	return nil
}

// mirror must be called with the write lock held. A stale backend gets the
// whole entry set so it can be trusted again.
func (s *Store) mirror(ctx context.Context, added []Entry) {
	if s.backend == nil {
		return
	}
	batch := added
	if s.stale {
		batch = s.entries
	}
	if len(batch) == 0 {
		return
	}
	if err := s.backend.Insert(ctx, batch); err != nil {
		s.stale = true
		s.logger.Warn("vector backend insert failed, searching in memory until resynced",
			zap.Error(err),
			zap.Int("entries", len(batch)),
		)
		return
	}
	if s.stale {
		s.logger.Info("vector backend resynced", zap.Int("entries", len(batch)))
	}
	s.stale = false
}

// Search returns up to topK entries by cosine similarity. A synced backend
// is asked first; the in-memory scan answers when there is none, it is
// stale, or it fails.
func (s *Store) Search(ctx context.Context, query []float32, topK int) ([]Match, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), s.dim)
	}
	if topK <= 0 {
		return []Match{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.backend != nil && !s.stale {
		matches, err := s.backend.Search(ctx, query, topK)
		if err == nil {
			return matches, nil
		}
		metrics.VectorFallbacks.Inc()
		s.logger.Warn("vector backend search failed, scanning in memory", zap.Error(err))
	}
	return s.scan(query, topK), nil
}

func (s *Store) scan(query []float32, topK int) []Match {
	matches := make([]Match, 0, len(s.entries))
	for _, e := range s.entries {
		matches = append(matches, Match{Entry: e, Score: retrieval.Cosine(query, e.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) Dimension() int { return s.dim }
