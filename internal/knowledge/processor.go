// Package knowledge ingests reference documents into the shared vector store
// and answers similarity lookups against it.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/ingestion"
	"github.com/healthsphere/grounded-reports/internal/metrics"
	"github.com/healthsphere/grounded-reports/internal/retrieval"
	"github.com/healthsphere/grounded-reports/internal/storage/models"
	"github.com/healthsphere/grounded-reports/internal/storage/sqlite"
	"github.com/healthsphere/grounded-reports/internal/vector"
)

var ErrEmptyDocument = errors.New("knowledge document has no content")

type Processor struct {
	db           *sqlite.Client
	store        *vector.Store
	embedder     retrieval.Embedder
	chunkSize    int
	chunkOverlap int
	logger       *zap.Logger
}

type Document struct {
	Title   string
	Source  string
	Content string
}

func NewProcessor(db *sqlite.Client, store *vector.Store, embedder retrieval.Embedder, chunkSize, chunkOverlap int, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		db:           db,
		store:        store,
		embedder:     embedder,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger,
	}
}

// AddDocument chunks and embeds a document, persists it and makes it
// searchable. HTML content is reduced to its visible text first.
func (p *Processor) AddDocument(ctx context.Context, doc Document) (*models.KnowledgeDocument, int, error) {
	content := doc.Content
	if strings.Contains(content, "<html") || strings.Contains(content, "<body") {
		if doc.Title == "" {
			doc.Title = ingestion.Title(content)
		}
		content = ingestion.CleanHTML(content)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, 0, ErrEmptyDocument
	}
	if doc.Title == "" {
		doc.Title = "Untitled"
	}

	p.logger.Info("Processing knowledge document", zap.String("title", doc.Title), zap.String("source", doc.Source))

	chunks, err := ingestion.ChunkText(content, p.chunkSize, p.chunkOverlap)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to chunk document: %w", err)
	}

	embeddings, err := p.embedder.Embed(ctx, ingestion.Texts(chunks))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	now := time.Now()
	record := &models.KnowledgeDocument{
		ID:        uuid.New().String(),
		Title:     doc.Title,
		Source:    doc.Source,
		Content:   content,
		CreatedAt: now,
	}

	rows := make([]models.KnowledgeChunk, 0, len(chunks))
	entries := make([]vector.Entry, 0, len(chunks))
	for i, c := range chunks {
		chunkID := fmt.Sprintf("%s_chunk_%d", record.ID, c.Index)
		rows = append(rows, models.KnowledgeChunk{
			ID:         chunkID,
			DocID:      record.ID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Source:     doc.Source,
			Embedding:  embeddings[i],
			CreatedAt:  now,
		})
		entries = append(entries, vector.Entry{
			ID:        chunkID,
			DocID:     record.ID,
			Title:     doc.Title,
			Text:      c.Text,
			Source:    doc.Source,
			Embedding: embeddings[i],
		})
	}

	if err := p.db.SaveKnowledge(ctx, record, rows); err != nil {
		return nil, 0, err
	}
	if err := p.store.Add(ctx, entries); err != nil {
		return nil, 0, fmt.Errorf("failed to add to knowledge store: %w", err)
	}

	p.refreshGauge(ctx)
	p.logger.Info("Knowledge document processed",
		zap.String("doc_id", record.ID),
		zap.Int("chunks", len(entries)),
	)
	return record, len(entries), nil
}

// LoadStore seeds the vector store with every persisted chunk. Chunks
// embedded with a different dimension are skipped.
func (p *Processor) LoadStore(ctx context.Context) (int, error) {
	chunks, err := p.db.LoadKnowledgeChunks(ctx)
	if err != nil {
		return 0, err
	}

	titles := map[string]string{}
	entries := make([]vector.Entry, 0, len(chunks))
	skipped := 0
	for _, c := range chunks {
		if len(c.Embedding) != p.store.Dimension() {
			skipped++
			continue
		}
		title, ok := titles[c.DocID]
		if !ok {
			title = p.documentTitle(ctx, c.DocID)
			titles[c.DocID] = title
		}
		entries = append(entries, vector.Entry{
			ID:        c.ID,
			DocID:     c.DocID,
			Title:     title,
			Text:      c.Text,
			Source:    c.Source,
			Embedding: c.Embedding,
		})
	}
	if skipped > 0 {
		p.logger.Warn("Skipped knowledge chunks with a stale embedding dimension", zap.Int("skipped", skipped))
	}

	if err := p.store.Load(ctx, entries); err != nil {
		return 0, err
	}
	p.refreshGauge(ctx)
	return len(entries), nil
}

func (p *Processor) documentTitle(ctx context.Context, docID string) string {
	doc, err := p.db.GetKnowledgeDocument(ctx, docID)
	if err != nil {
		return "Untitled"
	}
	return doc.Title
}

// Search embeds the query and returns the closest knowledge chunks.
func (p *Processor) Search(ctx context.Context, query string, topK int) ([]vector.Match, error) {
	if p.store.Len() == 0 || topK <= 0 {
		return nil, nil
	}
	vecs, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected 1", len(vecs))
	}
	return p.store.Search(ctx, vecs[0], topK)
}

func (p *Processor) refreshGauge(ctx context.Context) {
	n, err := p.db.CountKnowledgeDocuments(ctx)
	if err != nil {
		p.logger.Warn("Failed to count knowledge documents", zap.Error(err))
		return
	}
	metrics.KnowledgeDocuments.Set(float64(n))
}
