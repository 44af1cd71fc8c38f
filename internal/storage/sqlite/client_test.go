package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthsphere/grounded-reports/internal/storage/models"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLatestReport(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.GetLatestReport(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now()
	require.NoError(t, c.InsertReport(ctx, &models.Report{ID: "r1", UserID: "u1", Summary: "old", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, c.InsertReport(ctx, &models.Report{ID: "r2", UserID: "u1", Summary: "new", Confidence: 0.9, CreatedAt: now}))
	require.NoError(t, c.InsertReport(ctx, &models.Report{ID: "r3", UserID: "u2", Summary: "other", CreatedAt: now}))

	r, err := c.GetLatestReport(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "r2", r.ID)
	assert.Equal(t, "new", r.Summary)
	assert.Equal(t, 0.9, r.Confidence)
}

func TestQueryHistory(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertQueryRecord(ctx, &models.QueryRecord{
		ID: "q1", UserID: "u1", QueryText: "hi", Response: "hello", Confidence: 0.8,
		DocumentsCount: 2, ReportUsed: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, c.InsertQuerySource(ctx, &models.QuerySource{QueryID: "q1", Title: "kb", Relevance: 0.7}))
	require.NoError(t, c.StoreFeedback(ctx, &models.Feedback{QueryID: "q1", Helpful: true}))

	records, err := c.GetQueryHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hello", records[0].Response)
	assert.True(t, records[0].ReportUsed)
	assert.False(t, records[0].WebsiteUsed)
	assert.Equal(t, 2, records[0].DocumentsCount)

	empty, err := c.GetQueryHistory(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestKnowledgeRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	doc := &models.KnowledgeDocument{ID: "d1", Title: "Fiber", Source: "kb/fiber.md", Content: "Fiber helps.", CreatedAt: time.Now()}
	chunks := []models.KnowledgeChunk{
		{ID: "d1-0", DocID: "d1", ChunkIndex: 0, Text: "Fiber helps.", Source: "kb/fiber.md", Embedding: []float32{0.5, -1.25, 3}, CreatedAt: time.Now()},
	}
	require.NoError(t, c.SaveKnowledge(ctx, doc, chunks))

	loaded, err := c.LoadKnowledgeChunks(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, []float32{0.5, -1.25, 3}, loaded[0].Embedding)
	assert.Equal(t, "kb/fiber.md", loaded[0].Source)

	n, err := c.CountKnowledgeDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := c.GetKnowledgeDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Fiber", got.Title)

	_, err = c.GetKnowledgeDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
