package knowledge

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthsphere/grounded-reports/internal/retrieval"
	"github.com/healthsphere/grounded-reports/internal/storage/sqlite"
	"github.com/healthsphere/grounded-reports/internal/vector"
)

func newDB(t *testing.T) *sqlite.Client {
	t.Helper()
	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })
	return db
}

func newProcessor(t *testing.T, db *sqlite.Client) *Processor {
	t.Helper()
	embedder := retrieval.NewHashEmbedder(16)
	store := vector.NewStore(embedder.Dimension(), nil, nil)
	return NewProcessor(db, store, embedder, 50, 10, nil)
}

func TestAddDocumentAndSearch(t *testing.T) {
	ctx := context.Background()
	p := newProcessor(t, newDB(t))

	content := strings.Repeat("Soluble fiber lowers LDL cholesterol. ", 4)
	doc, n, err := p.AddDocument(ctx, Document{Title: "Fiber", Source: "kb/fiber.md", Content: content})
	require.NoError(t, err)
	assert.Greater(t, n, 1)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, n, p.store.Len())

	// the hash embedder maps equal text to equal vectors
	matches, err := p.Search(ctx, content[:50], 2)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, doc.ID+"_chunk_0", matches[0].ID)
	assert.Equal(t, "Fiber", matches[0].Title)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
}

func TestAddDocumentHTML(t *testing.T) {
	p := newProcessor(t, newDB(t))

	html := `<html><head><title>Sodium Guide</title></head><body><nav>menu</nav><p>Limit sodium to 2300 mg per day.</p></body></html>`
	doc, _, err := p.AddDocument(context.Background(), Document{Content: html})
	require.NoError(t, err)
	assert.Equal(t, "Sodium Guide", doc.Title)
	assert.Equal(t, "Limit sodium to 2300 mg per day.", doc.Content)
}

func TestAddDocumentEmpty(t *testing.T) {
	p := newProcessor(t, newDB(t))
	_, _, err := p.AddDocument(context.Background(), Document{Title: "x", Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestLoadStore(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	first := newProcessor(t, db)
	_, n, err := first.AddDocument(ctx, Document{Title: "Iron", Source: "kb/iron.md", Content: "Spinach and lentils are rich in iron."})
	require.NoError(t, err)

	second := newProcessor(t, db)
	loaded, err := second.LoadStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, loaded)

	matches, err := second.Search(ctx, "iron", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Iron", matches[0].Title)
}

func TestSearchEmptyStore(t *testing.T) {
	p := newProcessor(t, newDB(t))
	matches, err := p.Search(context.Background(), "anything", 4)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
