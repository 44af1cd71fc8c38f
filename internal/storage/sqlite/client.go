package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/storage/models"
	"github.com/healthsphere/grounded-reports/pkg/logger"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("sqlite: not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		file_name TEXT,
		raw_text TEXT,
		summary TEXT,
		diagnosis TEXT,
		confidence REAL,
		result_json TEXT,
		lab_results_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_user ON reports(user_id, created_at);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		query_text TEXT NOT NULL,
		response TEXT,
		confidence REAL,
		documents_count INTEGER,
		report_used INTEGER DEFAULT 0,
		website_used INTEGER DEFAULT 0,
		used_api INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT,
		relevance REAL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		issue_category TEXT,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);

	CREATE TABLE IF NOT EXISTS knowledge_documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		source TEXT,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS knowledge_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		source TEXT,
		embedding BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES knowledge_documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON knowledge_chunks(doc_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertReport(ctx context.Context, r *models.Report) error {
	query := `
		INSERT INTO reports (id, user_id, file_name, raw_text, summary, diagnosis, confidence,
			result_json, lab_results_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		r.ID,
		r.UserID,
		r.FileName,
		r.RawText,
		r.Summary,
		r.Diagnosis,
		r.Confidence,
		r.ResultJSON,
		r.LabResultsJSON,
		r.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	logger.Debug("Report inserted", zap.String("report_id", r.ID), zap.String("user_id", r.UserID))
	return nil
}

// GetLatestReport returns the user's most recent report or ErrNotFound.
func (c *Client) GetLatestReport(ctx context.Context, userID string) (*models.Report, error) {
	query := `
		SELECT id, user_id, file_name, raw_text, summary, diagnosis, confidence, result_json, lab_results_json, created_at
		FROM reports
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	var r models.Report
	var createdAt int64
	err := c.db.QueryRowContext(ctx, query, userID).Scan(
		&r.ID,
		&r.UserID,
		&r.FileName,
		&r.RawText,
		&r.Summary,
		&r.Diagnosis,
		&r.Confidence,
		&r.ResultJSON,
		&r.LabResultsJSON,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}

	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, user_id, query_text, response, confidence, documents_count,
			report_used, website_used, used_api, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.QueryText,
		record.Response,
		record.Confidence,
		record.DocumentsCount,
		boolInt(record.ReportUsed),
		boolInt(record.WebsiteUsed),
		boolInt(record.UsedAPI),
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.Float64("confidence", record.Confidence),
	)

	return nil
}

func (c *Client) InsertQuerySource(ctx context.Context, source *models.QuerySource) error {
	query := `INSERT INTO query_sources (query_id, title, url, relevance) VALUES (?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		source.QueryID,
		source.Title,
		source.URL,
		source.Relevance,
	)
	if err != nil {
		return fmt.Errorf("failed to insert query source: %w", err)
	}

	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, user_id, query_text, response, confidence, documents_count, report_used, website_used,
			used_api, latency_ms, created_at
		FROM query_history
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	records := []models.QueryRecord{}
	for rows.Next() {
		var r models.QueryRecord
		var createdAt int64
		var reportUsed, websiteUsed, usedAPI int

		err := rows.Scan(&r.ID, &r.UserID, &r.QueryText, &r.Response, &r.Confidence, &r.DocumentsCount,
			&reportUsed, &websiteUsed, &usedAPI, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.ReportUsed = reportUsed == 1
		r.WebsiteUsed = websiteUsed == 1
		r.UsedAPI = usedAPI == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) StoreFeedback(ctx context.Context, feedback *models.Feedback) error {
	query := `INSERT INTO feedback (query_id, helpful, issue_category, comment, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		feedback.QueryID,
		boolInt(feedback.Helpful),
		feedback.IssueCategory,
		feedback.Comment,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("query_id", feedback.QueryID),
		zap.Bool("helpful", feedback.Helpful),
	)

	return nil
}

// SaveKnowledge stores a document and its embedded chunks in one transaction.
func (c *Client) SaveKnowledge(ctx context.Context, doc *models.KnowledgeDocument, chunks []models.KnowledgeChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO knowledge_documents (id, title, source, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, doc.Content, doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO knowledge_chunks (id, doc_id, chunk_index, text, source, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		_, err := stmt.ExecContext(ctx, ch.ID, ch.DocID, ch.ChunkIndex, ch.Text, ch.Source,
			encodeVector(ch.Embedding), ch.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert knowledge chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit knowledge document: %w", err)
	}

	logger.Debug("Knowledge document stored", zap.String("doc_id", doc.ID), zap.Int("chunks", len(chunks)))
	return nil
}

// LoadKnowledgeChunks returns every stored chunk in insertion order.
func (c *Client) LoadKnowledgeChunks(ctx context.Context) ([]models.KnowledgeChunk, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, doc_id, chunk_index, text, source, embedding, created_at FROM knowledge_chunks ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge chunks: %w", err)
	}
	defer rows.Close()

	chunks := []models.KnowledgeChunk{}
	for rows.Next() {
		var ch models.KnowledgeChunk
		var blob []byte
		var createdAt int64
		if err := rows.Scan(&ch.ID, &ch.DocID, &ch.ChunkIndex, &ch.Text, &ch.Source, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ch.Embedding = decodeVector(blob)
		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}

	return chunks, rows.Err()
}

func (c *Client) GetKnowledgeDocument(ctx context.Context, id string) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	var createdAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT id, title, source, content, created_at FROM knowledge_documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.Title, &doc.Source, &doc.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge document: %w", err)
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	return &doc, nil
}

func (c *Client) CountKnowledgeDocuments(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count knowledge documents: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Embeddings are stored as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
