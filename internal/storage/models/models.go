package models

import "time"

// Report is a processed medical report as persisted.
type Report struct {
	ID             string
	UserID         string
	FileName       string
	RawText        string
	Summary        string
	Diagnosis      string
	Confidence     float64
	ResultJSON     string
	LabResultsJSON string
	CreatedAt      time.Time
}

type QueryRecord struct {
	ID             string
	UserID         string
	QueryText      string
	Response       string
	Confidence     float64
	DocumentsCount int
	ReportUsed     bool
	WebsiteUsed    bool
	UsedAPI        bool
	LatencyMS      int
	CreatedAt      time.Time
}

type QuerySource struct {
	ID        int
	QueryID   string
	Title     string
	URL       string
	Relevance float64
}

type Feedback struct {
	ID            int
	QueryID       string
	Helpful       bool
	IssueCategory string
	Comment       string
	CreatedAt     time.Time
}

// KnowledgeDocument is a document added to the knowledge base.
type KnowledgeDocument struct {
	ID        string
	Title     string
	Source    string
	Content   string
	CreatedAt time.Time
}

// KnowledgeChunk is one embedded window of a knowledge document.
type KnowledgeChunk struct {
	ID         string
	DocID      string
	ChunkIndex int
	Text       string
	Source     string
	Embedding  []float32
	CreatedAt  time.Time
}
