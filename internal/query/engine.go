// Package query answers conversational health questions from the user's
// profile, latest report, an optional website and the shared knowledge base.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/assistant"
	"github.com/healthsphere/grounded-reports/internal/generator"
	"github.com/healthsphere/grounded-reports/internal/metrics"
	"github.com/healthsphere/grounded-reports/internal/search/web"
	"github.com/healthsphere/grounded-reports/internal/storage/models"
	"github.com/healthsphere/grounded-reports/internal/storage/sqlite"
	"github.com/healthsphere/grounded-reports/internal/vector"
	"github.com/healthsphere/grounded-reports/internal/verify"
	"github.com/healthsphere/grounded-reports/pkg/logger"
)

const (
	FallbackResponse = "I'm sorry, I couldn't generate a personalised answer right now. " +
		"Please try again shortly, and consult a healthcare professional for any urgent concern."
	fallbackConfidence = 0.2

	defaultKnowledgeTopK = 4
	defaultReportTTL     = 30 * time.Minute
)

// Store is the persistence the engine needs; *sqlite.Client satisfies it.
type Store interface {
	GetLatestReport(ctx context.Context, userID string) (*models.Report, error)
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
	InsertQuerySource(ctx context.Context, source *models.QuerySource) error
	GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error)
	StoreFeedback(ctx context.Context, feedback *models.Feedback) error
}

type ReportCache interface {
	GetReport(ctx context.Context, userID string, report interface{}) (bool, error)
	SetReport(ctx context.Context, userID string, report interface{}, ttl time.Duration) error
}

type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]vector.Match, error)
}

type Scraper interface {
	Scrape(ctx context.Context, url string) ([]web.Page, error)
}

type ConditionHistory interface {
	ConditionNames(ctx context.Context, userID string) ([]string, error)
}

type Config struct {
	KnowledgeTopK int
	ReportTTL     time.Duration
}

// Dependencies wires the engine. Only Store, Aggregator and Generator are
// required.
type Dependencies struct {
	Store      Store
	Cache      ReportCache
	Knowledge  KnowledgeSearcher
	Scraper    Scraper
	Conditions ConditionHistory
	Aggregator *assistant.Aggregator
	Generator  generator.Generator
}

type Engine struct {
	cfg  Config
	deps Dependencies
}

type QueryRequest struct {
	Query           string
	UserID          string
	Profile         assistant.Profile
	Context         string
	Report          *assistant.Report
	WebsiteURL      string
	IncludeDietPlan bool
}

type Source struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Relevance float64 `json:"relevance"`
}

type QueryResponse struct {
	ID         string             `json:"query_id"`
	Query      string             `json:"query"`
	Response   string             `json:"response"`
	DietPlan   []string           `json:"diet_plan,omitempty"`
	Sources    []Source           `json:"sources"`
	Confidence float64            `json:"confidence"`
	Metadata   assistant.Metadata `json:"metadata"`
	UsedAPI    bool               `json:"used_api"`
	LatencyMS  int                `json:"latency_ms"`
}

func NewEngine(cfg Config, deps Dependencies) *Engine {
	if cfg.KnowledgeTopK <= 0 {
		cfg.KnowledgeTopK = defaultKnowledgeTopK
	}
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = defaultReportTTL
	}
	return &Engine{cfg: cfg, deps: deps}
}

// ProcessQuery never fails because the generator is unavailable: the user
// gets a safe generic answer with degraded confidence instead.
func (e *Engine) ProcessQuery(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	startTime := time.Now()
	queryID := uuid.New().String()

	logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.String("user_id", req.UserID),
	)

	report := req.Report
	if report == nil && req.UserID != "" {
		report = e.latestReport(ctx, req.UserID)
	}

	website := e.website(ctx, req.WebsiteURL)

	matches, err := e.searchKnowledge(ctx, req.Query)
	if err != nil {
		logger.Warn("Knowledge retrieval failed", zap.Error(err))
	}
	documents := make([]assistant.Document, 0, len(matches))
	sources := make([]Source, 0, len(matches))
	for _, m := range matches {
		documents = append(documents, assistant.Document{Content: m.Text, Source: m.Source})
		sources = append(sources, Source{
			Title:     m.Title,
			URL:       m.Source,
			Relevance: math.Round(m.Score*100) / 100,
		})
	}

	var prior []string
	if e.deps.Conditions != nil && req.UserID != "" {
		prior, err = e.deps.Conditions.ConditionNames(ctx, req.UserID)
		if err != nil {
			logger.Warn("Condition history unavailable", zap.Error(err))
		}
	}

	includeReport := report != nil && assistant.IsReportRelated(req.Query)
	aggregated := e.deps.Aggregator.Aggregate(assistant.Input{
		Query:           req.Query,
		Profile:         req.Profile,
		Report:          report,
		IncludeReport:   includeReport,
		Website:         website,
		Documents:       documents,
		Conversation:    req.Context,
		PriorConditions: prior,
	})
	metrics.DangerFlags.Add(float64(len(aggregated.Metadata.DangerFlags)))

	resp := &QueryResponse{
		ID:       queryID,
		Query:    req.Query,
		Sources:  sources,
		Metadata: aggregated.Metadata,
	}

	out, err := e.deps.Generator.Generate(ctx, generator.Request{
		System: assistant.SystemPrompt(req.IncludeDietPlan),
		User:   assistant.UserPrompt(aggregated, true),
	})
	if err != nil {
		logger.Warn("Generator unavailable, returning fallback response",
			zap.String("query_id", queryID),
			zap.Error(err),
		)
		metrics.ChatQueries.WithLabelValues("fallback").Inc()
		resp.Response = FallbackResponse
		resp.Confidence = fallbackConfidence
	} else {
		metrics.ChatQueries.WithLabelValues("success").Inc()
		resp.Response = out.Summary
		resp.UsedAPI = out.UsedAPI
		if req.IncludeDietPlan {
			resp.DietPlan = out.DietPlan
		}
		resp.Confidence = confidence(out, aggregated.Metadata)
	}
	metrics.ConfidenceScore.WithLabelValues("chat").Observe(resp.Confidence)

	resp.LatencyMS = int(time.Since(startTime).Milliseconds())
	e.saveQuery(ctx, req, resp, includeReport, website != nil)

	logger.Info("Query processed successfully",
		zap.String("query_id", queryID),
		zap.Float64("confidence", resp.Confidence),
		zap.Int("documents", len(documents)),
		zap.Int("latency_ms", resp.LatencyMS),
	)
	return resp, nil
}

// confidence is the verifier score, capped by the model's self-reported
// confidence when it gave one.
func confidence(out *generator.Output, meta assistant.Metadata) float64 {
	score := verify.Score(verify.Verify(out.Summary, meta.ReportFacts, meta.ReportEvidence))
	if out.Confidence != nil {
		score = math.Min(score, math.Max(0, *out.Confidence))
	}
	return score
}

// latestReport reads through the cache. A miss or cache failure falls back to
// the store; the result is cached for the configured TTL.
func (e *Engine) latestReport(ctx context.Context, userID string) *assistant.Report {
	if e.deps.Cache != nil {
		var cached assistant.Report
		found, err := e.deps.Cache.GetReport(ctx, userID, &cached)
		if err != nil {
			logger.Warn("Report cache read failed", zap.Error(err))
		}
		if found {
			return &cached
		}
	}

	record, err := e.deps.Store.GetLatestReport(ctx, userID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil
	}
	if err != nil {
		logger.Warn("Failed to load latest report", zap.Error(err))
		return nil
	}

	report := toAssistantReport(record)
	if e.deps.Cache != nil {
		if err := e.deps.Cache.SetReport(ctx, userID, report, e.cfg.ReportTTL); err != nil {
			logger.Warn("Report cache write failed", zap.Error(err))
		}
	}
	return report
}

func toAssistantReport(r *models.Report) *assistant.Report {
	report := &assistant.Report{
		ProcessingResult: r.Summary,
		Text:             r.RawText,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
		FileName:         r.FileName,
		RiskMetrics:      r.Diagnosis,
	}
	if r.LabResultsJSON != "" {
		if err := json.Unmarshal([]byte(r.LabResultsJSON), &report.LabResults); err != nil {
			logger.Warn("Stored lab results are not valid JSON", zap.String("report_id", r.ID), zap.Error(err))
		}
	}
	if r.ResultJSON != "" {
		var stored struct {
			DietPlan []string `json:"diet_plan"`
		}
		if err := json.Unmarshal([]byte(r.ResultJSON), &stored); err == nil {
			report.Recommendations = strings.Join(stored.DietPlan, "; ")
		}
	}
	return report
}

func (e *Engine) website(ctx context.Context, url string) *assistant.Website {
	if url == "" || e.deps.Scraper == nil {
		return nil
	}
	pages, err := e.deps.Scraper.Scrape(ctx, url)
	if err != nil || len(pages) == 0 {
		logger.Warn("Website scrape failed", zap.String("url", url), zap.Error(err))
		return nil
	}

	features := web.ExtractStructuredFeatures(pages)
	return &assistant.Website{
		Title:       features.Title,
		KeyFeatures: features.KeyFeatures,
		Summary:     features.ContentSummary,
		SourceURL:   url,
		RawContent:  pages[0].Content,
	}
}

func (e *Engine) searchKnowledge(ctx context.Context, query string) ([]vector.Match, error) {
	if e.deps.Knowledge == nil || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return e.deps.Knowledge.Search(ctx, query, e.cfg.KnowledgeTopK)
}

func (e *Engine) saveQuery(ctx context.Context, req QueryRequest, resp *QueryResponse, reportUsed, websiteUsed bool) {
	record := &models.QueryRecord{
		ID:             resp.ID,
		UserID:         req.UserID,
		QueryText:      req.Query,
		Response:       resp.Response,
		Confidence:     resp.Confidence,
		DocumentsCount: len(resp.Sources),
		ReportUsed:     reportUsed,
		WebsiteUsed:    websiteUsed,
		UsedAPI:        resp.UsedAPI,
		LatencyMS:      resp.LatencyMS,
		CreatedAt:      time.Now(),
	}
	if err := e.deps.Store.InsertQueryRecord(ctx, record); err != nil {
		logger.Warn("Failed to save query record", zap.Error(err))
		return
	}

	for _, s := range resp.Sources {
		err := e.deps.Store.InsertQuerySource(ctx, &models.QuerySource{
			QueryID:   resp.ID,
			Title:     s.Title,
			URL:       s.URL,
			Relevance: s.Relevance,
		})
		if err != nil {
			logger.Warn("Failed to save query source", zap.Error(err))
		}
	}
}

func (e *Engine) History(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return e.deps.Store.GetQueryHistory(ctx, userID, limit)
}

func (e *Engine) SubmitFeedback(ctx context.Context, feedback *models.Feedback) error {
	return e.deps.Store.StoreFeedback(ctx, feedback)
}
