// Package report runs the document pipeline: a stored report file goes in,
// a fact-traceable summary, diagnosis hint and diet plan come out.
package report

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/assistant"
	"github.com/healthsphere/grounded-reports/internal/diet"
	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/internal/format"
	"github.com/healthsphere/grounded-reports/internal/generator"
	"github.com/healthsphere/grounded-reports/internal/ingestion"
	"github.com/healthsphere/grounded-reports/internal/metrics"
	"github.com/healthsphere/grounded-reports/internal/prompt"
	"github.com/healthsphere/grounded-reports/internal/retrieval"
	"github.com/healthsphere/grounded-reports/internal/storage/models"
	"github.com/healthsphere/grounded-reports/internal/verify"
	"github.com/healthsphere/grounded-reports/pkg/apperrors"
	"github.com/healthsphere/grounded-reports/pkg/utils"
)

const (
	NoDataMessage = "Could not extract medical data from report. Please ensure the report contains lab values (glucose, cholesterol, blood pressure, etc.)."

	debugSampleRunes = 400
)

// Store persists processed reports.
type Store interface {
	InsertReport(ctx context.Context, r *models.Report) error
}

// Cache holds the latest report per user for the chat path.
type Cache interface {
	InvalidateReport(ctx context.Context, userID string) error
}

// ConditionGraph records which conditions a report indicated.
type ConditionGraph interface {
	RecordConditions(ctx context.Context, userID, reportID string, conditions []string) error
}

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// UploadDir confines ProcessFile. Paths resolving outside it are rejected.
	UploadDir string
	// Debug adds raw text samples to no-data results. Development only.
	Debug bool
}

// Dependencies wires the pipeline stages. Store, Cache and Graph are optional.
type Dependencies struct {
	Text      *ingestion.TextExtractor
	Extractor *extraction.Extractor
	Retriever *retrieval.Retriever
	Generator generator.Generator
	Diet      *diet.Engine
	Store     Store
	Cache     Cache
	Graph     ConditionGraph
}

type Processor struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
}

type Request struct {
	UserID       string
	FilePath     string
	OriginalName string
	// LabResults are structured entries with reference ranges supplied by
	// the client; out-of-range entries steer condition detection.
	LabResults []assistant.LabResult
}

type TextRequest struct {
	UserID     string
	Text       string
	FileName   string
	LabResults []assistant.LabResult
}

type LabValue struct {
	Parameter string           `json:"parameter"`
	Value     extraction.Value `json:"value"`
	Unit      string           `json:"unit"`
	Field     extraction.Field `json:"field"`
}

type Metadata struct {
	Issues          []string               `json:"issues"`
	ExtractedFields []extraction.Field     `json:"extracted_fields"`
	MissingFields   []extraction.Field     `json:"missing_fields"`
	UsedAPI         bool                   `json:"used_api"`
	Model           string                 `json:"model,omitempty"`
	Debug           map[string]interface{} `json:"debug,omitempty"`
}

type Result struct {
	ReportID             string                `json:"report_id,omitempty"`
	Summary              string                `json:"summary"`
	Diagnosis            string                `json:"diagnosis"`
	PatientName          string                `json:"patient_name"`
	DietPlan             []string              `json:"diet_plan"`
	PersonalizedDietPlan *diet.Plan            `json:"personalized_diet_plan,omitempty"`
	Sources              []extraction.Evidence `json:"sources"`
	Confidence           float64               `json:"confidence"`
	LabValues            []LabValue            `json:"lab_values"`
	Metadata             Metadata              `json:"metadata"`
}

func NewProcessor(cfg Config, deps Dependencies, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = ingestion.DefaultChunkSize
		cfg.ChunkOverlap = ingestion.DefaultChunkOverlap
	}
	return &Processor{cfg: cfg, deps: deps, logger: logger}
}

// ProcessFile reads the stored report and runs the pipeline over its text.
func (p *Processor) ProcessFile(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.FilePath) == "" {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "filePath is required")
	}

	path, err := resolveUpload(p.cfg.UploadDir, req.FilePath)
	if err != nil {
		p.logger.Warn("Rejected report path", zap.String("path", req.FilePath), zap.Error(err))
		return nil, err
	}

	text, err := p.deps.Text.Extract(ctx, path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindExtractionFailed, "failed to extract report text")
	}
	p.logger.Info("Report text extracted",
		zap.String("path", path),
		zap.Int("length", len(text)),
	)
	p.logger.Debug("Report text sample", zap.String("sample", utils.Truncate(text, 500)))

	name := req.OriginalName
	if name == "" {
		name = filepath.Base(path)
	}
	return p.ProcessText(ctx, TextRequest{
		UserID:     req.UserID,
		Text:       text,
		FileName:   name,
		LabResults: req.LabResults,
	})
}

// ProcessText runs extraction, retrieval, generation, verification and
// formatting over already extracted report text.
func (p *Processor) ProcessText(ctx context.Context, req TextRequest) (*Result, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.ReportDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		metrics.ReportsProcessed.WithLabelValues(outcome).Inc()
	}()

	extracted := p.deps.Extractor.Extract(req.Text)
	facts := extracted.Facts
	missing := facts.Missing()
	p.logger.Info("Facts extracted",
		zap.Strings("fields", fieldNames(facts.Fields())),
		zap.Int("evidence", len(extracted.Evidence)),
	)

	if facts.IsEmpty() {
		outcome = "no_data"
		var debug map[string]interface{}
		if p.cfg.Debug {
			debug = map[string]interface{}{
				"raw_text_len": len(req.Text),
				"sample":       sample(req.Text),
			}
		}
		return &Result{
			Summary:    NoDataMessage,
			DietPlan:   []string{},
			Sources:    []extraction.Evidence{},
			LabValues:  []LabValue{},
			Confidence: 0,
			Metadata: Metadata{
				Issues:          []string{},
				ExtractedFields: []extraction.Field{},
				MissingFields:   missing,
				Debug:           debug,
			},
		}, nil
	}

	chunks, err := ingestion.ChunkText(req.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to chunk report")
	}
	candidates, err := p.deps.Retriever.Retrieve(ctx, chunks, facts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to retrieve evidence")
	}
	reranked := retrieval.Rerank(candidates, facts)
	evidence := topEvidence(extracted.Evidence, reranked)

	pr := prompt.Build(facts, evidence)
	out, err := p.deps.Generator.Generate(ctx, generator.Request{
		System:         pr.System,
		User:           pr.User,
		Structured:     pr.Structured,
		RequiredFields: pr.RequiredFields,
	})
	if err != nil {
		p.logger.Error("Generator call failed", zap.Error(err))
		return nil, apperrors.Wrap(err, apperrors.KindGeneratorUnavailable, "report generation failed")
	}

	checked := verify.Verify(out.Text, facts, evidence)
	confidence := verify.Score(checked)
	if len(checked.Issues) > 0 {
		p.logger.Warn("Verification issues detected", zap.Strings("issues", checked.Issues))
	}
	metrics.VerificationIssues.Observe(float64(len(checked.Issues)))
	metrics.ConfidenceScore.WithLabelValues("report").Observe(confidence)

	formatted := format.Format(out, facts)
	flags := assistant.DetectDangerousValues(&assistant.Report{LabResults: req.LabResults})
	flagNames := make([]string, len(flags))
	for i, f := range flags {
		flagNames[i] = f.TestName
	}
	plan := p.deps.Diet.Generate(flagNames, formatted.Summary)

	patient := ""
	if v, ok := facts.Get(extraction.PatientName); ok {
		patient = v.String()
	}

	result := &Result{
		Summary:              formatted.Summary,
		Diagnosis:            formatted.Diagnosis,
		PatientName:          patient,
		DietPlan:             formatted.DietPlan,
		PersonalizedDietPlan: &plan,
		Sources:              evidence,
		Confidence:           confidence,
		LabValues:            LabValues(facts),
		Metadata: Metadata{
			Issues:          checked.Issues,
			ExtractedFields: facts.Fields(),
			MissingFields:   missing,
			UsedAPI:         out.UsedAPI,
			Model:           out.Model,
		},
	}

	p.persist(ctx, req, result, plan.ConditionsDetected)
	outcome = "success"

	p.logger.Info("Report processed",
		zap.String("report_id", result.ReportID),
		zap.Float64("confidence", confidence),
		zap.Int("sources", len(evidence)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// persist stores the result and propagates it to the cache and graph. None
// of these failures fail the request.
func (p *Processor) persist(ctx context.Context, req TextRequest, result *Result, conditions []diet.Condition) {
	if p.deps.Store == nil {
		return
	}
	result.ReportID = uuid.New().String()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		p.logger.Warn("Failed to encode report result", zap.Error(err))
	}
	labsJSON := []byte("[]")
	if len(req.LabResults) > 0 {
		if labsJSON, err = json.Marshal(req.LabResults); err != nil {
			p.logger.Warn("Failed to encode lab results", zap.Error(err))
			labsJSON = []byte("[]")
		}
	}

	record := &models.Report{
		ID:             result.ReportID,
		UserID:         req.UserID,
		FileName:       req.FileName,
		RawText:        req.Text,
		Summary:        result.Summary,
		Diagnosis:      result.Diagnosis,
		Confidence:     result.Confidence,
		ResultJSON:     string(resultJSON),
		LabResultsJSON: string(labsJSON),
		CreatedAt:      time.Now(),
	}
	if err := p.deps.Store.InsertReport(ctx, record); err != nil {
		p.logger.Warn("Failed to save report", zap.Error(err))
		result.ReportID = ""
		return
	}

	if req.UserID == "" {
		return
	}
	if p.deps.Cache != nil {
		if err := p.deps.Cache.InvalidateReport(ctx, req.UserID); err != nil {
			p.logger.Warn("Failed to invalidate cached report", zap.Error(err))
		}
	}
	if p.deps.Graph != nil && len(conditions) > 0 {
		names := make([]string, len(conditions))
		for i, c := range conditions {
			names[i] = string(c)
		}
		if err := p.deps.Graph.RecordConditions(ctx, req.UserID, record.ID, names); err != nil {
			p.logger.Warn("Failed to record conditions", zap.Error(err))
		}
	}
}

// topEvidence keeps evidence whose text appears inside a reranked snippet.
func topEvidence(evidence []extraction.Evidence, candidates []retrieval.Candidate) []extraction.Evidence {
	out := []extraction.Evidence{}
	for _, ev := range evidence {
		for _, c := range candidates {
			if strings.Contains(c.Snippet, ev.Text) {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

func fieldNames(fields []extraction.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func sample(text string) string {
	if text == "" {
		return "empty"
	}
	return utils.Truncate(text, debugSampleRunes)
}
