// Package evaluation measures extraction accuracy and retrieval quality over
// a labelled dataset of report texts.
package evaluation

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/internal/ingestion"
	"github.com/healthsphere/grounded-reports/internal/retrieval"
	"github.com/healthsphere/grounded-reports/pkg/logger"
)

type Evaluator struct {
	extractor    *extraction.Extractor
	retriever    *retrieval.Retriever
	chunkSize    int
	chunkOverlap int
}

// Dataset is loaded from YAML; JSON files parse as well.
type Dataset struct {
	Items []DatasetItem `yaml:"items"`
}

type DatasetItem struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
	// ExpectedFacts maps field names to canonical value strings.
	ExpectedFacts  map[string]string `yaml:"expected_facts"`
	RelevantChunks []string          `yaml:"relevant_chunks"`
	K              int               `yaml:"k"`
}

type ItemResult struct {
	Name           string
	FactsExpected  int
	FactsMatched   int
	MissingFields  []string
	WrongFields    []string
	RetrievedIDs   []string
	HitRate        float64
	RecallAtK      float64
	NDCGAtK        float64
	RetrievalError string
}

type EvaluationReport struct {
	TotalItems      int
	FactAccuracy    float64
	AvgHitRate      float64
	AvgRecallAtK    float64
	AvgNDCGAtK      float64
	RetrievalScored int
	RetrievalFailed int
	Items           []ItemResult
}

func NewEvaluator(extractor *extraction.Extractor, retriever *retrieval.Retriever, chunkSize, chunkOverlap int) *Evaluator {
	return &Evaluator{
		extractor:    extractor,
		retriever:    retriever,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// LoadDataset reads a YAML or JSON dataset file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return ParseDataset(data)
}

func ParseDataset(data []byte) (*Dataset, error) {
	var dataset Dataset
	if err := yaml.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &dataset, nil
}

// EvaluateItem extracts facts from one report and, when relevant chunks are
// labelled, scores the reranked retrieval against them.
func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) ItemResult {
	res := ItemResult{Name: item.Name, FactsExpected: len(item.ExpectedFacts)}

	extracted := e.extractor.Extract(item.Text)
	for field, want := range item.ExpectedFacts {
		got, ok := extracted.Facts.Get(extraction.Field(field))
		switch {
		case !ok:
			res.MissingFields = append(res.MissingFields, field)
		case got.String() != want:
			res.WrongFields = append(res.WrongFields, field)
		default:
			res.FactsMatched++
		}
	}

	if len(item.RelevantChunks) == 0 {
		return res
	}

	chunks, err := ingestion.ChunkText(item.Text, e.chunkSize, e.chunkOverlap)
	if err != nil {
		res.RetrievalError = err.Error()
		return res
	}
	candidates, err := e.retriever.Retrieve(ctx, chunks, extracted.Facts)
	if err != nil {
		res.RetrievalError = err.Error()
		return res
	}
	for _, c := range retrieval.Rerank(candidates, extracted.Facts) {
		res.RetrievedIDs = append(res.RetrievedIDs, c.ChunkID)
	}

	k := item.K
	if k <= 0 {
		k = len(res.RetrievedIDs)
	}
	res.HitRate = HitRate(res.RetrievedIDs, item.RelevantChunks)
	res.RecallAtK = RecallAtK(res.RetrievedIDs, item.RelevantChunks, k)
	res.NDCGAtK = NDCGAtK(res.RetrievedIDs, item.RelevantChunks, k)
	return res
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *Dataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &EvaluationReport{
		TotalItems: len(dataset.Items),
	}

	var expected, matched int
	var totalHit, totalRecall, totalNDCG float64

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debug("Evaluating item", zap.Int("index", i+1), zap.String("name", item.Name))

		res := e.EvaluateItem(ctx, item)
		report.Items = append(report.Items, res)

		expected += res.FactsExpected
		matched += res.FactsMatched

		switch {
		case res.RetrievalError != "":
			report.RetrievalFailed++
			logger.Warn("Retrieval failed during evaluation", zap.String("item", item.Name), zap.String("error", res.RetrievalError))
		case len(item.RelevantChunks) > 0:
			report.RetrievalScored++
			totalHit += res.HitRate
			totalRecall += res.RecallAtK
			totalNDCG += res.NDCGAtK
		}
	}

	if expected > 0 {
		report.FactAccuracy = float64(matched) / float64(expected)
	}
	if report.RetrievalScored > 0 {
		n := float64(report.RetrievalScored)
		report.AvgHitRate = totalHit / n
		report.AvgRecallAtK = totalRecall / n
		report.AvgNDCGAtK = totalNDCG / n
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalItems),
		zap.Float64("fact_accuracy", report.FactAccuracy),
		zap.Float64("avg_recall_at_k", report.AvgRecallAtK),
	)

	return report, nil
}

func GenerateReport(report *EvaluationReport) string {
	return fmt.Sprintf(`
Evaluation Report
=================

Total Items: %d

Extraction:
- Fact Accuracy: %.1f%%

Retrieval (%d scored, %d failed):
- Hit Rate: %.3f
- Recall@k: %.3f
- nDCG@k: %.3f
`,
		report.TotalItems,
		report.FactAccuracy*100,
		report.RetrievalScored, report.RetrievalFailed,
		report.AvgHitRate,
		report.AvgRecallAtK,
		report.AvgNDCGAtK,
	)
}
