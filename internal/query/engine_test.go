package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthsphere/grounded-reports/internal/assistant"
	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/internal/generator"
	"github.com/healthsphere/grounded-reports/internal/llm"
	"github.com/healthsphere/grounded-reports/internal/search/web"
	"github.com/healthsphere/grounded-reports/internal/storage/models"
	"github.com/healthsphere/grounded-reports/internal/storage/sqlite"
	"github.com/healthsphere/grounded-reports/internal/vector"
	"github.com/healthsphere/grounded-reports/pkg/apperrors"
)

type fakeStore struct {
	latest   *models.Report
	records  []*models.QueryRecord
	sources  []*models.QuerySource
	lookups  int
	feedback []*models.Feedback
}

func (f *fakeStore) GetLatestReport(_ context.Context, _ string) (*models.Report, error) {
	f.lookups++
	if f.latest == nil {
		return nil, sqlite.ErrNotFound
	}
	return f.latest, nil
}

func (f *fakeStore) InsertQueryRecord(_ context.Context, r *models.QueryRecord) error {
	f.records = append(f.records, r)
	return nil
}

func (f *fakeStore) InsertQuerySource(_ context.Context, s *models.QuerySource) error {
	f.sources = append(f.sources, s)
	return nil
}

func (f *fakeStore) GetQueryHistory(_ context.Context, _ string, limit int) ([]models.QueryRecord, error) {
	out := []models.QueryRecord{}
	for i, r := range f.records {
		if i == limit {
			break
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) StoreFeedback(_ context.Context, fb *models.Feedback) error {
	f.feedback = append(f.feedback, fb)
	return nil
}

type memoryCache struct {
	reports map[string]assistant.Report
	ttl     time.Duration
}

func (m *memoryCache) GetReport(_ context.Context, userID string, v interface{}) (bool, error) {
	r, ok := m.reports[userID]
	if ok {
		*(v.(*assistant.Report)) = r
	}
	return ok, nil
}

func (m *memoryCache) SetReport(_ context.Context, userID string, v interface{}, ttl time.Duration) error {
	m.reports[userID] = *(v.(*assistant.Report))
	m.ttl = ttl
	return nil
}

type fakeKnowledge struct{ matches []vector.Match }

func (f *fakeKnowledge) Search(_ context.Context, _ string, topK int) ([]vector.Match, error) {
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

type fakeScraper struct{ pages []web.Page }

func (f *fakeScraper) Scrape(_ context.Context, _ string) ([]web.Page, error) {
	return f.pages, nil
}

type fakeConditions struct{ names []string }

func (f *fakeConditions) ConditionNames(_ context.Context, _ string) ([]string, error) {
	return f.names, nil
}

type fakeGenerator struct {
	out  *generator.Output
	err  error
	last generator.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req generator.Request) (*generator.Output, error) {
	f.last = req
	return f.out, f.err
}

func newEngine(store *fakeStore, gen *fakeGenerator, cache *memoryCache) *Engine {
	deps := Dependencies{
		Store: store,
		Knowledge: &fakeKnowledge{matches: []vector.Match{
			{Entry: vector.Entry{Title: "Fiber and LDL", Text: "Soluble fiber lowers LDL.", Source: "kb/fiber.md"}, Score: 0.8765},
		}},
		Conditions: &fakeConditions{names: []string{"diabetes"}},
		Aggregator: assistant.NewAggregator(extraction.NewExtractor(nil), nil),
		Generator:  gen,
	}
	if cache != nil {
		deps.Cache = cache
	}
	return NewEngine(Config{}, deps)
}

func TestProcessQueryGroundedAnswer(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{out: &generator.Output{
		Text:     `{"summary": "Eat more oats.", "diet_plan": ["Oats for breakfast"]}`,
		Summary:  "Eat more oats.",
		DietPlan: []string{"Oats for breakfast"},
		UsedAPI:  true,
	}}
	e := newEngine(store, gen, nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{
		Query:           "How can I lower my cholesterol?",
		UserID:          "u1",
		Profile:         assistant.Profile{"age": 44.0},
		IncludeDietPlan: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Eat more oats.", resp.Response)
	assert.Equal(t, []string{"Oats for breakfast"}, resp.DietPlan)
	assert.Equal(t, 1.0, resp.Confidence)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, Source{Title: "Fiber and LDL", URL: "kb/fiber.md", Relevance: 0.88}, resp.Sources[0])
	assert.Contains(t, resp.Metadata.MissingProfileFields, "gender")
	assert.NotContains(t, resp.Metadata.MissingProfileFields, "age")

	assert.Contains(t, gen.last.User, "Soluble fiber lowers LDL.")
	assert.Contains(t, gen.last.User, "Conditions From Previous Reports: diabetes")
	assert.Contains(t, gen.last.System, "personalized diet plan")

	require.Len(t, store.records, 1)
	assert.Equal(t, resp.ID, store.records[0].ID)
	assert.Equal(t, 1, store.records[0].DocumentsCount)
	require.Len(t, store.sources, 1)
	assert.Equal(t, resp.ID, store.sources[0].QueryID)
}

func TestProcessQueryGeneratorFailureFallsBack(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{err: apperrors.New(apperrors.KindGeneratorUnavailable, "all generators failed")}
	e := newEngine(store, gen, nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "Is walking good for me?", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, FallbackResponse, resp.Response)
	assert.Equal(t, 0.2, resp.Confidence)
	assert.False(t, resp.UsedAPI)
	require.Len(t, store.records, 1)
}

func TestProcessQueryModelConfidenceCaps(t *testing.T) {
	low := 0.6
	gen := &fakeGenerator{out: &generator.Output{Summary: "Walk daily.", Confidence: &low}}
	e := newEngine(&fakeStore{}, gen, nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "exercise tips"})
	require.NoError(t, err)
	assert.Equal(t, 0.6, resp.Confidence)
	assert.Nil(t, resp.DietPlan)
}

type fencedCompleter struct{ content string }

func (f fencedCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: f.content, Model: "chat-model"}, nil
}

func (f fencedCompleter) Model() string { return "chat-model" }

func TestProcessQueryFencedJSONReply(t *testing.T) {
	reply := "```json\n{\"summary\": \"Eat more fiber.\", \"diet_plan\": [\"Oats for breakfast\"], \"confidence\": 0.7}\n```"
	deps := Dependencies{
		Store:      &fakeStore{},
		Aggregator: assistant.NewAggregator(extraction.NewExtractor(nil), nil),
		Generator:  generator.NewAdapter(generator.Config{Model: "chat-model"}, fencedCompleter{content: reply}, nil),
	}
	e := NewEngine(Config{}, deps)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{
		Query:           "How do I lower LDL?",
		IncludeDietPlan: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Eat more fiber.", resp.Response)
	assert.Equal(t, []string{"Oats for breakfast"}, resp.DietPlan)
	assert.Equal(t, 0.7, resp.Confidence)
	assert.True(t, resp.UsedAPI)
}

func TestProcessQueryUnverifiedNumberLowersConfidence(t *testing.T) {
	gen := &fakeGenerator{out: &generator.Output{Summary: "Aim for 250 minutes a week."}}
	e := newEngine(&fakeStore{}, gen, nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "exercise tips"})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
}

func TestProcessQueryReportFromStoreIsCached(t *testing.T) {
	store := &fakeStore{latest: &models.Report{
		ID:             "r1",
		UserID:         "u1",
		FileName:       "labs.pdf",
		RawText:        "Fasting Glucose: 165 mg/dL\nLDL: 160 mg/dL",
		Summary:        "Glucose is high.",
		LabResultsJSON: `[{"test_name": "Glucose", "value": 165, "ref_range": {"low": 70, "high": 100}}]`,
		ResultJSON:     `{"diet_plan": ["Limit sugar"]}`,
		CreatedAt:      time.Now(),
	}}
	cache := &memoryCache{reports: map[string]assistant.Report{}}
	gen := &fakeGenerator{out: &generator.Output{Summary: "Your glucose of 165 is high."}}
	e := newEngine(store, gen, cache)

	req := QueryRequest{Query: "Explain my lab results", UserID: "u1"}
	resp, err := e.ProcessQuery(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, store.lookups)
	assert.Equal(t, defaultReportTTL, cache.ttl)
	assert.Equal(t, "Limit sugar", cache.reports["u1"].Recommendations)
	assert.Contains(t, gen.last.User, "User's Latest Medical Report:")
	assert.Contains(t, gen.last.User, "Alert:")

	assert.True(t, resp.Metadata.NeedsProfessionalReview)
	assert.Equal(t, []string{"Glucose"}, resp.Metadata.FlagNames())
	v, ok := resp.Metadata.ReportFacts.Get(extraction.FastingGlucose)
	require.True(t, ok)
	assert.Equal(t, "165", v.String())
	// 165 is an extracted fact so it is not an unverified claim
	assert.Equal(t, 1.0, resp.Confidence)

	_, err = e.ProcessQuery(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, store.lookups)
}

func TestProcessQueryUnrelatedQueryOmitsReport(t *testing.T) {
	gen := &fakeGenerator{out: &generator.Output{Summary: "Sleep 8 hours."}}
	e := newEngine(&fakeStore{}, gen, nil)

	_, err := e.ProcessQuery(context.Background(), QueryRequest{
		Query:  "How much should I sleep?",
		Report: &assistant.Report{ProcessingResult: "Cholesterol high"},
	})
	require.NoError(t, err)
	assert.NotContains(t, gen.last.User, "User's Latest Medical Report:")
}

func TestProcessQueryWebsite(t *testing.T) {
	gen := &fakeGenerator{out: &generator.Output{Summary: "ok"}}
	e := newEngine(&fakeStore{}, gen, nil)
	e.deps.Scraper = &fakeScraper{pages: []web.Page{{
		URL:     "https://clinic.example",
		Title:   "Clinic",
		Content: "Our nutrition service helps patients improve their diet. Book online.",
	}}}

	_, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "What does this clinic offer?", WebsiteURL: "https://clinic.example"})
	require.NoError(t, err)
	assert.Contains(t, gen.last.User, "Title: Clinic")
	assert.Contains(t, gen.last.User, "Key Features:")
}

func TestHistoryAndFeedback(t *testing.T) {
	store := &fakeStore{}
	e := newEngine(store, &fakeGenerator{out: &generator.Output{Summary: "ok"}}, nil)

	for i := 0; i < 3; i++ {
		_, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "hi", UserID: "u1"})
		require.NoError(t, err)
	}
	history, err := e.History(context.Background(), "u1", 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	require.NoError(t, e.SubmitFeedback(context.Background(), &models.Feedback{QueryID: history[0].ID, Helpful: true}))
	assert.Len(t, store.feedback, 1)
}
