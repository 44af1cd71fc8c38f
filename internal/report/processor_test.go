package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthsphere/grounded-reports/internal/assistant"
	"github.com/healthsphere/grounded-reports/internal/diet"
	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/internal/generator"
	"github.com/healthsphere/grounded-reports/internal/ingestion"
	"github.com/healthsphere/grounded-reports/internal/retrieval"
	"github.com/healthsphere/grounded-reports/internal/storage/models"
	"github.com/healthsphere/grounded-reports/pkg/apperrors"
)

const panel = `Patient Name: John Doe
Fasting Glucose: 165 mg/dL
HbA1c: 8.5%
Total Cholesterol: 240 mg/dL
LDL: 160 mg/dL
HDL: 38 mg/dL
Triglycerides: 210 mg/dL
Blood Pressure: 150/95 mmHg`

type fakeGenerator struct {
	out   *generator.Output
	err   error
	calls int
	last  generator.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req generator.Request) (*generator.Output, error) {
	f.calls++
	f.last = req
	return f.out, f.err
}

type fakeStore struct{ reports []*models.Report }

func (f *fakeStore) InsertReport(_ context.Context, r *models.Report) error {
	f.reports = append(f.reports, r)
	return nil
}

type fakeCache struct{ invalidated []string }

func (f *fakeCache) InvalidateReport(_ context.Context, userID string) error {
	f.invalidated = append(f.invalidated, userID)
	return nil
}

type fakeGraph struct{ conditions map[string][]string }

func (f *fakeGraph) RecordConditions(_ context.Context, _, reportID string, conditions []string) error {
	f.conditions[reportID] = conditions
	return nil
}

type fixture struct {
	dir   string
	proc  *Processor
	gen   *fakeGenerator
	store *fakeStore
	cache *fakeCache
	graph *fakeGraph
}

func newFixture(t *testing.T, out *generator.Output, genErr error) *fixture {
	t.Helper()
	catalog, err := diet.DefaultCatalog()
	require.NoError(t, err)

	f := &fixture{
		dir:   t.TempDir(),
		gen:   &fakeGenerator{out: out, err: genErr},
		store: &fakeStore{},
		cache: &fakeCache{},
		graph: &fakeGraph{conditions: map[string][]string{}},
	}
	f.proc = NewProcessor(Config{ChunkSize: 200, ChunkOverlap: 20, UploadDir: f.dir, Debug: true}, Dependencies{
		Text:      ingestion.NewTextExtractor(nil),
		Extractor: extraction.NewExtractor(nil),
		Retriever: retrieval.NewRetriever(retrieval.NewHashEmbedder(32), 12, nil),
		Generator: f.gen,
		Diet:      diet.NewEngine(catalog, nil),
		Store:     f.store,
		Cache:     f.cache,
		Graph:     f.graph,
	}, nil)
	return f
}

func TestProcessTextNoFacts(t *testing.T) {
	f := newFixture(t, nil, nil)

	res, err := f.proc.ProcessText(context.Background(), TextRequest{UserID: "u1", Text: "Nothing measurable here."})
	require.NoError(t, err)

	assert.Equal(t, NoDataMessage, res.Summary)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Empty(t, res.DietPlan)
	assert.Empty(t, res.Sources)
	assert.Len(t, res.Metadata.MissingFields, len(extraction.RequiredFields))
	assert.Equal(t, 0, f.gen.calls)
	assert.Empty(t, f.store.reports)
}

func TestProcessTextStructuredOutput(t *testing.T) {
	f := newFixture(t, &generator.Output{
		Text:    `{"diagnosis": "Diabetes and high cholesterol", "summary": "Blood sugar is high.", "diet_plan": ["Cut sugary drinks"]}`,
		UsedAPI: true,
		Model:   "gemini-1.5-flash",
	}, nil)

	res, err := f.proc.ProcessText(context.Background(), TextRequest{UserID: "u1", Text: panel, FileName: "panel.txt"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.gen.calls)
	assert.Contains(t, f.gen.last.User, "fasting_glucose: 165")
	assert.Equal(t, "165", f.gen.last.Structured["fasting_glucose"])

	assert.Equal(t, "Diabetes and high cholesterol", res.Diagnosis)
	assert.Contains(t, res.Summary, "Medical Diagnosis:")
	assert.Equal(t, []string{"Cut sugary drinks"}, res.DietPlan)
	assert.Equal(t, "John Doe", res.PatientName)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Empty(t, res.Metadata.Issues)
	assert.True(t, res.Metadata.UsedAPI)

	// every source is a verbatim slice of the report
	require.NotEmpty(t, res.Sources)
	for _, ev := range res.Sources {
		assert.Equal(t, panel[ev.Start:ev.End], ev.Text)
	}

	require.NotNil(t, res.PersonalizedDietPlan)
	assert.Contains(t, res.PersonalizedDietPlan.ConditionsDetected, diet.Condition("diabetes"))

	require.Len(t, f.store.reports, 1)
	assert.Equal(t, res.ReportID, f.store.reports[0].ID)
	assert.Equal(t, "panel.txt", f.store.reports[0].FileName)
	assert.Equal(t, []string{"u1"}, f.cache.invalidated)
	assert.Contains(t, f.graph.conditions[res.ReportID], "diabetes")
}

func TestProcessTextUnverifiedClaimLowersConfidence(t *testing.T) {
	f := newFixture(t, &generator.Output{Text: "Your glucose of 999 is concerning."}, nil)

	res, err := f.proc.ProcessText(context.Background(), TextRequest{Text: panel})
	require.NoError(t, err)

	assert.Equal(t, []string{"Potentially unverified numeric claim: 999"}, res.Metadata.Issues)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	// unparsed output falls back to the fact summary
	assert.Contains(t, res.Summary, "Patient Report Summary")
	assert.NotEmpty(t, res.DietPlan)
}

func TestProcessTextGeneratorFailure(t *testing.T) {
	f := newFixture(t, nil, apperrors.New(apperrors.KindGeneratorUnavailable, "all generators failed"))

	_, err := f.proc.ProcessText(context.Background(), TextRequest{Text: panel})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindGeneratorUnavailable))
	assert.Empty(t, f.store.reports)
}

func TestProcessTextDangerFlagsSteerDiet(t *testing.T) {
	f := newFixture(t, &generator.Output{Text: `{"summary": "Mostly normal."}`}, nil)
	low := 60.0

	res, err := f.proc.ProcessText(context.Background(), TextRequest{
		Text: "Fasting Glucose: 90 mg/dL",
		LabResults: []assistant.LabResult{
			{TestName: "eGFR", Value: 45.0, RefRange: &assistant.RefRange{Low: &low}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, res.PersonalizedDietPlan.ConditionsDetected, diet.Condition("kidney_disease"))
}

func TestProcessFile(t *testing.T) {
	f := newFixture(t, &generator.Output{Text: `{"summary": "ok"}`}, nil)
	path := filepath.Join(f.dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte(panel), 0o600))

	res, err := f.proc.ProcessFile(context.Background(), Request{UserID: "u1", FilePath: path, OriginalName: "lab.txt"})
	require.NoError(t, err)
	assert.Equal(t, "lab.txt", f.store.reports[0].FileName)
	assert.NotEmpty(t, res.LabValues)

	// Relative paths resolve inside the upload directory.
	_, err = f.proc.ProcessFile(context.Background(), Request{UserID: "u1", FilePath: "report.txt"})
	require.NoError(t, err)
	assert.Equal(t, "report.txt", f.store.reports[1].FileName)

	_, err = f.proc.ProcessFile(context.Background(), Request{})
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidRequest))
}

func TestProcessFileMissingIsNoData(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.proc.ProcessFile(context.Background(), Request{FilePath: filepath.Join(f.dir, "gone.pdf")})
	require.NoError(t, err)
	assert.Equal(t, NoDataMessage, res.Summary)
	assert.Equal(t, "empty", res.Metadata.Debug["sample"])
}

func TestProcessFileRejectsPathsOutsideUploadDir(t *testing.T) {
	f := newFixture(t, &generator.Output{Text: `{"summary": "ok"}`}, nil)

	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte(panel), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(f.dir, "link.txt")))
	require.NoError(t, os.Symlink(filepath.Dir(outside), filepath.Join(f.dir, "linkdir")))

	paths := []string{
		"../secret.txt",
		"../../../../etc/passwd",
		"/etc/passwd",
		outside,
		filepath.Join(f.dir, "..", filepath.Base(filepath.Dir(outside)), "secret.txt"),
		"link.txt",
		filepath.Join("linkdir", "secret.txt"),
		f.dir,
		".",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			res, err := f.proc.ProcessFile(context.Background(), Request{UserID: "u1", FilePath: path})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, apperrors.Is(err, apperrors.KindInvalidRequest), err)
		})
	}
	assert.Empty(t, f.store.reports)
	assert.Zero(t, f.gen.calls)
}

func TestProcessFileFollowsSymlinksInsideUploadDir(t *testing.T) {
	f := newFixture(t, &generator.Output{Text: `{"summary": "ok"}`}, nil)
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "2024"), 0o700))
	target := filepath.Join(f.dir, "2024", "report.txt")
	require.NoError(t, os.WriteFile(target, []byte(panel), 0o600))
	require.NoError(t, os.Symlink(target, filepath.Join(f.dir, "latest.txt")))

	res, err := f.proc.ProcessFile(context.Background(), Request{UserID: "u1", FilePath: "latest.txt"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.LabValues)
}

func TestNoDataOmitsDebugOutsideDevelopment(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.proc.cfg.Debug = false

	res, err := f.proc.ProcessText(context.Background(), TextRequest{Text: "Nothing measurable here."})
	require.NoError(t, err)
	assert.Equal(t, NoDataMessage, res.Summary)
	assert.Nil(t, res.Metadata.Debug)
}

func TestLabValues(t *testing.T) {
	res := extraction.NewExtractor(nil).Extract(panel)
	rows := LabValues(res.Facts)

	require.Len(t, rows, 8)
	assert.Equal(t, "Fasting Glucose", rows[0].Parameter)
	assert.Equal(t, "mg/dL", rows[0].Unit)
	assert.Equal(t, "165", rows[0].Value.String())
	assert.Equal(t, "Hba1c", rows[1].Parameter)
	assert.Equal(t, "%", rows[1].Unit)
	assert.Equal(t, "mmHg", rows[7].Unit)
}

func TestTopEvidence(t *testing.T) {
	evidence := []extraction.Evidence{{ID: "a", Text: "LDL: 160"}, {ID: "b", Text: "HDL: 38"}}
	candidates := []retrieval.Candidate{{Snippet: "Total: 240\nLDL: 160 mg/dL"}}

	got := topEvidence(evidence, candidates)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Empty(t, topEvidence(evidence, nil))
}
