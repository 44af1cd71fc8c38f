// Package assistant assembles profile, report, website and knowledge base
// context for conversational queries and derives the follow-up questions and
// danger flags that accompany every answer.
package assistant

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/pkg/utils"
)

const (
	maxDocuments      = 4
	docSnippetRunes   = 200
	reportRunes       = 500
	websiteContentCap = 300
)

// RequiredProfileFields are asked about when missing from the profile.
var RequiredProfileFields = []string{
	"age", "gender", "height", "weight", "allergies", "medications", "chronic_conditions", "lifestyle",
}

var followUps = map[string]string{
	"age":                "Could you please provide your age or birth year?",
	"gender":             "Please confirm your gender (male/female/other).",
	"height":             "What is your height in cm or feet/inches?",
	"weight":             "What is your current weight in kg or pounds?",
	"allergies":          `Do you have any medication or food allergies? If none, say "None".`,
	"medications":        `Are you currently on any medication? Please list or say "None".`,
	"chronic_conditions": "Do you have any long-term health conditions (e.g. diabetes, hypertension)?",
	"lifestyle":          "Tell me about your activity level (sedentary, lightly active, active), smoking/alcohol use.",
}

type Aggregator struct {
	extractor *extraction.Extractor
	logger    *zap.Logger
}

func NewAggregator(extractor *extraction.Extractor, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{extractor: extractor, logger: logger}
}

// Aggregate formats each source into a bounded block and computes metadata.
// Report facts and danger flags are derived even when the report block itself
// is left out of the prompt.
func (a *Aggregator) Aggregate(in Input) Context {
	ctx := Context{
		Query:               in.Query,
		UserProfile:         formatProfile(in.Profile, in.PriorConditions),
		WebsiteContext:      formatWebsite(in.Website),
		KnowledgeBase:       formatDocuments(in.Documents),
		ConversationContext: in.Conversation,
	}
	if in.IncludeReport {
		ctx.UserReport = formatReport(in.Report)
	}

	missing, questions := CheckProfile(in.Profile)
	facts, evidence := a.reportFacts(in.Report)
	flags := DetectDangerousValues(in.Report)

	ctx.Metadata = Metadata{
		MissingProfileFields:    missing,
		FollowUpQuestions:       questions,
		ReportFacts:             facts,
		ReportEvidence:          evidence,
		DangerFlags:             flags,
		NeedsProfessionalReview: len(flags) > 0,
	}

	a.logger.Debug("context aggregated",
		zap.Int("missing_profile_fields", len(missing)),
		zap.Int("report_facts", facts.Len()),
		zap.Int("danger_flags", len(flags)),
		zap.Int("documents", len(in.Documents)),
		zap.Bool("report_included", in.IncludeReport),
	)
	return ctx
}

// CheckProfile returns the missing required fields and one canned question
// for each.
func CheckProfile(p Profile) ([]string, []string) {
	missing := []string{}
	questions := []string{}
	for _, f := range RequiredProfileFields {
		if p.present(f) {
			continue
		}
		missing = append(missing, f)
		q, ok := followUps[f]
		if !ok {
			q = fmt.Sprintf("Please provide %s.", f)
		}
		questions = append(questions, q)
	}
	return missing, questions
}

func (a *Aggregator) reportFacts(r *Report) (extraction.Facts, []extraction.Evidence) {
	if r == nil {
		return extraction.NewFacts(), []extraction.Evidence{}
	}
	text := r.Text
	if text == "" {
		text = r.ProcessingResult
	}
	if text == "" {
		return extraction.NewFacts(), []extraction.Evidence{}
	}
	res := a.extractor.Extract(text)
	return res.Facts, res.Evidence
}

// DetectDangerousValues flags lab entries whose value lies strictly outside
// an explicitly supplied reference range. Entries without a range, or whose
// value is not numeric, are never flagged.
func DetectDangerousValues(r *Report) []DangerFlag {
	flags := []DangerFlag{}
	if r == nil {
		return flags
	}
	for _, item := range r.Entries() {
		if item.Value == nil || item.RefRange == nil {
			continue
		}
		low, high := item.RefRange.Low, item.RefRange.High
		if low == nil && high == nil {
			continue
		}
		v, ok := item.number()
		if !ok {
			continue
		}
		if (low != nil && v < *low) || (high != nil && v > *high) {
			flags = append(flags, DangerFlag{
				TestName: item.Label(),
				Value:    item.Value,
				RefLow:   low,
				RefHigh:  high,
				Evidence: item,
			})
		}
	}
	return flags
}

func formatProfile(p Profile, prior []string) string {
	if len(p) == 0 && len(prior) == 0 {
		return "User profile: Not available"
	}

	var parts []string
	if p.present("name") {
		parts = append(parts, "User: "+p.text("name"))
	}
	if p.present("age") {
		parts = append(parts, "Age: "+p.text("age"))
	}
	if p.present("gender") {
		parts = append(parts, "Gender: "+p.text("gender"))
	}
	if p.present("height") && p.present("weight") {
		parts = append(parts, fmt.Sprintf("Height: %scm, Weight: %skg", p.text("height"), p.text("weight")))
	}
	for _, key := range []string{"chronic_conditions", "chronic_condition"} {
		if p.present(key) {
			parts = append(parts, "Chronic Condition: "+p.text(key))
			break
		}
	}
	if p.present("allergies") {
		parts = append(parts, "Allergies: "+p.text("allergies"))
	}
	if p.present("medications") {
		parts = append(parts, "Medications: "+p.text("medications"))
	}
	if p.present("personal_goals") {
		parts = append(parts, "Goals: "+p.text("personal_goals"))
	}
	if p.present("lifestyle") {
		parts = append(parts, "Lifestyle: "+p.text("lifestyle"))
	}
	if len(prior) > 0 {
		parts = append(parts, "Conditions From Previous Reports: "+strings.Join(prior, ", "))
	}

	if len(parts) == 0 {
		return "User profile: Available"
	}
	return "User Health Profile:\n" + strings.Join(parts, "\n")
}

func formatReport(r *Report) string {
	if r == nil {
		return "User Report: No recent report available"
	}
	parts := []string{"User's Latest Medical Report:"}
	if r.ProcessingResult != "" {
		parts = append(parts, "Analysis: "+utils.Truncate(r.ProcessingResult, reportRunes))
	}
	if r.CreatedAt != "" {
		parts = append(parts, "Date: "+r.CreatedAt)
	}
	if r.FileName != "" {
		parts = append(parts, "Document: "+r.FileName)
	}
	if r.RiskMetrics != "" {
		parts = append(parts, "Risk Factors: "+r.RiskMetrics)
	}
	if r.Recommendations != "" {
		parts = append(parts, "Recommendations: "+r.Recommendations)
	}
	return strings.Join(parts, "\n")
}

func formatWebsite(w *Website) string {
	if w == nil {
		return "Website Context: Not provided"
	}
	parts := []string{"Website Context:"}
	switch {
	case w.Title != "" || w.KeyFeatures != "" || w.Summary != "":
		if w.Title != "" {
			parts = append(parts, "Title: "+w.Title)
		}
		if w.KeyFeatures != "" {
			parts = append(parts, "Key Features: "+w.KeyFeatures)
		}
		if w.Summary != "" {
			parts = append(parts, "Summary: "+w.Summary)
		}
	case w.RawContent != "":
		if w.SourceURL != "" {
			parts = append(parts, "Source: "+w.SourceURL)
		}
		content := w.RawContent
		if len([]rune(content)) > websiteContentCap {
			content = utils.Truncate(content, websiteContentCap) + "..."
		}
		parts = append(parts, "Content: "+content)
	}
	if len(parts) == 1 {
		return "Website Context: Not available"
	}
	return strings.Join(parts, "\n")
}

func formatDocuments(docs []Document) string {
	if len(docs) == 0 {
		return "Knowledge Base: No relevant documents found"
	}
	parts := []string{"Knowledge Base References:"}
	for i, doc := range docs {
		if i == maxDocuments {
			break
		}
		content := doc.Content
		if len([]rune(content)) > docSnippetRunes {
			content = utils.Truncate(content, docSnippetRunes) + "..."
		}
		source := doc.Source
		if source == "" {
			source = "Unknown"
		}
		parts = append(parts, fmt.Sprintf("\n[%d] %s\n    Source: %s", i+1, content, source))
	}
	return strings.Join(parts, "\n")
}
