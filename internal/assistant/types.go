package assistant

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/healthsphere/grounded-reports/internal/extraction"
)

// Profile is the user's free-form health profile as posted by the client.
type Profile map[string]interface{}

// present treats nil, empty strings, empty lists and false as missing. Zero
// numbers count as present.
func (p Profile) present(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case bool:
		return t
	case []interface{}:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}

func (p Profile) text(key string) string {
	switch t := p[key].(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(t, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// RefRange is an explicit reference range. Either bound may be absent.
type RefRange struct {
	Low  *float64 `json:"low,omitempty"`
	High *float64 `json:"high,omitempty"`
}

// LabResult is a structured lab entry carried with a report.
type LabResult struct {
	TestName string      `json:"test_name,omitempty"`
	Name     string      `json:"name,omitempty"`
	Value    interface{} `json:"value"`
	Unit     string      `json:"unit,omitempty"`
	RefRange *RefRange   `json:"ref_range,omitempty"`
}

// Label is the test name, falling back to name.
func (l LabResult) Label() string {
	if l.TestName != "" {
		return l.TestName
	}
	return l.Name
}

func (l LabResult) number() (float64, bool) {
	switch v := l.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Report is the latest processed report as the chat path sees it.
type Report struct {
	ProcessingResult string      `json:"processing_result,omitempty"`
	Text             string      `json:"text,omitempty"`
	CreatedAt        string      `json:"created_at,omitempty"`
	FileName         string      `json:"file_name,omitempty"`
	RiskMetrics      string      `json:"risk_metrics,omitempty"`
	Recommendations  string      `json:"recommendations,omitempty"`
	LabResults       []LabResult `json:"lab_results,omitempty"`
	Labs             []LabResult `json:"labs,omitempty"`
	Results          []LabResult `json:"results,omitempty"`
}

// Entries returns the first non-empty lab list.
func (r *Report) Entries() []LabResult {
	switch {
	case len(r.LabResults) > 0:
		return r.LabResults
	case len(r.Labs) > 0:
		return r.Labs
	default:
		return r.Results
	}
}

// Website holds features scraped from a page the user pointed at.
type Website struct {
	Title       string `json:"title,omitempty"`
	KeyFeatures string `json:"key_features,omitempty"`
	Summary     string `json:"content_summary,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
	RawContent  string `json:"raw_content,omitempty"`
}

// Document is a retrieved knowledge base entry.
type Document struct {
	Content string
	Source  string
}

// DangerFlag is a lab value outside its explicitly supplied range.
type DangerFlag struct {
	TestName string      `json:"test_name"`
	Value    interface{} `json:"value"`
	RefLow   *float64    `json:"ref_low"`
	RefHigh  *float64    `json:"ref_high"`
	Evidence LabResult   `json:"evidence"`
}

// Metadata is returned alongside every chat answer.
type Metadata struct {
	MissingProfileFields    []string              `json:"missing_profile_fields"`
	FollowUpQuestions       []string              `json:"follow_up_questions"`
	ReportFacts             extraction.Facts      `json:"report_facts"`
	ReportEvidence          []extraction.Evidence `json:"report_evidence"`
	DangerFlags             []DangerFlag          `json:"danger_flags"`
	NeedsProfessionalReview bool                  `json:"needs_professional_review"`
}

// FlagNames lists danger flag test names.
func (m Metadata) FlagNames() []string {
	names := make([]string, 0, len(m.DangerFlags))
	for _, f := range m.DangerFlags {
		names = append(names, f.TestName)
	}
	return names
}

// Input gathers everything the aggregator may draw on for one query.
type Input struct {
	Query           string
	Profile         Profile
	Report          *Report
	IncludeReport   bool
	Website         *Website
	Documents       []Document
	Conversation    string
	PriorConditions []string
}

// Context is the aggregated, prompt-ready view of an Input.
type Context struct {
	Query               string
	UserProfile         string
	UserReport          string
	WebsiteContext      string
	KnowledgeBase       string
	ConversationContext string
	Metadata            Metadata
}
