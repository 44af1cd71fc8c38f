// Package format turns generator output into the summary, diagnosis and diet
// plan returned to callers, deriving all three from extracted facts when the
// generator did not produce usable JSON.
package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/internal/generator"
)

// Result is either Unparsed or Structured.
type Result interface {
	isResult()
}

// Unparsed carries generator text that was not a JSON object.
type Unparsed struct {
	Text string
}

// Structured is a decoded generator reply.
type Structured struct {
	Diagnosis     string
	Summary       string
	DietPlan      []string
	ClinicalNotes string
}

func (Unparsed) isResult()   {}
func (Structured) isResult() {}

type reply struct {
	Diagnosis       json.RawMessage `json:"diagnosis"`
	Summary         json.RawMessage `json:"summary"`
	ClinicalSummary json.RawMessage `json:"clinical_summary"`
	DietPlan        json.RawMessage `json:"diet_plan"`
	ClinicalNotes   json.RawMessage `json:"clinical_notes"`
}

// Parse decides once whether text is a structured reply. A fenced code block
// is unwrapped first; anything but a non-empty JSON object is Unparsed.
func Parse(text string) Result {
	body := generator.ReplyBody(text)

	var fields map[string]json.RawMessage
	if body == "" || json.Unmarshal([]byte(body), &fields) != nil || len(fields) == 0 {
		return Unparsed{Text: text}
	}

	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return Unparsed{Text: text}
	}
	summary := generator.RawString(r.Summary)
	if summary == "" {
		summary = generator.RawString(r.ClinicalSummary)
	}
	return Structured{
		Diagnosis:     generator.RawString(r.Diagnosis),
		Summary:       summary,
		DietPlan:      generator.StringList(r.DietPlan),
		ClinicalNotes: generator.RawString(r.ClinicalNotes),
	}
}

// Formatted is the display form of a report.
type Formatted struct {
	Summary   string   `json:"summary"`
	Diagnosis string   `json:"diagnosis"`
	DietPlan  []string `json:"diet_plan"`
}

// Format never returns an empty summary when facts is non-empty.
func Format(out *generator.Output, facts extraction.Facts) Formatted {
	var text string
	var modelPlan []string
	if out != nil {
		text = out.Text
		modelPlan = out.DietPlan
	}

	var f Formatted
	switch r := Parse(text).(type) {
	case Structured:
		f = formatStructured(r, text)
	case Unparsed:
		f = Formatted{
			Summary:   factSummary(facts, r.Text),
			Diagnosis: factDiagnosis(facts),
			DietPlan:  modelPlan,
		}
	}

	if f.DietPlan == nil {
		f.DietPlan = []string{}
	}
	if len(f.DietPlan) == 0 && !facts.IsEmpty() {
		f.DietPlan = factDietPlan(facts)
	}
	return f
}

func formatStructured(r Structured, text string) Formatted {
	var parts []string
	if r.Diagnosis != "" {
		parts = append(parts, "Medical Diagnosis:\n"+r.Diagnosis)
	}
	if r.Summary != "" {
		parts = append(parts, "Clinical Summary:\n"+r.Summary)
	}
	if r.ClinicalNotes != "" {
		parts = append(parts, "Clinical Notes:\n"+r.ClinicalNotes)
	}

	summary := strings.Join(parts, "\n\n")
	if summary == "" {
		summary = orDefault(text, "Unable to generate summary")
	}
	return Formatted{Summary: summary, Diagnosis: r.Diagnosis, DietPlan: r.DietPlan}
}

func factSummary(facts extraction.Facts, text string) string {
	if facts.IsEmpty() {
		return orDefault(text, "Unable to generate summary")
	}

	var lines []string
	if name, ok := facts.Get(extraction.PatientName); ok && name.String() != "" {
		lines = append(lines, fmt.Sprintf("Patient Report Summary\nPatient Name: %s\n", name))
	}

	var findings []string
	if facts.Has(extraction.SystolicBP) || facts.Has(extraction.DiastolicBP) {
		findings = append(findings, fmt.Sprintf("• Blood Pressure: %s/%s mmHg",
			valueOr(facts, extraction.SystolicBP), valueOr(facts, extraction.DiastolicBP)))
	}
	if v, ok := facts.Get(extraction.FastingGlucose); ok {
		line := fmt.Sprintf("• Fasting Glucose: %s mg/dL", v)
		if above(facts, extraction.FastingGlucose, glucoseDiabetic) {
			line += " (⚠️ High - may indicate diabetes)"
		}
		findings = append(findings, line)
	}
	if v, ok := facts.Get(extraction.HbA1c); ok {
		line := fmt.Sprintf("• HbA1c: %s%%", v)
		if above(facts, extraction.HbA1c, hba1cDiabetic) {
			line += " (⚠️ High - diabetes indicator)"
		}
		findings = append(findings, line)
	}
	if v, ok := facts.Get(extraction.TotalCholesterol); ok {
		findings = append(findings, fmt.Sprintf("• Total Cholesterol: %s mg/dL", v))
	}
	if v, ok := facts.Get(extraction.LDL); ok {
		findings = append(findings, fmt.Sprintf("• LDL Cholesterol: %s mg/dL (Bad Cholesterol)", v))
	}
	if v, ok := facts.Get(extraction.HDL); ok {
		findings = append(findings, fmt.Sprintf("• HDL Cholesterol: %s mg/dL (Good Cholesterol)", v))
	}
	if v, ok := facts.Get(extraction.Triglycerides); ok {
		findings = append(findings, fmt.Sprintf("• Triglycerides: %s mg/dL", v))
	}

	if len(findings) == 0 {
		return orDefault(text, "Unable to generate summary from report data")
	}
	lines = append(lines, "\nHealth Findings:")
	lines = append(lines, findings...)
	return strings.Join(lines, "\n")
}

func valueOr(facts extraction.Facts, field extraction.Field) string {
	if v, ok := facts.Get(field); ok {
		return v.String()
	}
	return "N/A"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
