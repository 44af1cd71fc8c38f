// Package prompt assembles the provenance-constrained messages sent to the
// generator for a medical report.
package prompt

import (
	"fmt"
	"strings"

	"github.com/healthsphere/grounded-reports/internal/extraction"
)

// SystemMessage fixes the response contract and the provenance rule.
const SystemMessage = "You are a medical report interpreter. Your task is to analyze a medical report and provide a structured response. " +
	"Use ONLY information from the FACTS and EVIDENCE sections provided. " +
	"Do not make assumptions or add any medical information not explicitly provided. " +
	"All recommendations must be traceable back to specific facts or evidence. " +
	"For missing data, clearly state what is insufficient.\n\n" +
	"Keep your responses SHORT, CLEAR, and IN SIMPLE LANGUAGE that a patient can understand.\n" +
	"Format your response as JSON with these fields:\n" +
	"{\n" +
	"  \"diagnosis\": \"<brief, simple diagnosis based on facts - 1-2 sentences>\",\n" +
	"  \"summary\": \"<short clinical summary in plain language - 2-3 sentences>\",\n" +
	"  \"diet_plan\": [\"<simple dietary recommendation 1>\", \"<simple dietary recommendation 2>\", ...],\n" +
	"  \"clinical_notes\": \"<any additional patient-friendly observations>\"\n" +
	"}"

const request = "REQUEST:\n" +
	"Analyze this medical report and provide:\n" +
	"1. A DIAGNOSIS based on the lab values and findings\n" +
	"2. A SUMMARY of the clinical findings\n" +
	"3. A DIET_PLAN with specific dietary recommendations linked to the findings\n" +
	"4. Any CLINICAL_NOTES about the patient's health status\n\n" +
	"Return ONLY valid JSON (no markdown, no explanation). Each diet recommendation should map to a specific fact.\n" +
	"If required fields are missing, note this in clinical_notes."

// Prompt is the generator input for the document path.
type Prompt struct {
	System string
	User   string
	// Structured holds the facts as field -> canonical value; the generator
	// checks required fields against it before any network call.
	Structured     map[string]string
	RequiredFields []string
}

// Build renders facts and evidence into the system and user messages.
func Build(facts extraction.Facts, evidence []extraction.Evidence) Prompt {
	factsBlock := "(none)"
	if !facts.IsEmpty() {
		lines := make([]string, 0, facts.Len())
		for _, f := range facts.Fields() {
			v, _ := facts.Get(f)
			lines = append(lines, fmt.Sprintf("%s: %s", f, v))
		}
		factsBlock = strings.Join(lines, "\n")
	}

	evidenceBlock := "(none)"
	if len(evidence) > 0 {
		entries := make([]string, 0, len(evidence))
		for _, ev := range evidence {
			entries = append(entries, fmt.Sprintf("ID: %s\n%s", ev.ID, ev.Text))
		}
		evidenceBlock = strings.Join(entries, "\n\n")
	}

	required := make([]string, len(extraction.RequiredFields))
	for i, f := range extraction.RequiredFields {
		required[i] = string(f)
	}

	return Prompt{
		System:         SystemMessage,
		User:           "FACTS:\n" + factsBlock + "\n\nEVIDENCE:\n" + evidenceBlock + "\n\n" + request,
		Structured:     facts.StringMap(),
		RequiredFields: required,
	}
}
