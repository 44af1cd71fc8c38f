package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/healthsphere/grounded-reports/internal/extraction"
)

func TestBuildRendersFactsAndEvidence(t *testing.T) {
	facts := extraction.NewFacts()
	facts.Set(extraction.FastingGlucose, extraction.IntValue(165))
	facts.Set(extraction.HbA1c, extraction.FloatValue(8.5))
	evidence := []extraction.Evidence{
		{ID: "ev-1", Text: "Fasting Glucose: 165 mg/dL"},
		{ID: "ev-2", Text: "HbA1c: 8.5%"},
	}

	p := Build(facts, evidence)

	assert.Equal(t, SystemMessage, p.System)
	assert.True(t, strings.HasPrefix(p.User, "FACTS:\nfasting_glucose: 165\nhba1c: 8.5\n\nEVIDENCE:\n"))
	assert.Contains(t, p.User, "ID: ev-1\nFasting Glucose: 165 mg/dL\n\nID: ev-2\nHbA1c: 8.5%\n\nREQUEST:\n")
	assert.Contains(t, p.User, "Return ONLY valid JSON")
	assert.Equal(t, map[string]string{"fasting_glucose": "165", "hba1c": "8.5"}, p.Structured)
	assert.Len(t, p.RequiredFields, 8)
}

func TestBuildWithNothing(t *testing.T) {
	p := Build(extraction.NewFacts(), nil)

	assert.True(t, strings.HasPrefix(p.User, "FACTS:\n(none)\n\nEVIDENCE:\n(none)\n\nREQUEST:"))
	assert.Empty(t, p.Structured)
}

func TestSystemMessageStatesProvenanceRule(t *testing.T) {
	assert.Contains(t, SystemMessage, "Use ONLY information from the FACTS and EVIDENCE sections provided.")
	for _, key := range []string{`"diagnosis"`, `"summary"`, `"diet_plan"`, `"clinical_notes"`} {
		assert.Contains(t, SystemMessage, key)
	}
}
