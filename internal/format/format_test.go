package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/internal/generator"
)

func sampleFacts() extraction.Facts {
	f := extraction.NewFacts()
	f.Set(extraction.FastingGlucose, extraction.IntValue(165))
	f.Set(extraction.HbA1c, extraction.FloatValue(8.5))
	f.Set(extraction.SystolicBP, extraction.IntValue(155))
	f.Set(extraction.DiastolicBP, extraction.IntValue(95))
	f.Set(extraction.TotalCholesterol, extraction.IntValue(210))
	return f
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Result
	}{
		{"plain text", "Eat more greens.", Unparsed{Text: "Eat more greens."}},
		{"empty object", "{}", Unparsed{Text: "{}"}},
		{"array", `["a"]`, Unparsed{Text: `["a"]`}},
		{
			"object",
			`{"diagnosis":"Diabetes","summary":"High sugar","diet_plan":["Less sugar"],"clinical_notes":"Recheck"}`,
			Structured{Diagnosis: "Diabetes", Summary: "High sugar", DietPlan: []string{"Less sugar"}, ClinicalNotes: "Recheck"},
		},
		{
			"tagged fence",
			"```json\n{\"clinical_summary\":\"Stable\"}\n```",
			Structured{Summary: "Stable", DietPlan: []string{}},
		},
		{
			"bare fence",
			"Here you go:\n```\n{\"diagnosis\":\"None\"}\n```\nThanks",
			Structured{Diagnosis: "None", DietPlan: []string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.text))
		})
	}
}

func TestFormatStructured(t *testing.T) {
	out := &generator.Output{Text: `{"diagnosis":"Type 2 diabetes","summary":"Glucose 165","diet_plan":["Cut sugar"]}`}

	f := Format(out, sampleFacts())

	assert.Equal(t, "Medical Diagnosis:\nType 2 diabetes\n\nClinical Summary:\nGlucose 165", f.Summary)
	assert.Equal(t, "Type 2 diabetes", f.Diagnosis)
	assert.Equal(t, []string{"Cut sugar"}, f.DietPlan)
}

func TestFormatStructuredWithoutKnownKeysKeepsText(t *testing.T) {
	text := `{"foo":"bar"}`
	f := Format(&generator.Output{Text: text}, extraction.NewFacts())

	assert.Equal(t, text, f.Summary)
	assert.Empty(t, f.DietPlan)
}

func TestFormatFallsBackToFacts(t *testing.T) {
	f := Format(&generator.Output{Text: "not json"}, sampleFacts())

	assert.Contains(t, f.Summary, "Health Findings:")
	assert.Contains(t, f.Summary, "• Blood Pressure: 155/95 mmHg")
	assert.Contains(t, f.Summary, "• Fasting Glucose: 165 mg/dL (⚠️ High - may indicate diabetes)")
	assert.Contains(t, f.Summary, "• HbA1c: 8.5% (⚠️ High - diabetes indicator)")
	assert.Equal(t,
		"Possible hypertension (high blood pressure); Possible diabetes (high fasting glucose); Possible diabetes (high HbA1c)",
		f.Diagnosis)

	require.Len(t, f.DietPlan, 9)
	assert.Equal(t, "Reduce sugar and refined carbohydrates intake", f.DietPlan[0])
	assert.Equal(t, "Reduce saturated fats and cholesterol-rich foods", f.DietPlan[3])
	assert.Equal(t, "Stay hydrated and limit caffeine", f.DietPlan[8])
}

func TestFormatNilOutput(t *testing.T) {
	facts := extraction.NewFacts()
	facts.Set(extraction.SystolicBP, extraction.IntValue(135))
	facts.Set(extraction.FastingGlucose, extraction.IntValue(110))

	f := Format(nil, facts)

	assert.Contains(t, f.Summary, "• Blood Pressure: 135/N/A mmHg")
	assert.Equal(t, "Elevated blood pressure; Prediabetes (elevated fasting glucose)", f.Diagnosis)
	assert.Empty(t, f.DietPlan)
	assert.NotNil(t, f.DietPlan)
}

func TestFormatNoFacts(t *testing.T) {
	f := Format(&generator.Output{}, extraction.NewFacts())

	assert.Equal(t, "Unable to generate summary", f.Summary)
	assert.Empty(t, f.Diagnosis)
}

func TestFormatPatientName(t *testing.T) {
	facts := extraction.NewFacts()
	facts.Set(extraction.PatientName, extraction.TextValue("Jane Roe"))
	facts.Set(extraction.HDL, extraction.IntValue(45))

	f := Format(nil, facts)

	assert.Equal(t, "Patient Report Summary\nPatient Name: Jane Roe\n\n\nHealth Findings:\n• HDL Cholesterol: 45 mg/dL (Good Cholesterol)", f.Summary)
}
