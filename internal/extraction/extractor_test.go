package extraction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullReport = `Patient Name: John Doe
Fasting Glucose: 165 mg/dL
HbA1c: 8.5%
Total Cholesterol: 240 mg/dL
LDL: 160 mg/dL
HDL: 38 mg/dL
Triglycerides: 210 mg/dL
Blood Pressure: 150/95 mmHg`

func valueOf(t *testing.T, facts Facts, field Field) string {
	t.Helper()
	v, ok := facts.Get(field)
	require.True(t, ok, "missing %s", field)
	return v.String()
}

func TestExtractFullReport(t *testing.T) {
	res := NewExtractor(nil).Extract(fullReport)

	assert.Equal(t, "165", valueOf(t, res.Facts, FastingGlucose))
	assert.Equal(t, "8.5", valueOf(t, res.Facts, HbA1c))
	assert.Equal(t, "240", valueOf(t, res.Facts, TotalCholesterol))
	assert.Equal(t, "160", valueOf(t, res.Facts, LDL))
	assert.Equal(t, "38", valueOf(t, res.Facts, HDL))
	assert.Equal(t, "210", valueOf(t, res.Facts, Triglycerides))
	assert.Equal(t, "150", valueOf(t, res.Facts, SystolicBP))
	assert.Equal(t, "95", valueOf(t, res.Facts, DiastolicBP))
	assert.Equal(t, "John Doe", valueOf(t, res.Facts, PatientName))
	assert.Empty(t, res.Facts.Missing())

	assert.Equal(t, []Field{
		FastingGlucose, HbA1c, TotalCholesterol, LDL, HDL, Triglycerides, SystolicBP, DiastolicBP, PatientName,
	}, res.Facts.Fields())
}

func TestExtractShortReport(t *testing.T) {
	res := NewExtractor(nil).Extract("Fasting Glucose: 165 mg/dL\nHbA1c: 8.5%\nBP 155/95")

	assert.Equal(t, "165", valueOf(t, res.Facts, FastingGlucose))
	assert.Equal(t, "8.5", valueOf(t, res.Facts, HbA1c))
	assert.Equal(t, "155", valueOf(t, res.Facts, SystolicBP))
	assert.Equal(t, "95", valueOf(t, res.Facts, DiastolicBP))
	assert.ElementsMatch(t, []Field{TotalCholesterol, LDL, HDL, Triglycerides}, res.Facts.Missing())
}

func TestEvidenceIsContiguousSubstring(t *testing.T) {
	docs := []string{
		fullReport,
		"Fasting Glucose: 165 mg/dL\r\nHbA1c: 8.5%\r\nBP 155/95",
		"Résumé du patient: glycémie élevée\nA1C (glycated)\n7.2 %\nBlood Pressure: 140/90",
	}
	for _, doc := range docs {
		res := NewExtractor(nil).Extract(doc)
		require.NotEmpty(t, res.Evidence)
		for _, ev := range res.Evidence {
			require.GreaterOrEqual(t, ev.Start, 0)
			require.LessOrEqual(t, ev.End, len(doc))
			assert.Equal(t, doc[ev.Start:ev.End], ev.Text, "evidence %s for %s", ev.ID, ev.Field)
		}
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	ex := NewExtractor(nil)
	first := ex.Extract(fullReport)
	second := ex.Extract(fullReport)

	assert.Equal(t, first, second)
}

func TestLineScanUsesPreviousLineAsHeader(t *testing.T) {
	doc := "A1C (glycated)\n7.2 %"
	res := NewExtractor(nil).Extract(doc)

	assert.Equal(t, "7.2", valueOf(t, res.Facts, HbA1c))
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "7.2 %", res.Evidence[0].Text)
	assert.Equal(t, len("A1C (glycated)\n"), res.Evidence[0].Start)
}

func TestEmptyCaptureIsSkipped(t *testing.T) {
	res := NewExtractor(nil).Extract("Diastolic pressure was not recorded. Diastolic: 88")

	assert.Equal(t, "88", valueOf(t, res.Facts, DiastolicBP))
	assert.False(t, res.Facts.Has(SystolicBP))
}

func TestBloodPressureSplitFromSeparateReading(t *testing.T) {
	res := NewExtractor(nil).Extract("Systolic 150 mmHg recorded. Reading 150/90 today")

	assert.Equal(t, "150", valueOf(t, res.Facts, SystolicBP))
	assert.Equal(t, "90", valueOf(t, res.Facts, DiastolicBP))
}

func TestNoFacts(t *testing.T) {
	res := NewExtractor(nil).Extract("The patient feels well and has no complaints.")

	assert.True(t, res.Facts.IsEmpty())
	assert.Empty(t, res.Evidence)
	assert.Len(t, res.Facts.Missing(), len(RequiredFields))
}

func TestValueCanonicalString(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		num  bool
	}{
		{"120", "120", true},
		{"08", "8", true},
		{"8.50", "8.5", true},
		{"7.0", "7.0", true},
		{" John Doe ", "John Doe", false},
		{"J.", "J.", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v := ParseValue(tt.raw)
			assert.Equal(t, tt.want, v.String())
			assert.Equal(t, tt.num, v.IsNumeric())
		})
	}
}

func TestFactsJSONKeepsOrder(t *testing.T) {
	facts := NewFacts()
	facts.Set(SystolicBP, IntValue(150))
	facts.Set(HbA1c, FloatValue(7))
	facts.Set(PatientName, TextValue("Ann"))
	assert.False(t, facts.Set(SystolicBP, IntValue(120)))

	data, err := json.Marshal(facts)
	require.NoError(t, err)
	assert.Equal(t, `{"systolic_bp":150,"hba1c":7.0,"patient_name":"Ann"}`, string(data))

	var decoded Facts
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, facts.Fields(), decoded.Fields())
	assert.Equal(t, "7.0", valueOf(t, decoded, HbA1c))
}
