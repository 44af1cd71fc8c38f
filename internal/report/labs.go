package report

import (
	"strings"

	"github.com/healthsphere/grounded-reports/internal/extraction"
)

var units = map[extraction.Field]string{
	extraction.FastingGlucose:   "mg/dL",
	extraction.HbA1c:            "%",
	extraction.TotalCholesterol: "mg/dL",
	extraction.LDL:              "mg/dL",
	extraction.HDL:              "mg/dL",
	extraction.Triglycerides:    "mg/dL",
	extraction.SystolicBP:       "mmHg",
	extraction.DiastolicBP:      "mmHg",
	extraction.BMI:              "kg/m²",
	extraction.Hemoglobin:       "g/dL",
}

// LabValues renders numeric facts as display rows in fact order. Text facts
// such as the patient name are left out.
func LabValues(facts extraction.Facts) []LabValue {
	rows := []LabValue{}
	for _, f := range facts.Fields() {
		v, _ := facts.Get(f)
		if !v.IsNumeric() {
			continue
		}
		rows = append(rows, LabValue{
			Parameter: titleCase(f.Label()),
			Value:     v,
			Unit:      units[f],
			Field:     f,
		})
	}
	return rows
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
