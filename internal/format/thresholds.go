package format

import (
	"strings"

	"github.com/healthsphere/grounded-reports/internal/extraction"
)

// Annotation thresholds. They only decorate output and are never facts.
const (
	glucoseDiabetic    = 126.0
	glucosePrediabetic = 100.0
	hba1cDiabetic      = 6.5
	hba1cPrediabetic   = 5.7
	systolicHigh       = 140.0
	systolicElevated   = 130.0
	cholesterolHigh    = 240.0
	cholesterolDiet    = 200.0
)

func above(facts extraction.Facts, field extraction.Field, limit float64) bool {
	n, ok := facts.Number(field)
	return ok && n > limit
}

func factDiagnosis(facts extraction.Facts) string {
	var parts []string

	switch {
	case above(facts, extraction.SystolicBP, systolicHigh):
		parts = append(parts, "Possible hypertension (high blood pressure)")
	case above(facts, extraction.SystolicBP, systolicElevated):
		parts = append(parts, "Elevated blood pressure")
	}
	switch {
	case above(facts, extraction.FastingGlucose, glucoseDiabetic):
		parts = append(parts, "Possible diabetes (high fasting glucose)")
	case above(facts, extraction.FastingGlucose, glucosePrediabetic):
		parts = append(parts, "Prediabetes (elevated fasting glucose)")
	}
	switch {
	case above(facts, extraction.HbA1c, hba1cDiabetic):
		parts = append(parts, "Possible diabetes (high HbA1c)")
	case above(facts, extraction.HbA1c, hba1cPrediabetic):
		parts = append(parts, "Prediabetes (elevated HbA1c)")
	}
	if above(facts, extraction.TotalCholesterol, cholesterolHigh) {
		parts = append(parts, "High cholesterol")
	}

	return strings.Join(parts, "; ")
}

func factDietPlan(facts extraction.Facts) []string {
	items := []string{}
	if above(facts, extraction.FastingGlucose, glucoseDiabetic) {
		items = append(items,
			"Reduce sugar and refined carbohydrates intake",
			"Increase fiber intake through whole grains and vegetables",
			"Eat lean proteins and control portion sizes",
		)
	}
	if above(facts, extraction.TotalCholesterol, cholesterolDiet) {
		items = append(items,
			"Reduce saturated fats and cholesterol-rich foods",
			"Increase consumption of omega-3 rich foods (fish, walnuts)",
			"Include more fruits, vegetables, and whole grains",
		)
	}
	if above(facts, extraction.SystolicBP, systolicHigh) {
		items = append(items,
			"Reduce sodium (salt) intake in meals",
			"Increase potassium-rich foods (bananas, spinach, sweet potatoes)",
			"Stay hydrated and limit caffeine",
		)
	}
	return items
}
