// Package diet builds meal plans from a closed catalog so that nothing a
// plan recommends is generated free-form.
package diet

import (
	"strings"

	"go.uber.org/zap"
)

const (
	Note = "This diet plan is based on your medical report analysis. Please consult with your doctor or dietitian for personalized advice."

	confidenceDetected = 0.95
	confidenceDefault  = 0.70
)

// Plan is a personalised diet plan.
type Plan struct {
	Name               string      `json:"name"`
	ConditionsDetected []Condition `json:"conditions_detected"`
	Confidence         float64     `json:"confidence"`
	Meals              Meals       `json:"meals"`
	Recommendations    []string    `json:"recommendations"`
	Restrictions       []string    `json:"restrictions"`
	Note               string      `json:"note"`
}

type Engine struct {
	catalog *Catalog
	logger  *zap.Logger
}

func NewEngine(catalog *Catalog, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{catalog: catalog, logger: logger}
}

// ExtractConditions matches condition keywords against danger flag names
// first and then the summary. Conditions are returned once, in the order
// they were first matched.
func (e *Engine) ExtractConditions(flags []string, summary string) []Condition {
	conditions := []Condition{}
	seen := map[Condition]bool{}

	scan := func(text string) {
		text = strings.ToLower(text)
		for _, entry := range e.catalog.Conditions {
			if seen[entry.Name] {
				continue
			}
			for _, kw := range entry.Keywords {
				if strings.Contains(text, kw) {
					seen[entry.Name] = true
					conditions = append(conditions, entry.Name)
					break
				}
			}
		}
	}

	for _, flag := range flags {
		scan(flag)
	}
	scan(summary)
	return conditions
}

// RecommendMeals returns one meal per period. Only the first condition is
// used; with no conditions the default balanced set is returned.
func (e *Engine) RecommendMeals(conditions []Condition) Meals {
	meals := make(Meals, len(Periods))
	if len(conditions) == 0 {
		for _, p := range Periods {
			meals[p] = firstMeal(e.catalog.Default[p])
		}
		return meals
	}

	// TODO: blend restrictions across all detected conditions instead of
	// serving the primary condition's meals alone.
	primary := conditions[0]
	for _, p := range Periods {
		meals[p] = firstMeal(e.catalog.MealOptions(primary, p))
	}
	return meals
}

func firstMeal(options []Meal) []Meal {
	if len(options) == 0 {
		return []Meal{}
	}
	return options[:1]
}

// Recommendations concatenates catalog advice for every condition.
func (e *Engine) Recommendations(conditions []Condition) []string {
	out := []string{}
	for _, c := range conditions {
		out = append(out, e.catalog.Advice(c)...)
	}
	return out
}

// Restrictions concatenates catalog restrictions for every condition,
// dropping repeats.
func (e *Engine) Restrictions(conditions []Condition) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, c := range conditions {
		for _, r := range e.catalog.Restrictions(c) {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

// Generate builds a full plan from danger flag names and a report summary.
func (e *Engine) Generate(flags []string, summary string) Plan {
	conditions := e.ExtractConditions(flags, summary)

	plan := Plan{
		Name:               "Personalized Plan for Balanced Diet",
		ConditionsDetected: conditions,
		Confidence:         confidenceDefault,
		Meals:              e.RecommendMeals(conditions),
		Recommendations:    e.Recommendations(conditions),
		Restrictions:       e.Restrictions(conditions),
		Note:               Note,
	}
	if len(conditions) > 0 {
		names := make([]string, len(conditions))
		for i, c := range conditions {
			names[i] = string(c)
		}
		plan.Name = "Personalized Plan for " + strings.Join(names, ", ")
		plan.Confidence = confidenceDetected
	}

	e.logger.Debug("diet plan generated",
		zap.String("plan", plan.Name),
		zap.Int("conditions", len(conditions)),
	)
	return plan
}
