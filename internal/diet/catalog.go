package diet

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
)

// Condition is a catalog key such as "diabetes".
type Condition string

// Period is a meal slot.
type Period string

const (
	Breakfast Period = "breakfast"
	Lunch     Period = "lunch"
	Dinner    Period = "dinner"
	Snacks    Period = "snacks"
)

// Periods lists meal slots in serving order.
var Periods = []Period{Breakfast, Lunch, Dinner, Snacks}

// Meal is a catalog entry. Nutrients are flattened next to name and calories
// when encoded as JSON.
type Meal struct {
	Name      string                 `yaml:"name"`
	Calories  int                    `yaml:"calories"`
	Nutrients map[string]interface{} `yaml:"nutrients"`
}

func (m Meal) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Nutrients)+2)
	for k, v := range m.Nutrients {
		out[k] = v
	}
	out["name"] = m.Name
	out["calories"] = m.Calories
	return json.Marshal(out)
}

// Meals maps each period to its options.
type Meals map[Period][]Meal

type conditionEntry struct {
	Name         Condition `yaml:"name"`
	Keywords     []string  `yaml:"keywords"`
	Meals        Meals     `yaml:"meals"`
	Advice       []string  `yaml:"advice"`
	Restrictions []string  `yaml:"restrictions"`
}

// Catalog is the closed set of meals, advice and restrictions a plan may
// draw from. Condition order decides keyword scan order.
type Catalog struct {
	Default    Meals            `yaml:"default"`
	Conditions []conditionEntry `yaml:"conditions"`

	byName map[Condition]*conditionEntry
}

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes a YAML catalog and checks that the default set and
// every condition offer at least one meal per period.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse diet catalog: %w", err)
	}

	for _, p := range Periods {
		if len(c.Default[p]) == 0 {
			return nil, fmt.Errorf("diet catalog: default set has no %s", p)
		}
	}

	c.byName = make(map[Condition]*conditionEntry, len(c.Conditions))
	for i := range c.Conditions {
		entry := &c.Conditions[i]
		if entry.Name == "" {
			return nil, fmt.Errorf("diet catalog: condition %d has no name", i)
		}
		if _, dup := c.byName[entry.Name]; dup {
			return nil, fmt.Errorf("diet catalog: duplicate condition %q", entry.Name)
		}
		for _, p := range Periods {
			if len(entry.Meals[p]) == 0 {
				return nil, fmt.Errorf("diet catalog: %s has no %s", entry.Name, p)
			}
		}
		c.byName[entry.Name] = entry
	}
	return &c, nil
}

// Known reports whether cond is in the catalog.
func (c *Catalog) Known(cond Condition) bool {
	_, ok := c.byName[cond]
	return ok
}

// MealOptions returns every catalog meal for cond and period.
func (c *Catalog) MealOptions(cond Condition, p Period) []Meal {
	if e, ok := c.byName[cond]; ok {
		return e.Meals[p]
	}
	return nil
}

// Advice returns the recommendations listed for cond.
func (c *Catalog) Advice(cond Condition) []string {
	if e, ok := c.byName[cond]; ok {
		return e.Advice
	}
	return nil
}

// Restrictions returns the foods to avoid for cond.
func (c *Catalog) Restrictions(cond Condition) []string {
	if e, ok := c.byName[cond]; ok {
		return e.Restrictions
	}
	return nil
}
