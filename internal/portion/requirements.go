package portion

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"portionchef/internal/recipe"
)

// requirementKeys maps every spelling a goal arrives under to its nutrient.
var requirementKeys = map[string]recipe.Nutrient{
	"goal_calories":           recipe.Kcal,
	"Kcal":                    recipe.Kcal,
	"kcal":                    recipe.Kcal,
	"goal_protein(g)":         recipe.Protein,
	"Protein (g)":             recipe.Protein,
	"protein(g)":              recipe.Protein,
	"goal_fat(g)":             recipe.Fat,
	"Fat, Total (g)":          recipe.Fat,
	"fat(g)":                  recipe.Fat,
	"goal_fiber(g)":           recipe.Fiber,
	"Dietary Fiber (g)":       recipe.Fiber,
	"dietaryFiber(g)":         recipe.Fiber,
	"goal_carbs(g)":           recipe.Carbohydrate,
	"Carbohydrate, total (g)": recipe.Carbohydrate,
	"carbohydrate(g)":         recipe.Carbohydrate,
}

// Requirements holds per-nutrient targets. A missing or zero target means "no target".
type Requirements map[recipe.Nutrient]float64

// NormalizeRequirements restricts raw goals to the five canonical nutrients.
// Unknown keys, nil values and values that do not coerce to a number are dropped.
func NormalizeRequirements(raw map[string]any) Requirements {
	out := make(Requirements, len(recipe.Nutrients))
	for key, value := range raw {
		n, ok := requirementKeys[key]
		if !ok {
			continue
		}
		f, ok := toFloat(value)
		if !ok {
			continue
		}
		out[n] = f
	}
	return out
}

// Target returns the target for n and whether it is an active (positive) target.
func (r Requirements) Target(n recipe.Nutrient) (float64, bool) {
	t, ok := r[n]
	return t, ok && t > 0
}

// Validate rejects negative targets.
func (r Requirements) Validate() error {
	for _, n := range recipe.Nutrients {
		if t, ok := r[n]; ok && t < 0 {
			return fmt.Errorf("%w: %s = %.1f", ErrNegativeRequirement, n, t)
		}
	}
	return nil
}

// ZeroTargets counts the nutrients without an active target.
func (r Requirements) ZeroTargets() int {
	count := 0
	for _, n := range recipe.Nutrients {
		if _, ok := r.Target(n); !ok {
			count++
		}
	}
	return count
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
