package portion

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"portionchef/internal/recipe"
)

// ResultIngredient is one line of the portioned recipe.
type ResultIngredient struct {
	IngredientName string  `json:"ingredientName"`
	Component      string  `json:"Component"`
	Grams          float64 `json:"Grams"`
	IngredientID   string  `json:"ingredientId"`
}

// ModifiedRecipe is the portioned recipe.
type ModifiedRecipe struct {
	Ingredients []ResultIngredient `json:"ingredients"`
}

// Outcome says whether a person needs to look at the portioning, and why.
type Outcome struct {
	ReviewNeeded bool   `json:"review_needed"`
	Notes        string `json:"notes"`
}

// Result is the formatted outcome of one optimization.
type Result struct {
	ModifiedRecipe       ModifiedRecipe     `json:"modified_recipe"`
	Explanation          string             `json:"explanation"`
	UpdatedNutritionInfo map[string]float64 `json:"updated_nutrition_info"`
	Results              Outcome            `json:"results"`

	// Recipe is the final state the result was formatted from.
	Recipe recipe.Recipe `json:"-"`
	// Violations is the structured form of Results.Notes.
	Violations ViolationReport `json:"-"`
}

// nutritionLabels maps each nutrient to its label and percentage label in updated_nutrition_info.
var nutritionLabels = map[recipe.Nutrient][2]string{
	recipe.Kcal:         {"Calories", "Calories %"},
	recipe.Protein:      {"Protein", "Protein %"},
	recipe.Carbohydrate: {"Carbohydrates", "Carbs %"},
	recipe.Fiber:        {"Fiber", "Fiber %"},
	recipe.Fat:          {"Fat", "Fat %"},
}

// format renders a final state. Nutrition is always recomputed from the scalers so the
// reported figures match the returned grams.
func (p *problem) format(r recipe.Recipe) *Result {
	totals, report := p.assess(r.Ingredients)

	res := &Result{
		ModifiedRecipe: ModifiedRecipe{Ingredients: make([]ResultIngredient, 0, len(r.Ingredients))},
		Recipe:         r,
		Violations:     report,
	}
	for _, ing := range r.Ingredients {
		res.ModifiedRecipe.Ingredients = append(res.ModifiedRecipe.Ingredients, ResultIngredient{
			IngredientName: displayName(ing),
			Component:      string(ing.Component),
			Grams:          finite(round2(ing.Grams())),
			IngredientID:   ing.IngredientID,
		})
	}

	percentages := make(map[recipe.Nutrient]float64, len(recipe.Nutrients))
	for _, n := range recipe.Nutrients {
		if target := p.targets[n]; target != 0 {
			percentages[n] = round1(totals[n] / target * 100)
		}
	}

	var b strings.Builder
	b.WriteString("\nAchieved / Target Nutrition:")
	for _, n := range recipe.Nutrients {
		fmt.Fprintf(&b, "\n%s: %.1f / %.1f (%.1f%% of target)", n, totals[n], p.targets[n], percentages[n])
	}
	res.Explanation = b.String()

	info := make(map[string]float64, 2*len(recipe.Nutrients))
	for _, n := range recipe.Nutrients {
		labels := nutritionLabels[n]
		info[labels[0]] = round1(totals[n])
		info[labels[1]] = percentages[n]
	}
	for name, v := range micronutrientTotals(r.Ingredients) {
		info[name] = round1(v)
	}
	res.UpdatedNutritionInfo = info

	res.Results = Outcome{ReviewNeeded: !report.Empty(), Notes: report.Notes()}
	return res
}

// displayName marks sauces served at other than one portion, e.g. "Pesto (2 x sauce)".
func displayName(ing recipe.Ingredient) string {
	if ing.Component == recipe.ComponentSauce && ing.Scaler != 1.0 {
		return fmt.Sprintf("%s (%s x sauce)", ing.Name, strconv.FormatFloat(round2(ing.Scaler), 'f', -1, 64))
	}
	return ing.Name
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
