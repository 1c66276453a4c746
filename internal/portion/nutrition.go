package portion

import (
	"math"

	"portionchef/internal/recipe"
)

// Nutrition holds nutrient totals for a recipe state.
type Nutrition map[recipe.Nutrient]float64

// TotalNutrition sums rate × scaler over every well-formed ingredient with positive
// effective grams. Rates are per the ingredient's own base portion, so grams never enter.
func TotalNutrition(ings []recipe.Ingredient) Nutrition {
	totals := make(Nutrition, len(recipe.Nutrients))
	for _, n := range recipe.Nutrients {
		totals[n] = 0
	}
	for _, ing := range ings {
		if !usable(ing) || ing.Grams() <= 0 {
			continue
		}
		for _, n := range recipe.Nutrients {
			totals[n] += ing.Rate(n) * ing.Scaler
		}
	}
	return totals
}

// micronutrientTotals scales each ingredient's micronutrient rates the same way as the macros.
func micronutrientTotals(ings []recipe.Ingredient) map[string]float64 {
	var totals map[string]float64
	for _, ing := range ings {
		if !usable(ing) || ing.Grams() <= 0 || len(ing.Micronutrients) == 0 {
			continue
		}
		if totals == nil {
			totals = make(map[string]float64)
		}
		for name, rate := range ing.Micronutrients {
			if math.IsNaN(rate) {
				continue
			}
			totals[name] += rate * ing.Scaler
		}
	}
	return totals
}

func usable(ing recipe.Ingredient) bool {
	return ing.Malformed() == ""
}

func componentGrams(ings []recipe.Ingredient, c recipe.Component) float64 {
	total := 0.0
	for _, ing := range ings {
		if ing.Component == c && usable(ing) {
			total += ing.Grams()
		}
	}
	return total
}

func totalGrams(ings []recipe.Ingredient) float64 {
	total := 0.0
	for _, ing := range ings {
		if usable(ing) {
			total += ing.Grams()
		}
	}
	return total
}

func hasComponent(ings []recipe.Ingredient, c recipe.Component) bool {
	for _, ing := range ings {
		if ing.Component == c && usable(ing) {
			return true
		}
	}
	return false
}

// round1 rounds half away from zero to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
