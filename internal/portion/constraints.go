package portion

import (
	"math"

	"portionchef/internal/recipe"
)

const (
	subjectVeggies     = "veggies(g)"
	subjectStarch      = "starch(g)"
	subjectProtein     = "protein portion(g)"
	subjectMeal        = "meal(g)"
	subjectMeatDensity = "protein grams per 100 kcal"
	subjectMealDensity = "meal grams per 100 kcal"
	subjectMealTotals  = "meal totals"
)

// gramTolerance absorbs the float error left by proportional rescaling.
const gramTolerance = 1e-6

func exceeds(v, limit float64) bool {
	return v > limit+gramTolerance
}

// veggieCap is the effective veggie ceiling after the special-case overrides.
func (p *problem) veggieCap() float64 {
	switch {
	case p.yogurt:
		return p.profile.YogurtVeggieMax
	case p.fruitSnack:
		return p.profile.FruitSnackVeggieMax
	}
	return p.profile.VeggieMax
}

// proteinCap is the ceiling on total protein grams.
func (p *problem) proteinCap() float64 {
	if p.yogurt {
		return p.profile.YogurtProteinMax
	}
	return p.proteinMax
}

// hardViolations evaluates the non-relaxable meal rules. Any non-finite total fails
// the whole check.
func (p *problem) hardViolations(ings []recipe.Ingredient) []Violation {
	veggies := componentGrams(ings, recipe.ComponentVeggies)
	starch := componentGrams(ings, recipe.ComponentStarch)
	protein := componentGrams(ings, recipe.ComponentProtein)
	meal := totalGrams(ings)
	kcal := TotalNutrition(ings)[recipe.Kcal]

	for _, v := range []float64{veggies, starch, protein, meal, kcal} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return []Violation{{Subject: subjectMealTotals, Kind: TooHigh, Value: v, Bound: 0}}
		}
	}

	var out []Violation
	if p.profile.VeggieGEStarch {
		if veggies < starch {
			out = append(out, Violation{Subject: subjectVeggies, Kind: TooLow, Value: veggies, Bound: starch})
		}
		if exceeds(veggies, p.veggieCap()) {
			out = append(out, Violation{Subject: subjectVeggies, Kind: TooHigh, Value: veggies, Bound: p.veggieCap()})
		}
		if exceeds(starch, p.profile.StarchMax) {
			out = append(out, Violation{Subject: subjectStarch, Kind: TooHigh, Value: starch, Bound: p.profile.StarchMax})
		}
	}

	if p.profile.MinMeatPer100Cal > 0 && kcal > 0 {
		density := protein / kcal * 100
		if density < p.profile.MinMeatPer100Cal {
			out = append(out, Violation{Subject: subjectMeatDensity, Kind: TooLow, Value: density, Bound: p.profile.MinMeatPer100Cal})
		}
	}

	out = append(out, p.mealSizeViolations(meal, kcal)...)
	return out
}

// mealSizeViolations applies the flat yogurt meal ceiling, or the grams-per-100-kcal
// ceiling for every other dish.
func (p *problem) mealSizeViolations(meal, kcal float64) []Violation {
	if p.yogurt {
		if exceeds(meal, p.profile.YogurtMealMax) {
			return []Violation{{Subject: subjectMeal, Kind: TooHigh, Value: meal, Bound: p.profile.YogurtMealMax}}
		}
		return nil
	}
	if p.profile.MaxMealGramsPer100Cal > 0 && kcal > 0 {
		density := meal / kcal * 100
		if density > p.profile.MaxMealGramsPer100Cal {
			return []Violation{{Subject: subjectMealDensity, Kind: TooHigh, Value: density, Bound: p.profile.MaxMealGramsPer100Cal}}
		}
	}
	return nil
}

// hardConstraintsHold is the feasibility gate for best-solution tracking.
func (p *problem) hardConstraintsHold(ings []recipe.Ingredient) bool {
	return len(p.hardViolations(ings)) == 0
}

// capViolations reports component totals above their ceilings.
func (p *problem) capViolations(ings []recipe.Ingredient) []Violation {
	var out []Violation
	if v := componentGrams(ings, recipe.ComponentVeggies); exceeds(v, p.veggieCap()) {
		out = append(out, Violation{Subject: subjectVeggies, Kind: TooHigh, Value: v, Bound: p.veggieCap()})
	}
	if v := componentGrams(ings, recipe.ComponentStarch); exceeds(v, p.profile.StarchMax) {
		out = append(out, Violation{Subject: subjectStarch, Kind: TooHigh, Value: v, Bound: p.profile.StarchMax})
	}
	if v := componentGrams(ings, recipe.ComponentProtein); exceeds(v, p.proteinCap()) {
		out = append(out, Violation{Subject: subjectProtein, Kind: TooHigh, Value: v, Bound: p.proteinCap()})
	}
	return out
}

// admissionViolations holds the starch admission floor. Dishes without starch are exempt.
func (p *problem) admissionViolations(ings []recipe.Ingredient) []Violation {
	if !hasComponent(ings, recipe.ComponentStarch) {
		return nil
	}
	if v := componentGrams(ings, recipe.ComponentStarch); v < p.profile.StarchAdmissionFloor-gramTolerance {
		return []Violation{{Subject: subjectStarch, Kind: TooLow, Value: v, Bound: p.profile.StarchAdmissionFloor}}
	}
	return nil
}

// assess computes the totals of a state and everything that keeps it from being accepted.
func (p *problem) assess(ings []recipe.Ingredient) (Nutrition, ViolationReport) {
	totals := TotalNutrition(ings)
	report := newViolationReport()
	p.nutrientViolations(totals, &report)
	report.addMeal(p.hardViolations(ings)...)
	report.addMeal(p.capViolations(ings)...)
	report.addMeal(p.admissionViolations(ings)...)
	return totals, report
}

// validAdjustment reports whether moving ingredient idx to newScaler keeps its
// component under the cap. Only the changed ingredient is evaluated at newScaler.
func (p *problem) validAdjustment(ings []recipe.Ingredient, idx int, newScaler float64) bool {
	ing := ings[idx]
	potential := func() float64 {
		total := 0.0
		for i, other := range ings {
			if other.Component != ing.Component || !usable(other) {
				continue
			}
			if i == idx {
				total += other.BaseGrams * newScaler
			} else {
				total += other.Grams()
			}
		}
		return total
	}

	switch ing.Component {
	case recipe.ComponentVeggies:
		return !exceeds(potential(), p.veggieCap())
	case recipe.ComponentStarch:
		return !exceeds(potential(), p.profile.StarchMax)
	case recipe.ComponentProtein:
		if p.yogurt {
			return !exceeds(ing.BaseGrams*newScaler, p.profile.YogurtProteinMax)
		}
	}
	return true
}

// scaleWithin shrinks every item of a component proportionally until the total fits limit.
func scaleWithin(ings []recipe.Ingredient, c recipe.Component, limit float64) {
	total := componentGrams(ings, c)
	if total <= limit || total <= 0 {
		return
	}
	factor := limit / total
	for i := range ings {
		if ings[i].Component == c && usable(ings[i]) {
			ings[i].Scaler *= factor
		}
	}
}

// scaleAbove grows every item of a component proportionally until the total reaches floor.
// Components with no grams at all are left alone.
func scaleAbove(ings []recipe.Ingredient, c recipe.Component, floor float64) {
	total := componentGrams(ings, c)
	if total >= floor || total <= 0 {
		return
	}
	factor := floor / total
	for i := range ings {
		if ings[i].Component == c && usable(ings[i]) {
			ings[i].Scaler *= factor
		}
	}
}

// enforceCaps clamps every component to its ceiling and, when asked, lifts starch to its minimum.
func (p *problem) enforceCaps(ings []recipe.Ingredient, withMinimum bool) {
	scaleWithin(ings, recipe.ComponentStarch, p.profile.StarchMax)
	if withMinimum {
		scaleAbove(ings, recipe.ComponentStarch, p.profile.StarchMin)
	}
	scaleWithin(ings, recipe.ComponentProtein, p.proteinCap())
	scaleWithin(ings, recipe.ComponentVeggies, p.veggieCap())
}
