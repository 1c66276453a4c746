package portion

import (
	"math"

	"portionchef/internal/recipe"
)

// adjustmentOrder is the priority in which one pass visits components.
var adjustmentOrder = []recipe.Component{
	recipe.ComponentProtein,
	recipe.ComponentVeggies,
	recipe.ComponentStarch,
}

// step is 1/ratio - 1: the fractional change that would bring a nutrient onto target.
// An absent nutrient (ratio 0) gets the bounded ZeroRatioStep instead of infinity.
func (p *problem) step(ratio float64) float64 {
	if ratio <= 0 {
		return p.tuning.ZeroRatioStep
	}
	return 1.0/ratio - 1.0
}

// adjustment is the decision table: a signed fraction by which to grow or shrink one
// ingredient of component c, given the current ratios and its per-gram contributions.
func (p *problem) adjustment(c recipe.Component, ratios, contrib map[recipe.Nutrient]float64) float64 {
	t := p.tuning
	ratioOf := func(n recipe.Nutrient) float64 {
		if r, ok := ratios[n]; ok {
			return r
		}
		return 1.0
	}
	pr := ratioOf(recipe.Protein)
	kr := ratioOf(recipe.Kcal)
	cr := ratioOf(recipe.Carbohydrate)
	fr := ratioOf(recipe.Fiber)
	proteinContrib := contrib[recipe.Protein]
	carbContrib := contrib[recipe.Carbohydrate]

	var adj float64
	switch c {
	case recipe.ComponentProtein:
		switch {
		case pr > 1:
			base := p.step(pr)
			switch {
			case kr < 1:
				adj = math.Min(base, p.step(kr)/t.ProteinHighKcalLowDivisor)
			case cr > 1 && carbContrib > proteinContrib:
				adj = base * t.ProteinHighCarbHeavy
			default:
				adj = base * t.ProteinHighDefault
			}
		case pr < 1:
			base := p.step(pr)
			switch {
			case kr < 1:
				adj = math.Max(base*t.ProteinLowKcalLowFactor, p.step(kr)/t.ProteinLowKcalLowDivisor)
			case cr > 1:
				adj = base * t.ProteinLowCarbHigh
			default:
				adj = base * t.ProteinLowDefault
			}
		}

	case recipe.ComponentVeggies:
		switch {
		case fr < 1:
			base := p.step(fr)
			if cr > t.VeggieFiberLowCarbThreshold {
				adj = base * t.VeggieFiberLowCarbHigh
			} else {
				adj = base * t.VeggieFiberLowDefault
			}
		case fr > 1 && kr > 1:
			base := p.step(kr) / t.VeggieKcalHighDivisor
			if cr > 1 {
				adj = base * t.VeggieKcalHighCarbHigh
			} else {
				adj = base
			}
		case cr < 1:
			adj = p.step(cr) / t.VeggieCarbLowDivisor
		}

	case recipe.ComponentStarch:
		switch {
		case cr > 1:
			base := p.step(cr)
			if kr < 1 {
				adj = base * t.StarchCarbHighKcalLow
			} else {
				adj = base * t.StarchCarbHighDefault
			}
		case cr < 1:
			base := p.step(cr)
			switch {
			case kr > 1:
				adj = base * t.StarchCarbLowKcalHigh
			case pr < 1:
				adj = base * t.StarchCarbLowProteinLow
			default:
				adj = base * t.StarchCarbLowDefault
			}
		case kr != 1:
			adj = p.step(kr) / t.StarchKcalDivisor
		}

		if proteinHeavy(proteinContrib, carbContrib, t.StarchProteinHeavyRatio) {
			if adj > 0 {
				adj *= t.StarchProteinHeavyDamp
			} else {
				adj *= t.StarchProteinHeavyBoost
			}
		}
	}

	return adj
}

// proteinHeavy reports protein/carb > threshold. A starch with no carbs at all is
// protein-heavy whenever it carries protein.
func proteinHeavy(protein, carb, threshold float64) bool {
	if carb <= 0 {
		return protein > 0
	}
	return protein/carb > threshold
}

// singleAdjustment computes the adjustment for one ingredient from the live totals.
// Sauce, garnish and ingredients without base grams never move.
func (p *problem) singleAdjustment(ing recipe.Ingredient, current Nutrition) float64 {
	if ing.Component.Fixed() || ing.BaseGrams <= 0 {
		return 0
	}

	contrib := make(map[recipe.Nutrient]float64, len(recipe.Nutrients))
	for _, n := range recipe.Nutrients {
		if _, ok := p.targets[n]; !ok {
			continue
		}
		if perGram := ing.PerGram(n); perGram > 0 {
			contrib[n] = perGram
		}
	}
	if len(contrib) == 0 {
		return 0
	}

	return p.adjustment(ing.Component, p.ratios(current), contrib)
}

// adjustPass runs one greedy pass over a copy of ings. Totals are recomputed after
// every committed change so later ingredients see the effect of earlier ones.
// An adjustment that would break its component cap is dropped whole.
func (p *problem) adjustPass(ings []recipe.Ingredient) []recipe.Ingredient {
	adjusted := make([]recipe.Ingredient, len(ings))
	copy(adjusted, ings)
	current := TotalNutrition(adjusted)

	for _, c := range adjustmentOrder {
		for idx := range adjusted {
			ing := adjusted[idx]
			if ing.Component != c || !usable(ing) {
				continue
			}

			adj := p.singleAdjustment(ing, current)
			if adj == 0 || math.IsNaN(adj) || math.IsInf(adj, 0) {
				continue
			}

			newScaler := ceil2(math.Max(p.tuning.ScalerFloor, ing.Scaler*(1.0+adj)))
			if !p.validAdjustment(adjusted, idx, newScaler) {
				continue
			}
			adjusted[idx].Scaler = newScaler
			current = TotalNutrition(adjusted)
		}
	}

	return adjusted
}

// ceil2 rounds up to two decimals, ignoring float noise just above a boundary.
func ceil2(v float64) float64 {
	return math.Ceil(v*100-1e-9) / 100
}

// similar reports whether no scaler moved by more than threshold.
func similar(a, b []recipe.Ingredient, threshold float64) bool {
	for i := range a {
		if math.Abs(a[i].Scaler-b[i].Scaler) > threshold {
			return false
		}
	}
	return true
}
