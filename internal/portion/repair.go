package portion

import (
	"math"

	"go.uber.org/zap"

	"portionchef/internal/recipe"
)

// repairer applies one round of rule-based fixes to a state the solver could not
// make feasible. It only changes scalers of existing ingredients.
type repairer struct {
	p      *problem
	ings   []recipe.Ingredient
	report ViolationReport
}

func (r *repairer) refresh() {
	_, r.report = r.p.assess(r.ings)
}

type repairCase struct {
	name    string
	matches func(ViolationReport) bool
	apply   func(*repairer)
}

// repairCases are tried in order and the first match runs. Cases naming more
// violations come before the cases they contain.
var repairCases = []repairCase{
	{
		name: "kcal-protein-carbs-low",
		matches: func(v ViolationReport) bool {
			return v.Low(recipe.Kcal) && v.Low(recipe.Protein) && v.Low(recipe.Carbohydrate)
		},
		apply: func(r *repairer) {
			r.addVeggiesForCarbs(r.report.Needed(recipe.Carbohydrate))
			r.refresh()
			if r.report.Low(recipe.Carbohydrate) {
				r.addStarchForCarbs(r.report.Needed(recipe.Carbohydrate))
				r.refresh()
			}
			if r.report.Low(recipe.Protein) {
				r.addProtein(r.report.Needed(recipe.Protein))
			}
		},
	},
	{
		name: "kcal-protein-low-carbs-high",
		matches: func(v ViolationReport) bool {
			return v.Low(recipe.Kcal) && v.Low(recipe.Protein) && v.High(recipe.Carbohydrate)
		},
		apply: func(r *repairer) {
			r.reduceCarbs(r.report.Needed(recipe.Carbohydrate))
			r.refresh()
			if r.report.Low(recipe.Protein) {
				r.addProtein(r.report.Needed(recipe.Protein))
			}
		},
	},
	{
		name: "kcal-carbs-low",
		matches: func(v ViolationReport) bool {
			return v.Low(recipe.Kcal) && v.Low(recipe.Carbohydrate)
		},
		apply: func(r *repairer) {
			r.addVeggiesForCarbs(r.report.Needed(recipe.Carbohydrate))
			r.refresh()
			if r.report.Low(recipe.Carbohydrate) {
				r.addStarchForCarbs(r.report.Needed(recipe.Carbohydrate))
				r.refresh()
			}
			if r.report.Low(recipe.Kcal) {
				r.doubleSauce()
			}
		},
	},
	{
		name: "kcal-protein-low",
		matches: func(v ViolationReport) bool {
			return v.Low(recipe.Kcal) && v.Low(recipe.Protein)
		},
		apply: func(r *repairer) {
			r.addProtein(r.report.Needed(recipe.Protein))
			r.refresh()
			if r.report.Low(recipe.Kcal) {
				r.doubleSauce()
			}
		},
	},
	{
		name: "kcal-carbs-high-protein-low",
		matches: func(v ViolationReport) bool {
			return v.High(recipe.Kcal) && v.High(recipe.Carbohydrate) && v.Low(recipe.Protein)
		},
		apply: func(r *repairer) {
			r.reduceCarbs(r.report.Needed(recipe.Carbohydrate))
			r.refresh()
			if r.report.Low(recipe.Protein) && !r.report.High(recipe.Kcal) {
				r.addProtein(r.report.Needed(recipe.Protein))
			}
		},
	},
	{
		name: "kcal-carbs-high",
		matches: func(v ViolationReport) bool {
			return v.High(recipe.Kcal) && v.High(recipe.Carbohydrate) && !v.High(recipe.Protein)
		},
		apply: func(r *repairer) {
			r.reduceCarbs(r.report.Needed(recipe.Carbohydrate))
		},
	},
	{
		name: "kcal-protein-high",
		matches: func(v ViolationReport) bool {
			return v.High(recipe.Kcal) && v.High(recipe.Protein)
		},
		apply: func(r *repairer) {
			r.reduceProtein(r.report.Needed(recipe.Protein))
		},
	},
}

// repair runs the first matching case once and returns the repaired copy.
func (p *problem) repair(ings []recipe.Ingredient, report ViolationReport) []recipe.Ingredient {
	r := &repairer{p: p, ings: make([]recipe.Ingredient, len(ings)), report: report}
	copy(r.ings, ings)

	for _, c := range repairCases {
		if !c.matches(r.report) {
			continue
		}
		p.logger.Debug("applying final adjustment", zap.String("case", c.name))
		c.apply(r)
		break
	}
	return r.ings
}

// first returns the index of the first usable ingredient of component c, or -1.
func (r *repairer) first(c recipe.Component) int {
	for i, ing := range r.ings {
		if ing.Component == c && usable(ing) && ing.BaseGrams > 0 {
			return i
		}
	}
	return -1
}

// highestCarbVeggie returns the index of the veggie richest in carbohydrate, or -1.
func (r *repairer) highestCarbVeggie() int {
	best := -1
	for i, ing := range r.ings {
		if ing.Component != recipe.ComponentVeggies || !usable(ing) || ing.BaseGrams <= 0 {
			continue
		}
		if best == -1 || ing.CarbohydratePerBase > r.ings[best].CarbohydratePerBase {
			best = i
		}
	}
	return best
}

func (r *repairer) addGrams(idx int, grams float64) {
	r.ings[idx].Scaler += grams / r.ings[idx].BaseGrams
}

// removeGrams takes grams off an ingredient without going under the scaler floor.
func (r *repairer) removeGrams(idx int, grams float64) {
	ing := &r.ings[idx]
	ing.Scaler = math.Max(r.p.tuning.ScalerFloor, ing.Scaler-grams/ing.BaseGrams)
}

func (r *repairer) addVeggiesForCarbs(carbsNeeded float64) bool {
	if carbsNeeded <= 0 {
		return false
	}
	headroom := r.p.veggieCap() - componentGrams(r.ings, recipe.ComponentVeggies)
	if headroom <= 0 {
		return false
	}
	idx := r.highestCarbVeggie()
	if idx < 0 {
		return false
	}
	perGram := r.ings[idx].PerGram(recipe.Carbohydrate)
	if perGram <= 0 {
		return false
	}
	r.addGrams(idx, math.Min(headroom, carbsNeeded/perGram))
	return true
}

func (r *repairer) addStarchForCarbs(carbsNeeded float64) bool {
	if carbsNeeded <= 0 {
		return false
	}
	idx := r.first(recipe.ComponentStarch)
	if idx < 0 {
		return false
	}
	headroom := r.p.profile.StarchMax - componentGrams(r.ings, recipe.ComponentStarch)
	if headroom <= 0 {
		return false
	}
	perGram := r.ings[idx].PerGram(recipe.Carbohydrate)
	if perGram <= 0 {
		return false
	}
	r.addGrams(idx, math.Min(headroom, carbsNeeded/perGram))
	return true
}

func (r *repairer) addProtein(proteinNeeded float64) bool {
	if proteinNeeded <= 0 {
		return false
	}
	idx := r.first(recipe.ComponentProtein)
	if idx < 0 {
		return false
	}
	ing := r.ings[idx]
	perGram := ing.PerGram(recipe.Protein)
	if perGram <= 0 {
		return false
	}

	var headroom float64
	if ing.Special == recipe.SpecialYogurtProtein {
		headroom = math.Max(0, r.p.profile.YogurtProteinMax-ing.Grams())
	} else {
		headroom = r.p.proteinCap() - componentGrams(r.ings, recipe.ComponentProtein)
	}
	if headroom <= 0 {
		return false
	}
	r.addGrams(idx, math.Min(proteinNeeded/perGram, headroom))
	return true
}

// doubleSauce moves every sauce still at one portion to two.
func (r *repairer) doubleSauce() bool {
	adjusted := false
	for i := range r.ings {
		if r.ings[i].Component == recipe.ComponentSauce && math.Trunc(r.ings[i].Scaler) == 1 {
			r.ings[i].Scaler = 2
			adjusted = true
		}
	}
	return adjusted
}

// reduceProtein takes grams off the first protein item, never below RepairProteinFloor
// of its current grams. proteinNeeded is negative when protein is too high.
func (r *repairer) reduceProtein(proteinNeeded float64) bool {
	if proteinNeeded >= 0 {
		return false
	}
	idx := r.first(recipe.ComponentProtein)
	if idx < 0 {
		return false
	}
	ing := r.ings[idx]
	perGram := ing.PerGram(recipe.Protein)
	if perGram <= 0 {
		return false
	}
	current := ing.Grams()
	grams := math.Min(math.Abs(proteinNeeded)/perGram, current-current*r.p.tuning.RepairProteinFloor)
	if grams <= 0 {
		return false
	}
	r.removeGrams(idx, grams)
	return true
}

// reduceCarbs trims the first starch item down to the starch minimum, then, if carbs
// are still high, trims the highest-carb veggie down to RepairVeggieFloor of its grams.
func (r *repairer) reduceCarbs(carbsNeeded float64) bool {
	if carbsNeeded >= 0 {
		return false
	}

	reduced := false
	if idx := r.first(recipe.ComponentStarch); idx >= 0 {
		ing := r.ings[idx]
		if perGram := ing.PerGram(recipe.Carbohydrate); perGram > 0 {
			grams := math.Min(math.Abs(carbsNeeded)/perGram, ing.Grams()-r.p.profile.StarchMin)
			if grams > 0 {
				r.removeGrams(idx, grams)
				reduced = true
			}
		}
	}

	if reduced {
		r.refresh()
		carbsNeeded = r.report.Needed(recipe.Carbohydrate)
	}
	if carbsNeeded >= 0 {
		return reduced
	}

	idx := r.highestCarbVeggie()
	if idx < 0 {
		return reduced
	}
	ing := r.ings[idx]
	perGram := ing.PerGram(recipe.Carbohydrate)
	if perGram <= 0 {
		return reduced
	}
	current := ing.Grams()
	grams := math.Min(math.Abs(carbsNeeded)/perGram, current-current*r.p.tuning.RepairVeggieFloor)
	if grams > 0 {
		r.removeGrams(idx, grams)
		return true
	}
	return reduced
}
