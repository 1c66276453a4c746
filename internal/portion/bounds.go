package portion

import (
	"fmt"
	"sort"
	"strings"

	"portionchef/internal/recipe"
)

// normalizeNutrientName folds the historical spellings ("Protein (g)", "Fat, Total (g)",
// "protein(g)") onto one comparable key.
func normalizeNutrientName(name string) string {
	s := strings.ToLower(name)
	for _, cut := range []string{"(g)", "total", " ", ","} {
		s = strings.ReplaceAll(s, cut, "")
	}
	return s
}

// resolveConstraints matches constraint keys to nutrients by normalized name.
// An exact canonical key wins; otherwise the lexically first matching key does.
func resolveConstraints(raw map[string]recipe.NutrientConstraint) map[recipe.Nutrient]recipe.NutrientConstraint {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[recipe.Nutrient]recipe.NutrientConstraint, len(recipe.Nutrients))
	for _, n := range recipe.Nutrients {
		if c, ok := raw[string(n)]; ok {
			out[n] = c
			continue
		}
		want := normalizeNutrientName(string(n))
		for _, k := range keys {
			if normalizeNutrientName(k) == want {
				out[n] = raw[k]
				break
			}
		}
	}
	return out
}

// ViolationKind says which side of a bound was crossed.
type ViolationKind string

const (
	TooLow  ViolationKind = "too low"
	TooHigh ViolationKind = "too high"
)

// Violation is one crossed bound. Subject is a nutrient name or a meal-level measure.
type Violation struct {
	Subject string        `json:"subject"`
	Kind    ViolationKind `json:"kind"`
	Value   float64       `json:"value"`
	Bound   float64       `json:"bound"`
}

// String renders the violation the way review notes print it, e.g.
// "protein(g) too low: 40.0 < 48.0".
func (v Violation) String() string {
	op := "<"
	if v.Kind == TooHigh {
		op = ">"
	}
	return fmt.Sprintf("%s %s: %.1f %s %.1f", v.Subject, v.Kind, v.Value, op, v.Bound)
}

// Magnitude is the signed change that would bring the value onto the bound,
// positive when the value is too low.
func (v Violation) Magnitude() float64 {
	return round1(v.Bound) - round1(v.Value)
}

// ViolationReport is the structured outcome of a bound evaluation. Nutrient
// violations drive the repair pass; meal violations only explain review flags.
type ViolationReport struct {
	Nutrients map[recipe.Nutrient]Violation
	Meal      []Violation
}

func newViolationReport() ViolationReport {
	return ViolationReport{Nutrients: make(map[recipe.Nutrient]Violation)}
}

// Empty reports whether no bound is violated.
func (r ViolationReport) Empty() bool {
	return len(r.Nutrients) == 0 && len(r.Meal) == 0
}

// Low reports whether n is below its lower bound.
func (r ViolationReport) Low(n recipe.Nutrient) bool {
	v, ok := r.Nutrients[n]
	return ok && v.Kind == TooLow
}

// High reports whether n is above its upper bound.
func (r ViolationReport) High(n recipe.Nutrient) bool {
	v, ok := r.Nutrients[n]
	return ok && v.Kind == TooHigh
}

// Needed returns the signed amount of n needed to reach its bound, or 0.
func (r ViolationReport) Needed(n recipe.Nutrient) float64 {
	if v, ok := r.Nutrients[n]; ok {
		return v.Magnitude()
	}
	return 0
}

// addMeal appends a meal violation unless an identical one is already present.
func (r *ViolationReport) addMeal(vs ...Violation) {
	for _, v := range vs {
		dup := false
		for _, have := range r.Meal {
			if have.String() == v.String() {
				dup = true
				break
			}
		}
		if !dup {
			r.Meal = append(r.Meal, v)
		}
	}
}

// Notes joins every violation in reporting order, or says all constraints are met.
func (r ViolationReport) Notes() string {
	if r.Empty() {
		return notesAllMet
	}
	parts := make([]string, 0, len(r.Nutrients)+len(r.Meal))
	for _, n := range recipe.Nutrients {
		if v, ok := r.Nutrients[n]; ok {
			parts = append(parts, v.String())
		}
	}
	for _, v := range r.Meal {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "; ")
}

const notesAllMet = "All constraints met"

// ratio is current/target, or 1 when the nutrient has no target.
func (p *problem) ratio(n recipe.Nutrient, current float64) float64 {
	target, ok := p.targets.Target(n)
	if !ok {
		return 1.0
	}
	return current / target
}

// ratios evaluates every nutrient that carries a requirement.
func (p *problem) ratios(totals Nutrition) map[recipe.Nutrient]float64 {
	out := make(map[recipe.Nutrient]float64, len(recipe.Nutrients))
	for _, n := range recipe.Nutrients {
		if _, ok := p.targets[n]; ok {
			out[n] = p.ratio(n, totals[n])
		}
	}
	return out
}

// nutrientViolations compares the 1-decimal rounded totals against every bound that has
// both a matching constraint and an active target. A nil or zero multiplier is not a bound.
func (p *problem) nutrientViolations(totals Nutrition, report *ViolationReport) {
	for _, n := range recipe.Nutrients {
		c, ok := p.constraints[n]
		if !ok {
			continue
		}
		target, ok := p.targets.Target(n)
		if !ok {
			continue
		}
		value := round1(totals[n])
		if c.LB != nil && *c.LB != 0 {
			bound := *c.LB * target
			if value < round1(bound) {
				report.Nutrients[n] = Violation{Subject: string(n), Kind: TooLow, Value: value, Bound: bound}
				continue
			}
		}
		if c.UB != nil && *c.UB != 0 {
			bound := *c.UB * target
			if value > round1(bound) {
				report.Nutrients[n] = Violation{Subject: string(n), Kind: TooHigh, Value: value, Bound: bound}
			}
		}
	}
}
