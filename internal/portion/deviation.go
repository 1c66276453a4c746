package portion

import (
	"math"

	"portionchef/internal/recipe"
)

// deviation scores a state: the weighted squared relative distance of each targeted
// nutrient from its bound (or from the target when unconstrained), plus a penalty on
// how far every scaler has moved from the default portion. Lower is better.
func (p *problem) deviation(totals Nutrition, ings []recipe.Ingredient) float64 {
	total := 0.0
	for _, n := range recipe.Nutrients {
		target, ok := p.targets.Target(n)
		if !ok {
			continue
		}
		value := totals[n]

		var rel float64
		if c, ok := p.constraints[n]; ok {
			lower, upper := c.Bounds(target)
			if value > target {
				if value > upper {
					rel = (value - upper) / upper
				}
			} else if value < lower {
				rel = (value - lower) / lower
			}
		} else {
			rel = (value - target) / target
		}

		total += p.tuning.Weight(n) * rel * rel
	}

	penalty := 0.0
	for _, ing := range ings {
		penalty += math.Abs(ing.Scaler - 1.0)
	}
	return total + p.tuning.ScalerPenaltyWeight*penalty
}
