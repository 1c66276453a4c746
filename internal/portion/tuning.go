package portion

import (
	"fmt"
	"strings"

	"portionchef/internal/recipe"
)

// Tuning holds every coefficient of the adjustment heuristic and the solver loop.
// Field names follow the (component, condition) cell of the adjustment table they drive.
type Tuning struct {
	// Protein: protein over target.
	ProteinHighKcalLowDivisor float64
	ProteinHighCarbHeavy      float64
	ProteinHighDefault        float64

	// Protein: protein under target.
	ProteinLowKcalLowFactor  float64
	ProteinLowKcalLowDivisor float64
	ProteinLowCarbHigh       float64
	ProteinLowDefault        float64

	// Veggies: fiber under target.
	VeggieFiberLowCarbThreshold float64
	VeggieFiberLowCarbHigh      float64
	VeggieFiberLowDefault       float64

	// Veggies: fiber and calories over target.
	VeggieKcalHighDivisor  float64
	VeggieKcalHighCarbHigh float64

	// Veggies: carbs under target.
	VeggieCarbLowDivisor float64

	// Starch: carbs over target.
	StarchCarbHighKcalLow float64
	StarchCarbHighDefault float64

	// Starch: carbs under target.
	StarchCarbLowKcalHigh   float64
	StarchCarbLowProteinLow float64
	StarchCarbLowDefault    float64

	// Starch: carbs on target, calories off.
	StarchKcalDivisor float64

	// Starch: protein-heavy items move less when growing and more when shrinking.
	StarchProteinHeavyRatio float64
	StarchProteinHeavyDamp  float64
	StarchProteinHeavyBoost float64

	// ZeroRatioStep replaces 1/ratio - 1 when a nutrient is entirely absent.
	ZeroRatioStep float64

	// Solver.
	ScalerFloor          float64
	ConvergenceThreshold float64
	MaxIterations        int
	InitProteinFactor    float64
	InitStarchFactor     float64
	InitVeggieFactor     float64

	// Scoring.
	Weights             map[recipe.Nutrient]float64
	ScalerPenaltyWeight float64

	// Repair floors as fractions of the current grams.
	RepairProteinFloor float64
	RepairVeggieFloor  float64
}

// DefaultTuning returns the hand-tuned coefficients the heuristic ships with.
func DefaultTuning() Tuning {
	return Tuning{
		ProteinHighKcalLowDivisor: 5,
		ProteinHighCarbHeavy:      1.1,
		ProteinHighDefault:        1.2,
		ProteinLowKcalLowFactor:   0.7,
		ProteinLowKcalLowDivisor:  4,
		ProteinLowCarbHigh:        0.6,
		ProteinLowDefault:         1.0,

		VeggieFiberLowCarbThreshold: 1.2,
		VeggieFiberLowCarbHigh:      0.7,
		VeggieFiberLowDefault:       1.0,
		VeggieKcalHighDivisor:       4,
		VeggieKcalHighCarbHigh:      1.2,
		VeggieCarbLowDivisor:        4,

		StarchCarbHighKcalLow:   0.6,
		StarchCarbHighDefault:   1.1,
		StarchCarbLowKcalHigh:   0.3,
		StarchCarbLowProteinLow: 0.2,
		StarchCarbLowDefault:    0.6,
		StarchKcalDivisor:       4,
		StarchProteinHeavyRatio: 0.5,
		StarchProteinHeavyDamp:  0.3,
		StarchProteinHeavyBoost: 2,

		ZeroRatioStep: 1.0,

		ScalerFloor:          0.1,
		ConvergenceThreshold: 0.01,
		MaxIterations:        1000,
		InitProteinFactor:    0.9,
		InitStarchFactor:     0.3,
		InitVeggieFactor:     1.0,

		Weights: map[recipe.Nutrient]float64{
			recipe.Kcal:         5,
			recipe.Protein:      5,
			recipe.Carbohydrate: 3,
			recipe.Fiber:        4,
			recipe.Fat:          1,
		},
		ScalerPenaltyWeight: 0.1,

		RepairProteinFloor: 0.5,
		RepairVeggieFloor:  0.5,
	}
}

// Weight returns the deviation weight for n, defaulting to 1.
func (t Tuning) Weight(n recipe.Nutrient) float64 {
	if w, ok := t.Weights[n]; ok {
		return w
	}
	return 1
}

// Validate checks that the solver settings can terminate and scalers stay positive.
func (t Tuning) Validate() error {
	var errs []string

	if t.MaxIterations < 1 {
		errs = append(errs, "max_iterations must be >= 1")
	}
	if t.ScalerFloor <= 0 {
		errs = append(errs, "scaler_floor must be > 0")
	}
	if t.ConvergenceThreshold < 0 {
		errs = append(errs, "convergence_threshold must be >= 0")
	}
	if t.ScalerPenaltyWeight < 0 {
		errs = append(errs, "scaler_penalty_weight must be >= 0")
	}
	for n, w := range t.Weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("weight for %s must be >= 0", n))
		}
	}
	if t.RepairProteinFloor < 0 || t.RepairProteinFloor > 1 || t.RepairVeggieFloor < 0 || t.RepairVeggieFloor > 1 {
		errs = append(errs, "repair floors must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("portion: tuning validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
