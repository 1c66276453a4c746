package portion

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"portionchef/internal/recipe"
)

var (
	// ErrEmptyRecipe is returned when there is nothing to portion.
	ErrEmptyRecipe = errors.New("recipe has no ingredients")
	// ErrNegativeRequirement is returned when a nutrition target is below zero.
	ErrNegativeRequirement = errors.New("negative nutrition requirement")
)

// Request is one portioning problem.
type Request struct {
	Recipe       recipe.Recipe
	Requirements map[string]any
	Constraints  map[string]recipe.NutrientConstraint
	Profile      recipe.ConstraintProfile
}

// Optimizer scales ingredient portions toward a customer's nutrition targets.
// It holds no per-call state and is safe for concurrent use.
type Optimizer struct {
	logger *zap.Logger
	tuning Tuning
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithTuning replaces the default coefficients.
func WithTuning(t Tuning) Option {
	return func(o *Optimizer) {
		o.tuning = t
	}
}

// WithMaxIterations bounds the solver loop.
func WithMaxIterations(n int) Option {
	return func(o *Optimizer) {
		o.tuning.MaxIterations = n
	}
}

// NewOptimizer creates a new Optimizer. A nil logger discards output.
func NewOptimizer(logger *zap.Logger, opts ...Option) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Optimizer{logger: logger, tuning: DefaultTuning()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// problem is the per-call state: resolved targets, bounds, caps and special-case flags.
type problem struct {
	logger      *zap.Logger
	tuning      Tuning
	targets     Requirements
	constraints map[recipe.Nutrient]recipe.NutrientConstraint
	profile     recipe.ConstraintProfile
	yogurt      bool
	fruitSnack  bool
	proteinMax  float64
}

func (o *Optimizer) newProblem(req Request) (*problem, error) {
	if len(req.Recipe.Ingredients) == 0 {
		return nil, ErrEmptyRecipe
	}
	if err := o.tuning.Validate(); err != nil {
		return nil, err
	}
	targets := NormalizeRequirements(req.Requirements)
	if err := targets.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With(zap.String("dish", req.Recipe.DishName))
	for _, ing := range req.Recipe.Ingredients {
		if reason := ing.Malformed(); reason != "" {
			logger.Warn("skipping malformed ingredient",
				zap.String("ingredient", ing.Name),
				zap.String("reason", reason),
			)
		}
	}

	p := &problem{
		logger:      logger,
		tuning:      o.tuning,
		targets:     targets,
		constraints: resolveConstraints(req.Constraints),
		profile:     req.Profile.WithDefaults(),
		yogurt:      req.Recipe.HasYogurtProtein(),
		fruitSnack:  req.Recipe.IsFruitSnack(),
	}
	p.proteinMax = p.resolveProteinMax(req.Recipe.Ingredients)
	return p, nil
}

// resolveProteinMax takes the cap of the first protein item that is not marked "ignore".
func (p *problem) resolveProteinMax(ings []recipe.Ingredient) float64 {
	for _, ing := range ings {
		if ing.Component == recipe.ComponentProtein && ing.ProteinType != recipe.ProteinIgnore {
			return p.profile.ProteinCap(ing.ProteinType)
		}
	}
	return p.profile.DefaultProteinMax
}

// Optimize portions req.Recipe. Infeasibility is not an error: the result is flagged
// for review with notes naming every violated bound. The caller's recipe is not modified.
func (o *Optimizer) Optimize(req Request) (*Result, error) {
	p, err := o.newProblem(req)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare portioning: %w", err)
	}

	final := defaultPortions(req.Recipe)
	final.Ingredients = p.solve(final.Ingredients)

	res := p.format(final)
	if res.Results.ReviewNeeded {
		p.logger.Info("portioning needs review", zap.String("notes", res.Results.Notes))
	}
	return res, nil
}

// defaultPortions copies r with every ingredient back at its base portion.
// Scalers carried in by the caller are never a starting point.
func defaultPortions(r recipe.Recipe) recipe.Recipe {
	out := r.Clone()
	for i := range out.Ingredients {
		out.Ingredients[i].Scaler = 1.0
	}
	return out
}

// sauceScaler is the fixed portion for sauces.
func (p *problem) sauceScaler() float64 {
	if p.profile.DoubleSauce {
		return 2
	}
	return 1
}

func (p *problem) fixedScaler(c recipe.Component) float64 {
	if c == recipe.ComponentSauce {
		return p.sauceScaler()
	}
	return 1
}

// solve moves through the direct cases, or iterates and repairs, and returns the final scalers.
func (p *problem) solve(ings []recipe.Ingredient) []recipe.Ingredient {
	components := make(map[recipe.Component]bool)
	var scalableKcal, fixedKcal float64
	for _, ing := range ings {
		if !usable(ing) {
			continue
		}
		if ing.Component.Fixed() {
			fixedKcal += ing.KcalPerBase * p.fixedScaler(ing.Component)
			continue
		}
		components[ing.Component] = true
		scalableKcal += ing.KcalPerBase
	}

	switch {
	case len(ings) == 1:
		if s, ok := p.calorieScaler(scalableKcal, fixedKcal); ok {
			ings[0].Scaler = math.Max(p.tuning.ScalerFloor, math.Round(s))
		}
		p.logger.Debug("portioned single ingredient", zap.Float64("scaler", ings[0].Scaler))
		return ings

	case len(components) <= 2:
		s, ok := p.calorieScaler(scalableKcal, fixedKcal)
		for i := range ings {
			switch {
			case ings[i].Component.Fixed():
				ings[i].Scaler = p.fixedScaler(ings[i].Component)
			case ok && usable(ings[i]):
				ings[i].Scaler = math.Max(p.tuning.ScalerFloor, s)
			}
		}
		p.enforceCaps(ings, false)
		p.logger.Debug("portioned from calorie gap", zap.Int("components", len(components)))
		return ings
	}

	p.initialize(ings)
	final := p.iterate(ings)

	if _, report := p.assess(final); !report.Empty() {
		final = p.repair(final, report)
	}
	p.enforceCaps(final, false)
	return final
}

// calorieScaler is the single scaler that closes the calorie gap left by fixed items.
func (p *problem) calorieScaler(scalableKcal, fixedKcal float64) (float64, bool) {
	target, ok := p.targets.Target(recipe.Kcal)
	if !ok || scalableKcal <= 0 {
		return 0, false
	}
	return (target - fixedKcal) / scalableKcal, true
}

// initialize seeds scalers from target/initial ratios. A nutrient with no target or
// no initial amount leaves its component at the default portion.
func (p *problem) initialize(ings []recipe.Ingredient) {
	initial := TotalNutrition(ings)
	if initial[recipe.Kcal] <= 0 {
		return
	}

	seed := func(n recipe.Nutrient, factor float64) float64 {
		target, ok := p.targets.Target(n)
		if !ok || initial[n] <= 0 {
			return 1.0
		}
		return math.Max(p.tuning.ScalerFloor, target/initial[n]*factor)
	}
	protein := seed(recipe.Protein, p.tuning.InitProteinFactor)
	starch := seed(recipe.Carbohydrate, p.tuning.InitStarchFactor)
	veggies := seed(recipe.Fiber, p.tuning.InitVeggieFactor)

	for i := range ings {
		switch ings[i].Component {
		case recipe.ComponentSauce, recipe.ComponentGarnish:
			ings[i].Scaler = p.fixedScaler(ings[i].Component)
		case recipe.ComponentProtein:
			ings[i].Scaler = protein
		case recipe.ComponentStarch:
			ings[i].Scaler = starch
		case recipe.ComponentVeggies:
			ings[i].Scaler = veggies
		}
	}
}

// iterate runs the adjustment loop and returns the first feasible state, else the
// best state that held the hard constraints, else the last state.
func (p *problem) iterate(ings []recipe.Ingredient) []recipe.Ingredient {
	var best []recipe.Ingredient
	bestDeviation := math.Inf(1)

	for i := 0; i < p.tuning.MaxIterations; i++ {
		p.enforceCaps(ings, true)

		totals, report := p.assess(ings)
		dev := p.deviation(totals, ings)
		if dev < bestDeviation && p.hardConstraintsHold(ings) {
			bestDeviation = dev
			best = append(best[:0], ings...)
		}

		if report.Empty() {
			p.logger.Debug("portioning converged", zap.Int("iterations", i+1))
			return ings
		}

		adjusted := p.adjustPass(ings)
		if similar(ings, adjusted, p.tuning.ConvergenceThreshold) {
			p.logger.Debug("portioning stalled", zap.Int("iterations", i+1), zap.Float64("deviation", dev))
			break
		}
		ings = adjusted
	}

	if best != nil {
		return best
	}
	return ings
}
