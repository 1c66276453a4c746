package portion

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"portionchef/internal/recipe"
)

// ErrNoProposal is returned when a text-generation answer holds no usable portions.
var ErrNoProposal = errors.New("no portion proposal in response")

// NotesPortioningSkipped marks a baseline serving.
const NotesPortioningSkipped = "Portioning skipped"

// ProposedIngredient is one line of a proposal returned by a text-generation service.
type ProposedIngredient struct {
	Name      string  `json:"Ingredient Name"`
	Component string  `json:"Component"`
	Grams     float64 `json:"Grams"`
}

// Proposal is a set of grams proposed by a text-generation service.
type Proposal struct {
	Ingredients  []ProposedIngredient
	Explanation  string
	ReviewNeeded bool
}

// BuildPrompt describes a portioning problem to a text-generation service and asks
// for grams per ingredient in a fixed JSON shape.
func BuildPrompt(req Request) string {
	targets := NormalizeRequirements(req.Requirements)
	profile := req.Profile.WithDefaults()

	var b strings.Builder
	b.WriteString("You are an assistant that adjusts a recipe's ingredient grams so the meal meets a customer's nutrition goals ")
	b.WriteString("while keeping the dish recognisable. Only change grams; never add or remove ingredients.\n\n")

	fmt.Fprintf(&b, "Dish: %s\n", req.Recipe.DishName)
	b.WriteString("Ingredients (nutrients are per base portion):\n")
	for _, ing := range req.Recipe.Ingredients {
		fmt.Fprintf(&b, "- %s | component: %s | base grams: %.1f | kcal: %.2f | protein(g): %.2f | fat(g): %.2f | dietaryFiber(g): %.2f | carbohydrate(g): %.2f\n",
			ing.Name, ing.Component, ing.BaseGrams,
			ing.KcalPerBase, ing.ProteinPerBase, ing.FatPerBase, ing.FiberPerBase, ing.CarbohydratePerBase)
	}

	b.WriteString("\nCustomer targets:\n")
	for _, n := range recipe.Nutrients {
		if t, ok := targets.Target(n); ok {
			fmt.Fprintf(&b, "- %s: %.1f\n", n, t)
		}
	}

	constraints := resolveConstraints(req.Constraints)
	if len(constraints) > 0 {
		b.WriteString("\nAcceptable ranges as multiples of each target (lb = lower, ub = upper). ")
		b.WriteString("For example a 100g protein goal with lb 0.8 and ub 1.2 accepts 80g to 120g.\n")
		for _, n := range recipe.Nutrients {
			c, ok := constraints[n]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "- %s: lb %s, ub %s\n", n, multiplier(c.LB), multiplier(c.UB))
		}
	}

	b.WriteString("\nConstraints which you must strictly follow:\n")
	fmt.Fprintf(&b, "- Total veggies grams at most %.0f\n", veggieLimit(req.Recipe, profile))
	fmt.Fprintf(&b, "- Total starch grams between %.0f and %.0f\n", profile.StarchMin, profile.StarchMax)
	fmt.Fprintf(&b, "- Total protein grams at most %.0f\n", proteinLimit(req.Recipe, profile))
	if profile.VeggieGEStarch {
		b.WriteString("- Veggie grams must be greater than or equal to starch grams\n")
	}
	if profile.MinMeatPer100Cal > 0 {
		fmt.Fprintf(&b, "- At least %.1f grams of protein items per 100 kcal\n", profile.MinMeatPer100Cal)
	}
	if req.Recipe.HasYogurtProtein() {
		fmt.Fprintf(&b, "- The whole meal weighs at most %.0f grams\n", profile.YogurtMealMax)
	} else if profile.MaxMealGramsPer100Cal > 0 {
		fmt.Fprintf(&b, "- At most %.1f grams of the whole meal per 100 kcal\n", profile.MaxMealGramsPer100Cal)
	}
	if profile.DoubleSauce {
		b.WriteString("- Serve every sauce at twice its base grams\n")
	} else {
		b.WriteString("- Keep sauce and garnish at their base grams\n")
	}

	b.WriteString("\nGet protein and calories as close to their targets as you can first, then the other nutrients.\n")
	b.WriteString("Return only a JSON object, without markdown, in exactly this shape:\n")
	b.WriteString(`{"modified_recipe": {"ingredients": [{"Ingredient Name": "Chicken Breast", "Component": "protein", "Grams": 150}]}, `)
	b.WriteString(`"explanation": "two or three sentences on the changes", "review_needed": ""}`)
	b.WriteString("\nIf you cannot find a solution, set review_needed to true, explain why in the explanation, and return the original grams.\n")

	return b.String()
}

func multiplier(v *float64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%.2f", *v)
}

func veggieLimit(r recipe.Recipe, profile recipe.ConstraintProfile) float64 {
	p := &problem{profile: profile, yogurt: r.HasYogurtProtein(), fruitSnack: r.IsFruitSnack()}
	return p.veggieCap()
}

func proteinLimit(r recipe.Recipe, profile recipe.ConstraintProfile) float64 {
	p := &problem{profile: profile, yogurt: r.HasYogurtProtein()}
	p.proteinMax = p.resolveProteinMax(r.Ingredients)
	return p.proteinCap()
}

// ParseProposal extracts a proposal from free text. The JSON object may be wrapped in
// prose or markdown fences; review_needed may be true, "True" or "".
func ParseProposal(text string) (*Proposal, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || start > end {
		return nil, fmt.Errorf("%w: could not find JSON object in response", ErrNoProposal)
	}

	var raw struct {
		ModifiedRecipe struct {
			Ingredients []ProposedIngredient `json:"ingredients"`
		} `json:"modified_recipe"`
		Explanation  string `json:"explanation"`
		ReviewNeeded any    `json:"review_needed"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proposal JSON: %w", err)
	}
	if len(raw.ModifiedRecipe.Ingredients) == 0 {
		return nil, ErrNoProposal
	}

	p := &Proposal{
		Ingredients: raw.ModifiedRecipe.Ingredients,
		Explanation: raw.Explanation,
	}
	switch v := raw.ReviewNeeded.(type) {
	case bool:
		p.ReviewNeeded = v
	case string:
		p.ReviewNeeded = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return p, nil
}

// Evaluate applies proposed grams to the recipe and holds them to the same bounds and
// caps as Optimize. Ingredients missing from the proposal keep their base portion.
func (o *Optimizer) Evaluate(req Request, proposal *Proposal) (*Result, error) {
	if proposal == nil || len(proposal.Ingredients) == 0 {
		return nil, ErrNoProposal
	}
	p, err := o.newProblem(req)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare evaluation: %w", err)
	}

	grams := make(map[string]float64, len(proposal.Ingredients))
	for _, pi := range proposal.Ingredients {
		grams[proposalKey(pi.Name)] = pi.Grams
	}

	final := defaultPortions(req.Recipe)
	matched := 0
	for i := range final.Ingredients {
		ing := &final.Ingredients[i]
		g, ok := grams[proposalKey(ing.Name)]
		if !ok || ing.BaseGrams <= 0 || g < 0 {
			continue
		}
		ing.Scaler = g / ing.BaseGrams
		matched++
	}
	if matched == 0 {
		return nil, fmt.Errorf("%w: no proposed ingredient matches the recipe", ErrNoProposal)
	}
	p.enforceCaps(final.Ingredients, false)

	res := p.format(final)
	if proposal.ReviewNeeded && !res.Results.ReviewNeeded {
		res.Results = Outcome{ReviewNeeded: true, Notes: "proposal flagged for review"}
	}
	if proposal.Explanation != "" {
		res.Explanation = proposal.Explanation + "\n" + res.Explanation
	}
	p.logger.Info("evaluated portion proposal",
		zap.Int("matched", matched),
		zap.Bool("review_needed", res.Results.ReviewNeeded),
	)
	return res, nil
}

// proposalKey matches proposal names to recipe names, ignoring case and any sauce suffix.
func proposalKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.Index(name, " ("); i > 0 && strings.HasSuffix(name, "x sauce)") {
		name = name[:i]
	}
	return name
}

// Baseline formats the recipe at its default portions for orders that skip portioning.
func (o *Optimizer) Baseline(req Request) (*Result, error) {
	p, err := o.newProblem(req)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare baseline: %w", err)
	}
	res := p.format(defaultPortions(req.Recipe))
	res.Results = Outcome{ReviewNeeded: false, Notes: NotesPortioningSkipped}
	return res, nil
}

// ProposalSummary lists proposed grams by ingredient name, sorted, for logging.
func ProposalSummary(p *Proposal) []string {
	out := make([]string, 0, len(p.Ingredients))
	for _, pi := range p.Ingredients {
		out = append(out, fmt.Sprintf("%s=%.1fg", pi.Name, pi.Grams))
	}
	sort.Strings(out)
	return out
}
