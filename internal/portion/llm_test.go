package portion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portionchef/internal/recipe"
)

func feasibleBowlRequest() Request {
	profile := recipe.DefaultConstraintProfile()
	profile.VeggieGEStarch = false
	return Request{
		Recipe:       bowl(),
		Requirements: bowlRequirements(),
		Constraints:  kcalProteinBounds(),
		Profile:      profile,
	}
}

func TestBuildPrompt(t *testing.T) {
	req := feasibleBowlRequest()
	req.Profile.VeggieGEStarch = true

	prompt := BuildPrompt(req)

	assert.Contains(t, prompt, "Dish: Teriyaki Chicken Bowl")
	assert.Contains(t, prompt, "- Chicken Breast | component: protein | base grams: 100.0 | kcal: 165.00")
	assert.Contains(t, prompt, "- kcal: 900.0")
	assert.Contains(t, prompt, "- protein(g): lb 0.80, ub 1.20")
	assert.Contains(t, prompt, "- Total veggies grams at most 300")
	assert.Contains(t, prompt, "- Total starch grams between 50 and 280")
	assert.Contains(t, prompt, "- Total protein grams at most 200")
	assert.Contains(t, prompt, "- Veggie grams must be greater than or equal to starch grams")
	assert.Contains(t, prompt, "- Keep sauce and garnish at their base grams")
	assert.Contains(t, prompt, `"Ingredient Name"`)
	assert.NotContains(t, prompt, "fat(g): lb")
}

func TestParseProposal(t *testing.T) {
	t.Run("wrapped in prose and fences", func(t *testing.T) {
		text := "Here is the plan:\n```json\n" +
			`{"modified_recipe": {"ingredients": [{"Ingredient Name": "Chicken Breast", "Component": "meat", "Grams": 150}]}, ` +
			`"explanation": "More chicken.", "review_needed": "True"}` +
			"\n```"

		p, err := ParseProposal(text)
		require.NoError(t, err)
		require.Len(t, p.Ingredients, 1)
		assert.Equal(t, "Chicken Breast", p.Ingredients[0].Name)
		assert.Equal(t, 150.0, p.Ingredients[0].Grams)
		assert.Equal(t, "More chicken.", p.Explanation)
		assert.True(t, p.ReviewNeeded)
	})

	t.Run("review flag forms", func(t *testing.T) {
		for text, want := range map[string]bool{
			`{"modified_recipe": {"ingredients": [{"Ingredient Name": "Rice", "Grams": 1}]}, "review_needed": ""}`:    false,
			`{"modified_recipe": {"ingredients": [{"Ingredient Name": "Rice", "Grams": 1}]}, "review_needed": false}`: false,
			`{"modified_recipe": {"ingredients": [{"Ingredient Name": "Rice", "Grams": 1}]}, "review_needed": true}`:  true,
			`{"modified_recipe": {"ingredients": [{"Ingredient Name": "Rice", "Grams": 1}]}}`:                         false,
		} {
			p, err := ParseProposal(text)
			require.NoError(t, err)
			assert.Equal(t, want, p.ReviewNeeded, text)
		}
	})

	t.Run("no proposal", func(t *testing.T) {
		_, err := ParseProposal("I cannot help with that.")
		assert.True(t, errors.Is(err, ErrNoProposal))

		_, err = ParseProposal(`{"modified_recipe": {"ingredients": []}}`)
		assert.True(t, errors.Is(err, ErrNoProposal))

		_, err = ParseProposal("{not json}")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNoProposal))
	})
}

func TestEvaluate(t *testing.T) {
	o := NewOptimizer(nil)
	req := feasibleBowlRequest()

	proposal := &Proposal{
		Ingredients: []ProposedIngredient{
			{Name: "chicken breast", Grams: 150},
			{Name: "Brown Rice", Grams: 300},
			{Name: "Broccoli", Grams: 200},
			{Name: "Teriyaki Sauce (2 x sauce)", Grams: 40},
		},
		Explanation: "Balanced the bowl.",
	}

	res, err := o.Evaluate(req, proposal)
	require.NoError(t, err)

	grams := gramsByName(res)
	assert.InDelta(t, 150.0, grams["Chicken Breast"], 0.01)
	assert.InDelta(t, 280.0, grams["Brown Rice"], 0.01, "starch is held to its cap")
	assert.InDelta(t, 200.0, grams["Broccoli"], 0.01)
	assert.Equal(t, 40.0, grams["Teriyaki Sauce (2 x sauce)"])

	assert.False(t, res.Results.ReviewNeeded, res.Results.Notes)
	assert.Contains(t, res.Explanation, "Balanced the bowl.\n\nAchieved / Target Nutrition:")
	assertResultInvariants(t, res, 300, 200)

	t.Run("flag from the proposal is kept", func(t *testing.T) {
		flagged := *proposal
		flagged.ReviewNeeded = true

		res, err := o.Evaluate(req, &flagged)
		require.NoError(t, err)
		assert.True(t, res.Results.ReviewNeeded)
		assert.Equal(t, "proposal flagged for review", res.Results.Notes)
	})

	t.Run("unproposed ingredients start from their base portion", func(t *testing.T) {
		unset := feasibleBowlRequest()
		for i := range unset.Recipe.Ingredients {
			unset.Recipe.Ingredients[i].Scaler = 0
		}
		res, err := o.Evaluate(unset, &Proposal{Ingredients: []ProposedIngredient{{Name: "Chicken Breast", Grams: 150}}})
		require.NoError(t, err)

		grams := gramsByName(res)
		assert.InDelta(t, 150.0, grams["Chicken Breast"], 0.01)
		assert.Equal(t, 100.0, grams["Brown Rice"])
		assert.Equal(t, 20.0, grams["Teriyaki Sauce"])
	})

	t.Run("nothing matches", func(t *testing.T) {
		_, err := o.Evaluate(req, &Proposal{Ingredients: []ProposedIngredient{{Name: "Tofu", Grams: 100}}})
		assert.True(t, errors.Is(err, ErrNoProposal))

		_, err = o.Evaluate(req, nil)
		assert.True(t, errors.Is(err, ErrNoProposal))
	})
}

func TestBaseline(t *testing.T) {
	req := feasibleBowlRequest()
	req.Recipe.Ingredients[0].Scaler = 3

	res, err := NewOptimizer(nil).Baseline(req)
	require.NoError(t, err)

	grams := gramsByName(res)
	assert.Equal(t, 100.0, grams["Chicken Breast"])
	assert.Equal(t, 100.0, grams["Brown Rice"])
	assert.Equal(t, 20.0, grams["Teriyaki Sauce"])
	assert.False(t, res.Results.ReviewNeeded)
	assert.Equal(t, "Portioning skipped", res.Results.Notes)
	assert.InDelta(t, 389.0, res.UpdatedNutritionInfo["Calories"], 0.05)
}

func TestDisplayName(t *testing.T) {
	pesto := recipe.Ingredient{Name: "Pesto", Component: recipe.ComponentSauce, BaseGrams: 15, Scaler: 1}
	assert.Equal(t, "Pesto", displayName(pesto))

	pesto.Scaler = 2
	assert.Equal(t, "Pesto (2 x sauce)", displayName(pesto))

	pesto.Scaler = 1.5
	assert.Equal(t, "Pesto (1.5 x sauce)", displayName(pesto))

	assert.Equal(t, "Chicken Breast", displayName(withGrams(chicken(), 200)))
}

func TestFormatMicronutrients(t *testing.T) {
	req := feasibleBowlRequest()
	req.Recipe.Ingredients[0].Micronutrients = map[string]float64{"Sodium (mg)": 74.04}
	req.Requirements = map[string]any{"goal_calories": 900}

	res, err := NewOptimizer(nil).Baseline(req)
	require.NoError(t, err)
	assert.Equal(t, 74.0, res.UpdatedNutritionInfo["Sodium (mg)"])
	assert.Zero(t, res.UpdatedNutritionInfo["Protein %"], "no target, no percentage")
	assert.InDelta(t, 43.2, res.UpdatedNutritionInfo["Calories %"], 0.05)
}

func TestProposalSummary(t *testing.T) {
	got := ProposalSummary(&Proposal{Ingredients: []ProposedIngredient{
		{Name: "Rice", Grams: 280},
		{Name: "Chicken", Grams: 150.25},
	}})
	assert.Equal(t, []string{"Chicken=150.2g", "Rice=280.0g"}, got)
}
