package portion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portionchef/internal/recipe"
)

func ptr(v float64) *float64 { return &v }

func chicken() recipe.Ingredient {
	return recipe.Ingredient{
		Name: "Chicken Breast", IngredientID: "ing-chicken", Component: recipe.ComponentProtein,
		ProteinType: recipe.ProteinMeat, BaseGrams: 100,
		KcalPerBase: 165, ProteinPerBase: 31, FatPerBase: 3.6, Scaler: 1,
	}
}

func rice() recipe.Ingredient {
	return recipe.Ingredient{
		Name: "Brown Rice", IngredientID: "ing-rice", Component: recipe.ComponentStarch, BaseGrams: 100,
		KcalPerBase: 130, ProteinPerBase: 2.7, FatPerBase: 0.3, FiberPerBase: 0.4, CarbohydratePerBase: 28, Scaler: 1,
	}
}

func broccoli() recipe.Ingredient {
	return recipe.Ingredient{
		Name: "Broccoli", IngredientID: "ing-broccoli", Component: recipe.ComponentVeggies, BaseGrams: 100,
		KcalPerBase: 34, ProteinPerBase: 2.8, FatPerBase: 0.4, FiberPerBase: 2.6, CarbohydratePerBase: 7, Scaler: 1,
	}
}

func teriyaki() recipe.Ingredient {
	return recipe.Ingredient{
		Name: "Teriyaki Sauce", IngredientID: "ing-teriyaki", Component: recipe.ComponentSauce, BaseGrams: 20,
		KcalPerBase: 60, FatPerBase: 6, CarbohydratePerBase: 2, Scaler: 1,
	}
}

func bowl() recipe.Recipe {
	return recipe.Recipe{
		ID:          "dish-1",
		DishName:    "Teriyaki Chicken Bowl",
		Ingredients: []recipe.Ingredient{chicken(), rice(), broccoli(), teriyaki()},
	}
}

func bowlRequirements() map[string]any {
	return map[string]any{
		"goal_calories":   900.0,
		"goal_protein(g)": 60.0,
		"goal_fiber(g)":   6.0,
		"goal_carbs(g)":   400.0,
		"goal_fat(g)":     20.0,
	}
}

func kcalProteinBounds() map[string]recipe.NutrientConstraint {
	return map[string]recipe.NutrientConstraint{
		"Kcal":        {LB: ptr(0.8), UB: ptr(1.2)},
		"Protein (g)": {LB: ptr(0.8), UB: ptr(1.2)},
	}
}

func gramsByName(res *Result) map[string]float64 {
	out := make(map[string]float64, len(res.ModifiedRecipe.Ingredients))
	for _, ing := range res.ModifiedRecipe.Ingredients {
		out[ing.IngredientName] = ing.Grams
	}
	return out
}

func componentTotal(res *Result, c recipe.Component) float64 {
	total := 0.0
	for _, ing := range res.ModifiedRecipe.Ingredients {
		if ing.Component == string(c) {
			total += ing.Grams
		}
	}
	return total
}

// assertResultInvariants checks what every returned result must satisfy.
func assertResultInvariants(t *testing.T, res *Result, veggieCap, proteinCap float64) {
	t.Helper()

	totals := TotalNutrition(res.Recipe.Ingredients)
	assert.InDelta(t, round1(totals[recipe.Kcal]), res.UpdatedNutritionInfo["Calories"], 0.05)
	assert.InDelta(t, round1(totals[recipe.Protein]), res.UpdatedNutritionInfo["Protein"], 0.05)
	assert.InDelta(t, round1(totals[recipe.Carbohydrate]), res.UpdatedNutritionInfo["Carbohydrates"], 0.05)
	assert.InDelta(t, round1(totals[recipe.Fiber]), res.UpdatedNutritionInfo["Fiber"], 0.05)
	assert.InDelta(t, round1(totals[recipe.Fat]), res.UpdatedNutritionInfo["Fat"], 0.05)

	assert.LessOrEqual(t, componentTotal(res, recipe.ComponentVeggies), veggieCap+0.01)
	assert.LessOrEqual(t, componentTotal(res, recipe.ComponentStarch), 280.01)
	assert.LessOrEqual(t, componentTotal(res, recipe.ComponentProtein), proteinCap+0.01)

	if res.Results.ReviewNeeded {
		assert.NotEmpty(t, res.Results.Notes)
		assert.NotEqual(t, notesAllMet, res.Results.Notes)
	} else {
		assert.Equal(t, notesAllMet, res.Results.Notes)
	}
}

func TestOptimizeSingleIngredient(t *testing.T) {
	o := NewOptimizer(nil)
	req := Request{
		Recipe: recipe.Recipe{
			DishName: "Protein Bar",
			Ingredients: []recipe.Ingredient{{
				Name: "Protein Bar", IngredientID: "ing-bar", Component: recipe.ComponentGarnish,
				BaseGrams: 100, KcalPerBase: 110.97, Scaler: 1,
			}},
		},
		Requirements: map[string]any{"goal_calories": 700},
		Profile:      recipe.DefaultConstraintProfile(),
	}
	// A lone fixed item has nothing scalable, so the single-ingredient rule cannot size it.
	res, err := o.Optimize(req)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.ModifiedRecipe.Ingredients[0].Grams)

	req.Recipe.Ingredients[0].Component = recipe.ComponentStarch
	res, err = o.Optimize(req)
	require.NoError(t, err)

	require.Len(t, res.ModifiedRecipe.Ingredients, 1)
	assert.Equal(t, 6.0, res.Recipe.Ingredients[0].Scaler)
	assert.Equal(t, 600.0, res.ModifiedRecipe.Ingredients[0].Grams)
	assert.Equal(t, "ing-bar", res.ModifiedRecipe.Ingredients[0].IngredientID)
	assert.True(t, res.Results.ReviewNeeded, "600g of starch is over the starch cap")
	assert.Contains(t, res.Results.Notes, "starch(g) too high: 600.0 > 280.0")
}

func TestOptimizeTwoComponents(t *testing.T) {
	o := NewOptimizer(nil)
	req := Request{
		Recipe: recipe.Recipe{
			DishName:    "Chicken with Teriyaki",
			Ingredients: []recipe.Ingredient{teriyaki(), chicken()},
		},
		Requirements: map[string]any{"goal_calories": 700, "goal_protein(g)": 50},
		Profile:      recipe.DefaultConstraintProfile(),
	}

	t.Run("sauce stays at one portion and protein is capped", func(t *testing.T) {
		res, err := o.Optimize(req)
		require.NoError(t, err)

		grams := gramsByName(res)
		assert.Equal(t, 20.0, grams["Teriyaki Sauce"])
		// (700 - 60) / 165 = 3.88 portions, clamped to the 200g meat cap.
		assert.Equal(t, 200.0, grams["Chicken Breast"])
		assert.InDelta(t, 2.0, res.Recipe.Ingredients[1].Scaler, 1e-9)
		assertResultInvariants(t, res, 300, 200)
	})

	t.Run("uncapped protein solves the calorie gap", func(t *testing.T) {
		tofu := req
		tofu.Recipe = req.Recipe.Clone()
		tofu.Recipe.Ingredients[1].Name = "Tofu"
		tofu.Recipe.Ingredients[1].ProteinType = recipe.ProteinTofu
		tofu.Requirements = map[string]any{"goal_calories": 390}

		res, err := o.Optimize(tofu)
		require.NoError(t, err)
		// (390 - 60) / 165 = 2 portions, under the 350g tofu cap.
		assert.InDelta(t, 200.0, gramsByName(res)["Tofu"], 0.01)
	})

	t.Run("double sauce", func(t *testing.T) {
		doubled := req
		doubled.Profile.DoubleSauce = true

		res, err := o.Optimize(doubled)
		require.NoError(t, err)

		grams := gramsByName(res)
		assert.Equal(t, 40.0, grams["Teriyaki Sauce (2 x sauce)"])
		assert.Equal(t, 200.0, grams["Chicken Breast"])
	})
}

func TestOptimizeYogurtDirect(t *testing.T) {
	dish := recipe.Recipe{
		DishName: "Greek Yogurt Parfait",
		Ingredients: []recipe.Ingredient{
			{Name: "Greek Yogurt", Component: recipe.ComponentProtein, ProteinType: recipe.ProteinMeat, BaseGrams: 100, KcalPerBase: 97, ProteinPerBase: 9, FatPerBase: 5, CarbohydratePerBase: 4, Scaler: 1},
			{Name: "Berries", Component: recipe.ComponentVeggies, BaseGrams: 50, KcalPerBase: 28, FiberPerBase: 1.2, CarbohydratePerBase: 7, Scaler: 1},
			{Name: "Granola", Component: recipe.ComponentGarnish, BaseGrams: 10, KcalPerBase: 47, Scaler: 1},
		},
	}
	recipe.TagSpecialCases(&dish)

	res, err := NewOptimizer(nil).Optimize(Request{
		Recipe:       dish,
		Requirements: map[string]any{"goal_calories": 700},
		Profile:      recipe.DefaultConstraintProfile(),
	})
	require.NoError(t, err)

	grams := gramsByName(res)
	// (700 - 47) / 125 = 5.22 portions; yogurt capped at 400g instead of the 200g meat cap.
	assert.InDelta(t, 400.0, grams["Greek Yogurt"], 0.01)
	assert.InDelta(t, 20.0, grams["Berries"], 0.01)
	assert.Equal(t, 10.0, grams["Granola"])
	assertResultInvariants(t, res, 20, 400)
}

func TestOptimizeConvergesFeasible(t *testing.T) {
	profile := recipe.DefaultConstraintProfile()
	profile.VeggieGEStarch = false

	req := Request{
		Recipe:       bowl(),
		Requirements: bowlRequirements(),
		Constraints:  kcalProteinBounds(),
		Profile:      profile,
	}
	res, err := NewOptimizer(nil).Optimize(req)
	require.NoError(t, err)

	assert.False(t, res.Results.ReviewNeeded, res.Results.Notes)
	assert.Equal(t, "All constraints met", res.Results.Notes)

	grams := gramsByName(res)
	assert.InDelta(t, 280.0, grams["Brown Rice"], 0.01)
	assert.InDelta(t, 200.0, grams["Broccoli"], 0.01)
	assert.InDelta(t, 147.95, grams["Chicken Breast"], 0.01)
	assert.Equal(t, 20.0, grams["Teriyaki Sauce"])

	assert.InDelta(t, 736.1, res.UpdatedNutritionInfo["Calories"], 0.05)
	assert.InDelta(t, 81.8, res.UpdatedNutritionInfo["Calories %"], 0.05)
	assert.Contains(t, res.Explanation, "\nAchieved / Target Nutrition:\nkcal: 736.1 / 900.0 (81.8% of target)")
	assertResultInvariants(t, res, 300, 200)

	// The caller's recipe is never modified.
	assert.Equal(t, 1.0, req.Recipe.Ingredients[0].Scaler)
}

func TestOptimizeIgnoresIncomingScalers(t *testing.T) {
	profile := recipe.DefaultConstraintProfile()
	profile.VeggieGEStarch = false

	for _, scaler := range []float64{0, 3} {
		dish := bowl()
		for i := range dish.Ingredients {
			dish.Ingredients[i].Scaler = scaler
		}
		res, err := NewOptimizer(nil).Optimize(Request{
			Recipe:       dish,
			Requirements: bowlRequirements(),
			Constraints:  kcalProteinBounds(),
			Profile:      profile,
		})
		require.NoError(t, err)

		grams := gramsByName(res)
		assert.InDelta(t, 280.0, grams["Brown Rice"], 0.01, "scaler %v", scaler)
		assert.InDelta(t, 200.0, grams["Broccoli"], 0.01, "scaler %v", scaler)
		assert.InDelta(t, 147.95, grams["Chicken Breast"], 0.01, "scaler %v", scaler)
		assert.Equal(t, 20.0, grams["Teriyaki Sauce"], "scaler %v", scaler)
		assert.False(t, res.Results.ReviewNeeded, res.Results.Notes)
	}

	t.Run("zero-value ingredients", func(t *testing.T) {
		garnish := recipe.Ingredient{Name: "Parsley", Component: recipe.ComponentGarnish, BaseGrams: 5, KcalPerBase: 2}
		res, err := NewOptimizer(nil).Optimize(Request{
			Recipe:       recipe.Recipe{DishName: "Parsley", Ingredients: []recipe.Ingredient{garnish}},
			Requirements: bowlRequirements(),
		})
		require.NoError(t, err)
		assert.Equal(t, 5.0, gramsByName(res)["Parsley"])
	})
}

func TestOptimizeInfeasibleIsFlagged(t *testing.T) {
	req := Request{
		Recipe:       bowl(),
		Requirements: bowlRequirements(),
		Constraints: map[string]recipe.NutrientConstraint{
			"Kcal":                    {LB: ptr(0.95), UB: ptr(1.05)},
			"Protein (g)":             {LB: ptr(0.95), UB: ptr(1.05)},
			"Carbohydrate, total (g)": {LB: ptr(0.9), UB: ptr(1.1)},
			"Dietary Fiber (g)":       {LB: ptr(0.9), UB: ptr(1.1)},
		},
		Profile: recipe.DefaultConstraintProfile(),
	}

	res, err := NewOptimizer(nil, WithMaxIterations(50)).Optimize(req)
	require.NoError(t, err)

	// 400g of carbohydrate cannot fit under the starch and veggie caps.
	assert.True(t, res.Results.ReviewNeeded)
	assert.Contains(t, res.Results.Notes, "carbohydrate(g) too low")
	assert.True(t, res.Violations.Low(recipe.Carbohydrate))
	assertResultInvariants(t, res, 300, 200)
}

func TestOptimizeFruitSnackVeggieCap(t *testing.T) {
	dish := recipe.Recipe{
		DishName: "Seasonal Fruit Salad",
		Ingredients: []recipe.Ingredient{
			{Name: "Melon", Component: recipe.ComponentVeggies, BaseGrams: 100, KcalPerBase: 34, FiberPerBase: 0.9, CarbohydratePerBase: 8, Scaler: 1},
			{Name: "Mint", Component: recipe.ComponentGarnish, BaseGrams: 2, KcalPerBase: 1, Scaler: 1},
		},
	}
	recipe.TagSpecialCases(&dish)

	res, err := NewOptimizer(nil).Optimize(Request{
		Recipe:       dish,
		Requirements: map[string]any{"Kcal": 300},
		Profile:      recipe.DefaultConstraintProfile(),
	})
	require.NoError(t, err)

	assert.InDelta(t, 220.0, gramsByName(res)["Melon"], 0.01)
	assertResultInvariants(t, res, 220, 500)
}

func TestOptimizeErrors(t *testing.T) {
	o := NewOptimizer(nil)

	_, err := o.Optimize(Request{Recipe: recipe.Recipe{DishName: "Empty"}})
	assert.True(t, errors.Is(err, ErrEmptyRecipe))

	_, err = o.Optimize(Request{Recipe: bowl(), Requirements: map[string]any{"goal_calories": -5}})
	assert.True(t, errors.Is(err, ErrNegativeRequirement))

	_, err = NewOptimizer(nil, WithMaxIterations(0)).Optimize(Request{Recipe: bowl()})
	assert.Error(t, err)
}

func TestOptimizeSkipsMalformedIngredients(t *testing.T) {
	profile := recipe.DefaultConstraintProfile()
	profile.VeggieGEStarch = false

	dish := bowl()
	broken := broccoli()
	broken.Name = "Mystery Greens"
	broken.Component = "leafy"
	dish.Ingredients = append(dish.Ingredients, broken)

	res, err := NewOptimizer(nil).Optimize(Request{
		Recipe:       dish,
		Requirements: bowlRequirements(),
		Constraints:  kcalProteinBounds(),
		Profile:      profile,
	})
	require.NoError(t, err)

	require.Len(t, res.ModifiedRecipe.Ingredients, 5)
	assert.Equal(t, 100.0, gramsByName(res)["Mystery Greens"])
	assert.False(t, res.Results.ReviewNeeded, res.Results.Notes)
}
