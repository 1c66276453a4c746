package portion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portionchef/internal/recipe"
)

func TestNormalizeRequirements(t *testing.T) {
	got := NormalizeRequirements(map[string]any{
		"goal_calories":   700,
		"Protein (g)":     "45.5",
		"dietaryFiber(g)": json.Number("30"),
		"goal_fat(g)":     nil,
		"goal_carbs(g)":   "lots",
		"sodium":          3,
	})

	assert.Equal(t, Requirements{
		recipe.Kcal:    700,
		recipe.Protein: 45.5,
		recipe.Fiber:   30,
	}, got)
}

func TestRequirementsTarget(t *testing.T) {
	r := Requirements{recipe.Kcal: 700, recipe.Fat: 0}

	v, ok := r.Target(recipe.Kcal)
	assert.True(t, ok)
	assert.Equal(t, 700.0, v)

	_, ok = r.Target(recipe.Fat)
	assert.False(t, ok, "a zero target is not a target")

	_, ok = r.Target(recipe.Protein)
	assert.False(t, ok)

	assert.Equal(t, 4, r.ZeroTargets())
}

func TestRequirementsValidate(t *testing.T) {
	require.NoError(t, Requirements{recipe.Kcal: 700, recipe.Fat: 0}.Validate())

	err := Requirements{recipe.Protein: -1}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNegativeRequirement)
	assert.Contains(t, err.Error(), "protein(g)")
}

func TestTotalNutrition(t *testing.T) {
	ings := []recipe.Ingredient{chicken(), rice(), teriyaki()}
	ings[0].Scaler = 1.5
	ings[0].Micronutrients = map[string]float64{"Sodium (mg)": 74}
	ings[1].Micronutrients = map[string]float64{"Sodium (mg)": 1}

	totals := TotalNutrition(ings)
	assert.InDelta(t, 165*1.5+130+60, totals[recipe.Kcal], 1e-9)
	assert.InDelta(t, 31*1.5+2.7, totals[recipe.Protein], 1e-9)
	assert.InDelta(t, 28+2, totals[recipe.Carbohydrate], 1e-9)
	assert.InDelta(t, 74*1.5+1, micronutrientTotals(ings)["Sodium (mg)"], 1e-9)

	t.Run("zero grams and malformed items contribute nothing", func(t *testing.T) {
		empty := rice()
		empty.Scaler = 0
		broken := chicken()
		broken.Component = "meat pie"

		totals := TotalNutrition([]recipe.Ingredient{empty, broken})
		for _, n := range recipe.Nutrients {
			assert.Zero(t, totals[n], n)
		}
	})
}
