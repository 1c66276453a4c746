package portion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portionchef/internal/recipe"
)

func TestAdjustmentTable(t *testing.T) {
	p := &problem{tuning: DefaultTuning()}

	lowCarbContrib := map[recipe.Nutrient]float64{recipe.Protein: 0.01, recipe.Carbohydrate: 0.2}
	proteinHeavyContrib := map[recipe.Nutrient]float64{recipe.Protein: 0.2, recipe.Carbohydrate: 0.1}

	tests := []struct {
		name      string
		component recipe.Component
		ratios    map[recipe.Nutrient]float64
		contrib   map[recipe.Nutrient]float64
		want      float64
	}{
		{
			name:      "protein high default",
			component: recipe.ComponentProtein,
			ratios:    map[recipe.Nutrient]float64{recipe.Protein: 2, recipe.Kcal: 1.5, recipe.Carbohydrate: 0.5},
			want:      -0.6,
		},
		{
			name:      "protein high kcal low takes the smaller move",
			component: recipe.ComponentProtein,
			ratios:    map[recipe.Nutrient]float64{recipe.Protein: 2, recipe.Kcal: 0.5},
			want:      -0.5,
		},
		{
			name:      "protein high carbs high from a carb-heavy item",
			component: recipe.ComponentProtein,
			ratios:    map[recipe.Nutrient]float64{recipe.Protein: 2, recipe.Kcal: 1.2, recipe.Carbohydrate: 1.5},
			contrib:   map[recipe.Nutrient]float64{recipe.Protein: 0.1, recipe.Carbohydrate: 0.3},
			want:      -0.55,
		},
		{
			name:      "protein just over target while kcal is short still shrinks",
			component: recipe.ComponentProtein,
			ratios:    map[recipe.Nutrient]float64{recipe.Protein: 1.02, recipe.Kcal: 0.8},
			want:      1/1.02 - 1,
		},
		{
			name:      "protein low kcal low",
			component: recipe.ComponentProtein,
			ratios:    map[recipe.Nutrient]float64{recipe.Protein: 0.5, recipe.Kcal: 0.5},
			want:      0.7,
		},
		{
			name:      "protein low carbs high",
			component: recipe.ComponentProtein,
			ratios:    map[recipe.Nutrient]float64{recipe.Protein: 0.5, recipe.Kcal: 1.2, recipe.Carbohydrate: 1.1},
			want:      0.6,
		},
		{
			name:      "protein on target",
			component: recipe.ComponentProtein,
			ratios:    map[recipe.Nutrient]float64{recipe.Protein: 1, recipe.Kcal: 0.5},
			want:      0,
		},
		{
			name:      "veggies fiber low carbs high",
			component: recipe.ComponentVeggies,
			ratios:    map[recipe.Nutrient]float64{recipe.Fiber: 0.5, recipe.Carbohydrate: 1.3},
			want:      0.7,
		},
		{
			name:      "veggies fiber low",
			component: recipe.ComponentVeggies,
			ratios:    map[recipe.Nutrient]float64{recipe.Fiber: 0.5, recipe.Carbohydrate: 1},
			want:      1.0,
		},
		{
			name:      "veggies fiber and kcal high with carbs high",
			component: recipe.ComponentVeggies,
			ratios:    map[recipe.Nutrient]float64{recipe.Fiber: 1.25, recipe.Kcal: 1.25, recipe.Carbohydrate: 1.1},
			want:      -0.06,
		},
		{
			name:      "veggies carbs low",
			component: recipe.ComponentVeggies,
			ratios:    map[recipe.Nutrient]float64{recipe.Fiber: 1, recipe.Carbohydrate: 0.8},
			want:      0.0625,
		},
		{
			name:      "veggies with no fiber at all",
			component: recipe.ComponentVeggies,
			ratios:    map[recipe.Nutrient]float64{recipe.Fiber: 0, recipe.Carbohydrate: 1},
			want:      1.0,
		},
		{
			name:      "starch carbs high kcal low",
			component: recipe.ComponentStarch,
			ratios:    map[recipe.Nutrient]float64{recipe.Carbohydrate: 1.25, recipe.Kcal: 0.8},
			contrib:   lowCarbContrib,
			want:      -0.12,
		},
		{
			name:      "starch carbs high from a protein-heavy item",
			component: recipe.ComponentStarch,
			ratios:    map[recipe.Nutrient]float64{recipe.Carbohydrate: 1.25, recipe.Kcal: 1.2},
			contrib:   proteinHeavyContrib,
			want:      -0.44,
		},
		{
			name:      "starch carbs low kcal high",
			component: recipe.ComponentStarch,
			ratios:    map[recipe.Nutrient]float64{recipe.Carbohydrate: 0.5, recipe.Kcal: 1.2},
			contrib:   lowCarbContrib,
			want:      0.3,
		},
		{
			name:      "starch carbs low kcal high from a protein-heavy item",
			component: recipe.ComponentStarch,
			ratios:    map[recipe.Nutrient]float64{recipe.Carbohydrate: 0.5, recipe.Kcal: 1.2},
			contrib:   proteinHeavyContrib,
			want:      0.09,
		},
		{
			name:      "starch carbs low protein low",
			component: recipe.ComponentStarch,
			ratios:    map[recipe.Nutrient]float64{recipe.Carbohydrate: 0.5, recipe.Protein: 0.5},
			contrib:   lowCarbContrib,
			want:      0.2,
		},
		{
			name:      "starch carbs on target kcal high",
			component: recipe.ComponentStarch,
			ratios:    map[recipe.Nutrient]float64{recipe.Carbohydrate: 1, recipe.Kcal: 1.25},
			contrib:   lowCarbContrib,
			want:      -0.05,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.adjustment(tt.component, tt.ratios, tt.contrib), 1e-9)
		})
	}
}

func TestProteinHeavy(t *testing.T) {
	assert.True(t, proteinHeavy(0.2, 0, 0.5), "protein with no carbs at all")
	assert.False(t, proteinHeavy(0, 0, 0.5))
	assert.True(t, proteinHeavy(0.1, 0.1, 0.5))
	assert.False(t, proteinHeavy(0.01, 0.2, 0.5))
}

func TestAdjustPass(t *testing.T) {
	starch := recipe.Ingredient{
		Name: "Potato", Component: recipe.ComponentStarch, BaseGrams: 100, CarbohydratePerBase: 50, Scaler: 1,
	}
	sauce := teriyaki()
	sauce.CarbohydratePerBase = 0

	t.Run("accepted move is rounded up to two decimals", func(t *testing.T) {
		ings := []recipe.Ingredient{starch, sauce}
		p := newTestProblem(t, Request{
			Recipe:       recipe.Recipe{Ingredients: ings},
			Requirements: map[string]any{"goal_carbs(g)": 100},
			Profile:      recipe.DefaultConstraintProfile(),
		})

		// Carbs at half of target: +100% scaled by 0.6.
		adjusted := p.adjustPass(ings)
		require.Len(t, adjusted, 2)
		assert.InDelta(t, 1.6, adjusted[0].Scaler, 1e-9)
		assert.Equal(t, 1.0, adjusted[1].Scaler, "sauce never moves")
		assert.Equal(t, 1.0, ings[0].Scaler, "the input is not modified")
	})

	t.Run("move past the cap is dropped", func(t *testing.T) {
		big := starch
		big.Scaler = 2.5
		ings := []recipe.Ingredient{big}
		p := newTestProblem(t, Request{
			Recipe:       recipe.Recipe{Ingredients: ings},
			Requirements: map[string]any{"goal_carbs(g)": 200},
			Profile:      recipe.DefaultConstraintProfile(),
		})

		// 2.5 * 1.36 = 3.4, i.e. 340g of starch.
		adjusted := p.adjustPass(ings)
		assert.Equal(t, 2.5, adjusted[0].Scaler)
	})
}

func TestCeil2(t *testing.T) {
	assert.Equal(t, 1.1, ceil2(1.1))
	assert.Equal(t, 1.11, ceil2(1.101))
	assert.Equal(t, 0.1, ceil2(0.1))
	assert.Equal(t, 3.4, ceil2(2.5*1.36))
}

func TestSimilar(t *testing.T) {
	a := []recipe.Ingredient{{Scaler: 1}, {Scaler: 2}}
	b := []recipe.Ingredient{{Scaler: 1.005}, {Scaler: 2}}
	assert.True(t, similar(a, b, 0.01))

	b[1].Scaler = 2.02
	assert.False(t, similar(a, b, 0.01))
}
