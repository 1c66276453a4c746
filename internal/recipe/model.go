package recipe

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Component is the structural category of an ingredient within a dish.
type Component string

const (
	ComponentProtein Component = "protein"
	ComponentStarch  Component = "starch"
	ComponentVeggies Component = "veggies"
	ComponentSauce   Component = "sauce"
	ComponentGarnish Component = "garnish"
)

// Valid reports whether c is one of the known components.
func (c Component) Valid() bool {
	switch c {
	case ComponentProtein, ComponentStarch, ComponentVeggies, ComponentSauce, ComponentGarnish:
		return true
	}
	return false
}

// Fixed reports whether the component is never scaled by the optimizer.
func (c Component) Fixed() bool {
	return c == ComponentSauce || c == ComponentGarnish
}

// normalizeComponent lower-cases the tag and folds the legacy "meat" label into protein.
func normalizeComponent(s string) Component {
	c := Component(strings.ToLower(strings.TrimSpace(s)))
	if c == "meat" {
		return ComponentProtein
	}
	return c
}

// ProteinType classifies protein items for the per-type gram caps.
type ProteinType string

const (
	ProteinMeat   ProteinType = "meat"
	ProteinFish   ProteinType = "fish"
	ProteinTofu   ProteinType = "tofu"
	ProteinVegan  ProteinType = "vegan"
	ProteinIgnore ProteinType = "ignore"
)

// Special marks an ingredient that carries overridden gram caps.
type Special string

const SpecialYogurtProtein Special = "yogurt_protein"

// Category marks a dish that carries overridden gram caps.
type Category string

const CategoryFruitSnack Category = "fruit_snack"

// Nutrient is one of the five optimized nutrients, named the way result notes print them.
type Nutrient string

const (
	Kcal         Nutrient = "kcal"
	Protein      Nutrient = "protein(g)"
	Fat          Nutrient = "fat(g)"
	Fiber        Nutrient = "dietaryFiber(g)"
	Carbohydrate Nutrient = "carbohydrate(g)"
)

// Nutrients lists the optimized nutrients in reporting order.
var Nutrients = []Nutrient{Kcal, Protein, Fat, Fiber, Carbohydrate}

// Ingredient is one line of a dish. Rates are per the ingredient's own base portion,
// so scaling nutrition is by Scaler alone.
type Ingredient struct {
	ID                  string             `json:"id,omitempty"`
	Name                string             `json:"ingredientName"`
	IngredientID        string             `json:"ingredientId"`
	Component           Component          `json:"component"`
	ProteinType         ProteinType        `json:"protein_type,omitempty"`
	Special             Special            `json:"special,omitempty"`
	BaseGrams           float64            `json:"baseGrams"`
	KcalPerBase         float64            `json:"kcalPerBaseGrams"`
	ProteinPerBase      float64            `json:"protein(g)PerBaseGrams"`
	FatPerBase          float64            `json:"fat(g)PerBaseGrams"`
	FiberPerBase        float64            `json:"dietaryFiber(g)PerBaseGrams"`
	CarbohydratePerBase float64            `json:"carbohydrate(g)PerBaseGrams"`
	Micronutrients      map[string]float64 `json:"micronutrients,omitempty"`
	Scaler              float64            `json:"scaler"`
}

// Rate returns the per-base-portion amount of n.
func (i Ingredient) Rate(n Nutrient) float64 {
	switch n {
	case Kcal:
		return i.KcalPerBase
	case Protein:
		return i.ProteinPerBase
	case Fat:
		return i.FatPerBase
	case Fiber:
		return i.FiberPerBase
	case Carbohydrate:
		return i.CarbohydratePerBase
	}
	return 0
}

// PerGram returns the amount of n contributed by one gram of the ingredient.
func (i Ingredient) PerGram(n Nutrient) float64 {
	if i.BaseGrams <= 0 {
		return 0
	}
	return i.Rate(n) / i.BaseGrams
}

// Grams returns the effective grams at the current scaler.
func (i Ingredient) Grams() float64 {
	return i.BaseGrams * i.Scaler
}

// Malformed reports why the ingredient cannot contribute to nutrition totals, or "" if it can.
func (i Ingredient) Malformed() string {
	if !i.Component.Valid() {
		return fmt.Sprintf("unknown component %q", i.Component)
	}
	if bad(i.BaseGrams) {
		return "non-numeric baseGrams"
	}
	for _, n := range Nutrients {
		if bad(i.Rate(n)) {
			return fmt.Sprintf("non-numeric %sPerBaseGrams", n)
		}
	}
	return ""
}

func bad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// UnmarshalJSON implements the json.Unmarshaler interface for Ingredient.
// Rates may arrive as numbers or numeric strings; anything else decodes to NaN
// so the calculator can skip the ingredient instead of failing the whole dish.
func (i *Ingredient) UnmarshalJSON(data []byte) error {
	type Alias Ingredient // Create an alias to avoid infinite recursion
	aux := &struct {
		Component    string          `json:"component"`
		BaseGrams    json.RawMessage `json:"baseGrams"`
		Kcal         json.RawMessage `json:"kcalPerBaseGrams"`
		Protein      json.RawMessage `json:"protein(g)PerBaseGrams"`
		Fat          json.RawMessage `json:"fat(g)PerBaseGrams"`
		Fiber        json.RawMessage `json:"dietaryFiber(g)PerBaseGrams"`
		Carbohydrate json.RawMessage `json:"carbohydrate(g)PerBaseGrams"`
		ProteinType  string          `json:"protein_type"`
		Scaler       *float64        `json:"scaler"`
		*Alias
	}{
		Alias: (*Alias)(i),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	i.Component = normalizeComponent(aux.Component)
	i.ProteinType = ProteinType(strings.ToLower(strings.TrimSpace(aux.ProteinType)))
	i.Name = strings.TrimSpace(i.Name)
	i.IngredientID = strings.TrimSpace(i.IngredientID)
	i.BaseGrams = parseRate(aux.BaseGrams)
	i.KcalPerBase = parseRate(aux.Kcal)
	i.ProteinPerBase = parseRate(aux.Protein)
	i.FatPerBase = parseRate(aux.Fat)
	i.FiberPerBase = parseRate(aux.Fiber)
	i.CarbohydratePerBase = parseRate(aux.Carbohydrate)
	i.Scaler = 1.0
	if aux.Scaler != nil {
		i.Scaler = *aux.Scaler
	}

	return nil
}

// parseRate treats a missing or null rate as zero and an unparseable one as NaN.
func parseRate(raw json.RawMessage) float64 {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

// Recipe is a named, ordered collection of ingredients. The optimizer only ever
// changes scalers; it never adds or removes ingredients.
type Recipe struct {
	ID          string       `json:"dishId,omitempty" db:"dish_id"`
	DishName    string       `json:"dishName" db:"dish_name"`
	Category    Category     `json:"category,omitempty" db:"category"`
	Ingredients []Ingredient `json:"ingredients"`
	ImagePath   string       `json:"image_path,omitempty" db:"image_path"`
}

// Clone returns a deep copy so callers never alias ingredients across recipes.
func (r Recipe) Clone() Recipe {
	out := r
	out.Ingredients = make([]Ingredient, len(r.Ingredients))
	for idx, ing := range r.Ingredients {
		if ing.Micronutrients != nil {
			micros := make(map[string]float64, len(ing.Micronutrients))
			for k, v := range ing.Micronutrients {
				micros[k] = v
			}
			ing.Micronutrients = micros
		}
		out.Ingredients[idx] = ing
	}
	return out
}

// HasYogurtProtein reports whether any protein item carries the yogurt override.
func (r Recipe) HasYogurtProtein() bool {
	for _, ing := range r.Ingredients {
		if ing.Component == ComponentProtein && ing.Special == SpecialYogurtProtein {
			return true
		}
	}
	return false
}

// IsFruitSnack reports whether the dish carries the fruit snack override.
func (r Recipe) IsFruitSnack() bool {
	return r.Category == CategoryFruitSnack
}

// NutrientConstraint bounds a nutrient as multipliers of its target.
// A nil LB is an effectively-zero floor; a nil UB is unbounded.
type NutrientConstraint struct {
	LB *float64 `json:"lb"`
	UB *float64 `json:"ub"`
}

// Bounds returns the absolute lower and upper bounds for target.
func (c NutrientConstraint) Bounds(target float64) (lower, upper float64) {
	lower = 1e-14
	if c.LB != nil {
		lower = *c.LB * target
	}
	upper = math.Inf(1)
	if c.UB != nil {
		upper = *c.UB * target
	}
	return lower, upper
}

// ConstraintProfile holds the hard, non-nutrient limits for one customer/dish pairing.
// Zero-valued thresholds are unset.
type ConstraintProfile struct {
	VeggieMax             float64                 `json:"veggie_max"`
	StarchMax             float64                 `json:"starch_max"`
	StarchMin             float64                 `json:"starch_min"`
	StarchAdmissionFloor  float64                 `json:"starch_admission_floor"`
	VeggieGEStarch        bool                    `json:"veggie_ge_starch"`
	MinMeatPer100Cal      float64                 `json:"min_meat_per_100_cal"`
	MaxMealGramsPer100Cal float64                 `json:"max_meal_grams_per_100_cal"`
	DoubleSauce           bool                    `json:"double_sauce"`
	ProteinMax            map[ProteinType]float64 `json:"protein_max"`
	DefaultProteinMax     float64                 `json:"default_protein_max"`

	YogurtProteinMax    float64 `json:"yogurt_protein_max"`
	YogurtVeggieMax     float64 `json:"yogurt_veggie_max"`
	YogurtMealMax       float64 `json:"yogurt_meal_max"`
	FruitSnackVeggieMax float64 `json:"fruit_snack_veggie_max"`
}

// DefaultConstraintProfile returns the house limits.
func DefaultConstraintProfile() ConstraintProfile {
	return ConstraintProfile{
		VeggieMax:            300,
		StarchMax:            280,
		StarchMin:            50,
		StarchAdmissionFloor: 280,
		VeggieGEStarch:       true,
		ProteinMax: map[ProteinType]float64{
			ProteinMeat:  200,
			ProteinFish:  220,
			ProteinTofu:  350,
			ProteinVegan: 200,
		},
		DefaultProteinMax:   500,
		YogurtProteinMax:    400,
		YogurtVeggieMax:     20,
		YogurtMealMax:       500,
		FruitSnackVeggieMax: 220,
	}
}

// WithDefaults fills unset caps from DefaultConstraintProfile, leaving flags and
// per-customer thresholds as given.
func (p ConstraintProfile) WithDefaults() ConstraintProfile {
	d := DefaultConstraintProfile()
	if p.VeggieMax <= 0 {
		p.VeggieMax = d.VeggieMax
	}
	if p.StarchMax <= 0 {
		p.StarchMax = d.StarchMax
	}
	if p.StarchMin <= 0 {
		p.StarchMin = d.StarchMin
	}
	if p.StarchAdmissionFloor <= 0 {
		p.StarchAdmissionFloor = p.StarchMax
	}
	if len(p.ProteinMax) == 0 {
		p.ProteinMax = d.ProteinMax
	}
	if p.DefaultProteinMax <= 0 {
		p.DefaultProteinMax = d.DefaultProteinMax
	}
	if p.YogurtProteinMax <= 0 {
		p.YogurtProteinMax = d.YogurtProteinMax
	}
	if p.YogurtVeggieMax <= 0 {
		p.YogurtVeggieMax = d.YogurtVeggieMax
	}
	if p.YogurtMealMax <= 0 {
		p.YogurtMealMax = d.YogurtMealMax
	}
	if p.FruitSnackVeggieMax <= 0 {
		p.FruitSnackVeggieMax = d.FruitSnackVeggieMax
	}
	return p
}

// ProteinCap returns the gram cap for the given protein type.
func (p ConstraintProfile) ProteinCap(t ProteinType) float64 {
	if limit, ok := p.ProteinMax[t]; ok {
		return limit
	}
	return p.DefaultProteinMax
}

// Customer carries nutrition goals under whatever key spellings the source used.
type Customer struct {
	ID                  string         `json:"id" db:"customer_id"`
	Identifier          string         `json:"identifier" db:"identifier"`
	Requirements        map[string]any `json:"requirements"`
	ConstraintProfileID string         `json:"constraint_profile_id" db:"constraint_profile_id"`
	CustomizationTags   []string       `json:"customization_tags"`
}

// TagDoubleSauce is the customization tag that doubles sauce portions.
const TagDoubleSauce = "Double Sauce"

// HasTag reports whether the customer carries the customization tag.
func (c Customer) HasTag(tag string) bool {
	for _, t := range c.CustomizationTags {
		if t == tag {
			return true
		}
	}
	return false
}

// ConstraintRecord is a stored constraint set: nutrient bounds keyed by their
// historical names plus the non-nutrient profile.
type ConstraintRecord struct {
	ID                  string                        `json:"id" db:"profile_id"`
	NutrientConstraints map[string]NutrientConstraint `json:"nutrient_constraints"`
	Profile             ConstraintProfile             `json:"profile"`
}

// Order links a customer to a dish awaiting portioning.
type Order struct {
	ID             string `json:"id" db:"order_id"`
	CustomerID     string `json:"customer_id" db:"customer_id"`
	DishID         string `json:"dish_id" db:"dish_id"`
	SkipPortioning bool   `json:"skip_portioning" db:"skip_portioning"`
}

// Serving is a persisted optimization result for one order.
type Serving struct {
	OrderID      string          `json:"order_id" db:"order_id"`
	DishName     string          `json:"dish_name" db:"dish_name"`
	ReviewNeeded bool            `json:"review_needed" db:"review_needed"`
	Result       json.RawMessage `json:"result" db:"result"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
