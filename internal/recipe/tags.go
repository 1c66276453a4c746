package recipe

import "strings"

var (
	yogurtProteinKeywords = []string{"overnight oats", "yogurt", "yoghurt", "parfait"}
	fruitSnackKeywords    = []string{"seasonal fruit salad"}
)

// TagSpecialCases marks the special-cap overrides on a recipe as it enters the system.
// Protein items named like a yogurt dish get SpecialYogurtProtein; dishes named like a
// fruit salad get CategoryFruitSnack. Existing tags are never cleared.
func TagSpecialCases(r *Recipe) {
	if r == nil {
		return
	}
	if containsAny(r.DishName, fruitSnackKeywords) {
		r.Category = CategoryFruitSnack
	}
	for i := range r.Ingredients {
		ing := &r.Ingredients[i]
		if ing.Component == ComponentProtein && containsAny(ing.Name, yogurtProteinKeywords) {
			ing.Special = SpecialYogurtProtein
		}
	}
}

func containsAny(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
