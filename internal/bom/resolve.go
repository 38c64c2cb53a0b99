package bom

import (
	"errors"
	"fmt"

	"github.com/cafepos/cafepos/internal/recipes"
)

// Resolve computes the raw material demand of one unit of r at size with the selected add-ons.
//
// Base ingredients contribute when their size gate matches. Add-on flagged ingredients
// contribute quantity plus extra when their add-on is selected. Selected AddOn entries
// contribute their own ingredients under the same size rule. Entries for the same
// material merge additively and materials netting to zero are dropped. Required
// ingredients that reference no raw material are reported by Demand.Unresolved.
func Resolve(r recipes.Recipe, size string, addOns []string) (Demand, error) {
	selected := make(map[string]bool, len(addOns))
	for _, name := range addOns {
		if key := recipes.Fold(name); key != "" {
			selected[key] = true
		}
	}
	var d Demand
	for _, ing := range r.Ingredients {
		if !recipes.SizeMatches(ing.SizeVariant, size) {
			continue
		}
		if !ing.IsAddOn {
			if ing.RawMaterialID <= 0 {
				d.addUnresolved(ing, ing.Quantity)
				continue
			}
			if err := d.addIngredient(ing, ing.Quantity, ""); err != nil {
				return Demand{}, fmt.Errorf("resolve material %d: %w", ing.RawMaterialID, err)
			}
			continue
		}
		if !selected[recipes.Fold(ing.AddOnName)] {
			continue
		}
		if ing.RawMaterialID <= 0 {
			d.addUnresolved(ing, ing.Quantity+ing.AddOnExtraQuantity)
			continue
		}
		if err := d.addIngredient(ing, ing.Quantity+ing.AddOnExtraQuantity, ing.AddOnName); err != nil {
			return Demand{}, fmt.Errorf("resolve material %d: %w", ing.RawMaterialID, err)
		}
	}
	for _, a := range r.AddOns {
		if !selected[recipes.Fold(a.Name)] {
			continue
		}
		for _, ing := range a.Ingredients {
			if !recipes.SizeMatches(ing.SizeVariant, size) {
				continue
			}
			qty := ing.Quantity
			if ing.IsAddOn {
				qty += ing.AddOnExtraQuantity
			}
			if ing.RawMaterialID <= 0 {
				d.addUnresolved(ing, qty)
				continue
			}
			if err := d.addIngredient(ing, qty, a.Name); err != nil {
				return Demand{}, fmt.Errorf("resolve add-on %s material %d: %w", a.Name, ing.RawMaterialID, err)
			}
		}
	}
	d.prune()
	return d, nil
}

// ValidateRecipe checks a recipe for structural problems that resolution would silently hide.
func ValidateRecipe(r recipes.Recipe) error {
	var errs []error
	if r.ProductID <= 0 {
		errs = append(errs, errors.New("product id required"))
	}
	if r.VariantName == "" {
		errs = append(errs, errors.New("variant name required"))
	}
	units := map[int64]string{}
	checkIngredient := func(where string, ing recipes.Ingredient) {
		if ing.RawMaterialID <= 0 {
			errs = append(errs, fmt.Errorf("%s: raw material id required", where))
		}
		if ing.Quantity < 0 || ing.AddOnExtraQuantity < 0 {
			errs = append(errs, fmt.Errorf("%s: quantities must be >= 0", where))
		}
		if ing.IsAddOn && ing.AddOnName == "" {
			errs = append(errs, fmt.Errorf("%s: add-on ingredient needs an add-on name", where))
		}
		if len(r.Sizes) > 0 && !declared(r.Sizes, ing.SizeVariant) {
			errs = append(errs, fmt.Errorf("%s: size %q is not declared", where, ing.SizeVariant))
		}
		if prev, ok := units[ing.RawMaterialID]; ok {
			if !Compatible(prev, ing.Unit) {
				errs = append(errs, fmt.Errorf("%s: unit %q conflicts with %q", where, ing.Unit, prev))
			}
		} else if ing.RawMaterialID > 0 {
			units[ing.RawMaterialID] = ing.Unit
		}
	}
	for i, ing := range r.Ingredients {
		checkIngredient(fmt.Sprintf("ingredient %d", i+1), ing)
	}
	seen := map[string]bool{}
	for _, a := range r.AddOns {
		key := recipes.Fold(a.Name)
		if key == "" {
			errs = append(errs, errors.New("add-on name required"))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("add-on %q declared twice", a.Name))
		}
		seen[key] = true
		for i, ing := range a.Ingredients {
			checkIngredient(fmt.Sprintf("add-on %s ingredient %d", a.Name, i+1), ing)
		}
	}
	if hasBase(r) {
		for _, size := range sizesOf(r) {
			d, err := Resolve(r, size, nil)
			if err != nil {
				errs = append(errs, fmt.Errorf("size %q: %w", size, err))
				continue
			}
			if d.Len() == 0 {
				errs = append(errs, fmt.Errorf("size %q resolves to no ingredients", size))
			}
		}
	}
	return errors.Join(errs...)
}

func hasBase(r recipes.Recipe) bool {
	for _, ing := range r.Ingredients {
		if !ing.IsAddOn {
			return true
		}
	}
	return false
}

func sizesOf(r recipes.Recipe) []string {
	if len(r.Sizes) == 0 {
		return []string{r.DefaultSize()}
	}
	return r.Sizes
}

func declared(sizes []string, gate string) bool {
	for _, s := range sizes {
		if recipes.SizeMatches(gate, s) {
			return true
		}
	}
	return false
}
