// Package recipes holds the per product bill of materials definitions.
package recipes

import (
	"encoding/json"
	"errors"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultVariant is the variant used when a caller does not name one.
const DefaultVariant = "Default"

// Recipe is one named BOM definition for a menu item.
type Recipe struct {
	ID          int64        `json:"id" yaml:"-"`
	ProductID   int64        `json:"product_id" yaml:"product_id" validate:"gt=0"`
	VariantName string       `json:"variant_name" yaml:"variant" validate:"required,max=60"`
	Sizes       []string     `json:"sizes,omitempty" yaml:"sizes" validate:"dive,required,max=30"`
	Ingredients []Ingredient `json:"ingredients" yaml:"ingredients" validate:"dive"`
	AddOns      []AddOn      `json:"add_ons,omitempty" yaml:"add_ons" validate:"dive"`
	UpdatedAt   time.Time    `json:"updated_at" yaml:"-"`
}

// Ingredient references a raw material by id. RawMaterialName is a display cache only.
type Ingredient struct {
	RawMaterialID      int64   `json:"raw_material_id" yaml:"raw_material_id"`
	RawMaterialName    string  `json:"raw_material_name,omitempty" yaml:"raw_material_name"`
	Quantity           float64 `json:"quantity" yaml:"quantity" validate:"gte=0"`
	Unit               string  `json:"unit" yaml:"unit" validate:"max=16"`
	Required           bool    `json:"required" yaml:"required"`
	SizeVariant        string  `json:"size_variant,omitempty" yaml:"size_variant"`
	IsAddOn            bool    `json:"is_add_on,omitempty" yaml:"is_add_on"`
	AddOnName          string  `json:"add_on_name,omitempty" yaml:"add_on_name"`
	AddOnExtraQuantity float64 `json:"add_on_extra_quantity,omitempty" yaml:"add_on_extra_quantity" validate:"gte=0"`
}

type ingredientAlias Ingredient

// UnmarshalJSON defaults Required to true when the field is absent.
func (i *Ingredient) UnmarshalJSON(data []byte) error {
	alias := ingredientAlias{Required: true}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*i = Ingredient(alias)
	return nil
}

// UnmarshalYAML defaults Required to true when the field is absent.
func (i *Ingredient) UnmarshalYAML(node *yaml.Node) error {
	alias := ingredientAlias{Required: true}
	if err := node.Decode(&alias); err != nil {
		return err
	}
	*i = Ingredient(alias)
	return nil
}

// AddOn is an optional extra with its own ingredients.
type AddOn struct {
	Name        string       `json:"name" yaml:"name" validate:"required,max=60"`
	ExtraCost   float64      `json:"extra_cost" yaml:"extra_cost" validate:"gte=0"`
	Ingredients []Ingredient `json:"ingredients,omitempty" yaml:"ingredients" validate:"dive"`
}

// DefaultSize is the representative size used for "can this be sold at all" checks.
func (r Recipe) DefaultSize() string {
	for _, s := range r.Sizes {
		if s != "" {
			return s
		}
	}
	return SizeRegular
}

// Empty reports whether the recipe consumes nothing in any configuration.
func (r Recipe) Empty() bool {
	if len(r.Ingredients) > 0 {
		return false
	}
	for _, a := range r.AddOns {
		if len(a.Ingredients) > 0 {
			return false
		}
	}
	return true
}

// FindAddOn looks an add-on up by name, ignoring case.
func (r Recipe) FindAddOn(name string) (AddOn, bool) {
	for _, a := range r.AddOns {
		if EqualFold(a.Name, name) {
			return a, true
		}
	}
	return AddOn{}, false
}

// AddOnNames returns every selectable add-on name: AddOn entries plus add-on flagged ingredients.
func (r Recipe) AddOnNames() []string {
	var names []string
	seen := map[string]bool{}
	add := func(n string) {
		key := Fold(n)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		names = append(names, n)
	}
	for _, ing := range r.Ingredients {
		if ing.IsAddOn {
			add(ing.AddOnName)
		}
	}
	for _, a := range r.AddOns {
		add(a.Name)
	}
	return names
}

// Clone returns a deep copy so callers cannot mutate cached recipes.
func (r Recipe) Clone() Recipe {
	out := r
	out.Sizes = append([]string(nil), r.Sizes...)
	out.Ingredients = append([]Ingredient(nil), r.Ingredients...)
	if r.AddOns != nil {
		out.AddOns = make([]AddOn, len(r.AddOns))
		for i, a := range r.AddOns {
			a.Ingredients = append([]Ingredient(nil), a.Ingredients...)
			out.AddOns[i] = a
		}
	}
	return out
}

// ErrRecipeNotFound indicates no recipe exists for the product/variant.
var ErrRecipeNotFound = errors.New("recipes: recipe not found")

// ErrInvalidRecipe indicates the recipe failed validation.
var ErrInvalidRecipe = errors.New("recipes: invalid recipe")
