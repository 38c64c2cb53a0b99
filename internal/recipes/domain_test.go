package recipes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestIngredientRequiredDefaultsTrue(t *testing.T) {
	var ing Ingredient
	require.NoError(t, json.Unmarshal([]byte(`{"raw_material_id":3,"quantity":200,"unit":"ml"}`), &ing))
	require.True(t, ing.Required)

	require.NoError(t, json.Unmarshal([]byte(`{"raw_material_id":3,"quantity":200,"unit":"ml","required":false}`), &ing))
	require.False(t, ing.Required)

	var fromYAML Ingredient
	require.NoError(t, yaml.Unmarshal([]byte("raw_material_id: 3\nquantity: 15\nunit: g\n"), &fromYAML))
	require.True(t, fromYAML.Required)
	require.Equal(t, int64(3), fromYAML.RawMaterialID)
}

func TestRecipeJSONRoundTripPreservesFields(t *testing.T) {
	in := Recipe{
		ProductID:   7,
		VariantName: "Medium",
		Sizes:       []string{"Medium"},
		Ingredients: []Ingredient{
			{RawMaterialID: 1, RawMaterialName: "Matcha Powder", Quantity: 15, Unit: "g", Required: true},
			{RawMaterialID: 2, Quantity: 5, Unit: "g", Required: false, SizeVariant: "Medium", IsAddOn: true, AddOnName: "Extra Shot", AddOnExtraQuantity: 5},
		},
		AddOns: []AddOn{{Name: "Cheese Foam", ExtraCost: 20, Ingredients: []Ingredient{{RawMaterialID: 4, Quantity: 25, Unit: "g", Required: true}}}},
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	var out Recipe
	require.NoError(t, Decode(raw, &out))
	require.Equal(t, in, out)
}

func TestSelectVariant(t *testing.T) {
	candidates := []Recipe{
		{VariantName: "Hot"},
		{VariantName: "Default"},
		{VariantName: "Medium"},
		{VariantName: "Large"},
	}
	pick := func(size string) string {
		r, ok := Select(candidates, size)
		require.True(t, ok)
		return r.VariantName
	}
	require.Equal(t, "Medium", pick("medium"))
	require.Equal(t, "Medium", pick("Grande"))
	require.Equal(t, "Large", pick("Venti"))
	require.Equal(t, "Default", pick("Tall"))
	require.Equal(t, "Default", pick(""))
	require.Equal(t, "Hot", pick("hot"))

	r, ok := Select([]Recipe{{VariantName: "Iced"}}, "Large")
	require.True(t, ok)
	require.Equal(t, "Iced", r.VariantName)

	_, ok = Select(nil, "Large")
	require.False(t, ok)
}

func TestSizeHelpers(t *testing.T) {
	require.Equal(t, SizeRegular, CanonicalSize("tall"))
	require.Equal(t, SizeMedium, CanonicalSize(" GRANDE "))
	require.Equal(t, "Kids", CanonicalSize("Kids"))
	require.True(t, SizeMatches("", "Large"))
	require.True(t, SizeMatches("all", "Large"))
	require.True(t, SizeMatches("Large", "large"))
	require.False(t, SizeMatches("Large", "Regular"))

	require.Equal(t, "Regular", Recipe{}.DefaultSize())
	require.Equal(t, "Small", Recipe{Sizes: []string{"Small", "Large"}}.DefaultSize())
}

func TestRecipeAddOnNames(t *testing.T) {
	r := Recipe{
		Ingredients: []Ingredient{
			{RawMaterialID: 1, IsAddOn: true, AddOnName: "Extra Pearls"},
			{RawMaterialID: 2, IsAddOn: true, AddOnName: "extra pearls"},
		},
		AddOns: []AddOn{{Name: "Cheese Foam"}},
	}
	require.Equal(t, []string{"Extra Pearls", "Cheese Foam"}, r.AddOnNames())
	a, ok := r.FindAddOn("CHEESE FOAM")
	require.True(t, ok)
	require.Equal(t, "Cheese Foam", a.Name)
}

func TestCloneIsDeep(t *testing.T) {
	r := Recipe{Ingredients: []Ingredient{{RawMaterialID: 1}}, AddOns: []AddOn{{Name: "x", Ingredients: []Ingredient{{RawMaterialID: 2}}}}}
	c := r.Clone()
	c.Ingredients[0].RawMaterialID = 9
	c.AddOns[0].Ingredients[0].RawMaterialID = 9
	require.Equal(t, int64(1), r.Ingredients[0].RawMaterialID)
	require.Equal(t, int64(2), r.AddOns[0].Ingredients[0].RawMaterialID)
}
