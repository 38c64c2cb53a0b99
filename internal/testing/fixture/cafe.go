// Package fixture wires in-memory services around a small café catalog for tests.
package fixture

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cafepos/cafepos/internal/bom"
	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/recipes"
	"github.com/cafepos/cafepos/internal/store/memory"
)

// Product ids used by the seeded catalog.
const (
	MatchaLatte int64 = 101
	IcedCoffee  int64 = 102
	Americano   int64 = 103
)

// Cafe bundles a memory store with the services built on it.
type Cafe struct {
	Store     *memory.Store
	Notifier  *inventory.LocalNotifier
	Inventory *inventory.Service
	Recipes   *recipes.Service
	Deduction *deduction.Service

	// Materials maps display names to ledger ids.
	Materials map[string]int64
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewCafe builds services over an empty store.
func NewCafe(t testing.TB, cfg deduction.ServiceConfig) *Cafe {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	notifier := inventory.NewLocalNotifier()
	logger := Logger()
	inv := inventory.NewService(store.Inventory(), nil, notifier, inventory.ServiceConfig{Thresholds: cfg.Thresholds}, logger)
	rec := recipes.NewService(store.Recipes(), nil, notifier, bom.ValidateRecipe, logger)
	return &Cafe{
		Store:     store,
		Notifier:  notifier,
		Inventory: inv,
		Recipes:   rec,
		Deduction: deduction.NewService(store.Deductions(), rec, notifier, cfg, logger),
		Materials: map[string]int64{},
	}
}

// AddMaterial registers a raw material and remembers its id by name.
func (c *Cafe) AddMaterial(t testing.TB, name, category, unit string, qty float64) int64 {
	t.Helper()
	m, err := c.Inventory.Create(context.Background(), inventory.CreateInput{Name: name, Category: category, Unit: unit, Quantity: qty})
	require.NoError(t, err)
	c.Materials[name] = m.ID
	return m.ID
}

// SaveRecipe stores a recipe through the catalog service.
func (c *Cafe) SaveRecipe(t testing.TB, r recipes.Recipe) recipes.Recipe {
	t.Helper()
	saved, err := c.Recipes.Save(context.Background(), r, 0)
	require.NoError(t, err)
	return saved
}

// Quantity reads the current ledger quantity of a named material.
func (c *Cafe) Quantity(t testing.TB, name string) float64 {
	t.Helper()
	m, err := c.Inventory.Get(context.Background(), c.Materials[name])
	require.NoError(t, err)
	return m.Quantity
}

// SetQuantity adjusts a named material to an exact count.
func (c *Cafe) SetQuantity(t testing.TB, name string, qty float64) {
	t.Helper()
	_, err := c.Inventory.Adjust(context.Background(), inventory.AdjustInput{MaterialID: c.Materials[name], Counted: qty})
	require.NoError(t, err)
}

// Seed creates the standard materials and the Matcha Latte, Iced Coffee and Americano recipes.
func (c *Cafe) Seed(t testing.TB) {
	t.Helper()
	matcha := c.AddMaterial(t, "Matcha Powder", "POWDER", "g", 100)
	milk := c.AddMaterial(t, "Fresh Milk", "MILK", "ml", 2000)
	coffee := c.AddMaterial(t, "Cold Brew", "COFFEE BEANS", "ml", 1000)
	pearls := c.AddMaterial(t, "Tapioca Pearls", "SHAKERS / TOPPINGS / JAMS", "g", 500)
	beans := c.AddMaterial(t, "Espresso Beans", "COFFEE BEANS", "kg", 1)
	syrup := c.AddMaterial(t, "Vanilla Syrup", "SYRUP", "ml", 300)

	c.SaveRecipe(t, recipes.Recipe{
		ProductID:   MatchaLatte,
		VariantName: recipes.DefaultVariant,
		Ingredients: []recipes.Ingredient{
			{RawMaterialID: matcha, RawMaterialName: "Matcha Powder", Quantity: 15, Unit: "g", Required: true},
			{RawMaterialID: milk, RawMaterialName: "Fresh Milk", Quantity: 200, Unit: "ml", Required: true},
			{RawMaterialID: syrup, RawMaterialName: "Vanilla Syrup", Quantity: 10, Unit: "ml", Required: false},
		},
	})
	c.SaveRecipe(t, recipes.Recipe{
		ProductID:   IcedCoffee,
		VariantName: recipes.DefaultVariant,
		Sizes:       []string{"Regular", "Large"},
		Ingredients: []recipes.Ingredient{
			{RawMaterialID: coffee, RawMaterialName: "Cold Brew", Quantity: 30, Unit: "ml", Required: true},
			{RawMaterialID: pearls, RawMaterialName: "Tapioca Pearls", Quantity: 20, Unit: "g", Required: true, IsAddOn: true, AddOnName: "Extra Pearls", AddOnExtraQuantity: 15},
			{RawMaterialID: milk, RawMaterialName: "Fresh Milk", Quantity: 50, Unit: "ml", Required: true, SizeVariant: "Large"},
		},
	})
	c.SaveRecipe(t, recipes.Recipe{
		ProductID:   Americano,
		VariantName: recipes.DefaultVariant,
		Ingredients: []recipes.Ingredient{
			{RawMaterialID: beans, RawMaterialName: "Espresso Beans", Quantity: 18, Unit: "g", Required: true},
		},
	})
}
