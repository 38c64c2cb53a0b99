// Package catalog loads the café's raw materials and recipes from a YAML seed file.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/recipes"
)

// ErrUnknownMaterial is returned when a recipe names a material that is neither seeded nor stored.
var ErrUnknownMaterial = errors.New("catalog: unknown raw material")

// File is the on-disk seed document.
type File struct {
	Menu      []MenuItem       `yaml:"menu"`
	Materials []Material       `yaml:"materials"`
	Recipes   []recipes.Recipe `yaml:"recipes"`
}

// MenuItem names a product id for display.
type MenuItem struct {
	ProductID int64  `yaml:"product_id"`
	Name      string `yaml:"name"`
}

// Material is one raw material with its opening quantity.
type Material struct {
	Name     string  `yaml:"name"`
	Category string  `yaml:"category"`
	Unit     string  `yaml:"unit"`
	Quantity float64 `yaml:"quantity"`
}

// Load reads and parses a seed file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a seed document, rejecting unknown keys.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("catalog: decode: %w", err)
	}
	for i, r := range f.Recipes {
		if r.VariantName == "" {
			f.Recipes[i].VariantName = recipes.DefaultVariant
		}
	}
	return f, nil
}

// MenuName returns the display name for a product, or an empty string.
func (f File) MenuName(productID int64) string {
	for _, m := range f.Menu {
		if m.ProductID == productID {
			return m.Name
		}
	}
	return ""
}

// MaterialStore is the subset of the ledger service used for seeding.
type MaterialStore interface {
	List(ctx context.Context, filter inventory.ListFilter) ([]inventory.RawMaterial, error)
	Create(ctx context.Context, input inventory.CreateInput) (inventory.RawMaterial, error)
}

// RecipeStore is the subset of the recipe service used for seeding.
type RecipeStore interface {
	Save(ctx context.Context, r recipes.Recipe, actorID int64) (recipes.Recipe, error)
}

// Report counts what Apply changed.
type Report struct {
	MaterialsCreated int `json:"materials_created"`
	MaterialsKept    int `json:"materials_kept"`
	RecipesSaved     int `json:"recipes_saved"`
}

// Apply creates missing materials and upserts every recipe. Materials that already exist
// keep their current quantity so a reseed never resets the ledger.
func Apply(ctx context.Context, f File, materials MaterialStore, recipeStore RecipeStore, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	existing, err := materials.List(ctx, inventory.ListFilter{})
	if err != nil {
		return Report{}, fmt.Errorf("catalog: list materials: %w", err)
	}
	ids := make(map[string]int64, len(existing)+len(f.Materials))
	for _, m := range existing {
		ids[key(m.Name)] = m.ID
	}

	var report Report
	for _, m := range f.Materials {
		if _, ok := ids[key(m.Name)]; ok {
			report.MaterialsKept++
			continue
		}
		created, err := materials.Create(ctx, inventory.CreateInput{Name: m.Name, Category: m.Category, Unit: m.Unit, Quantity: m.Quantity})
		if err != nil {
			return report, fmt.Errorf("catalog: create %q: %w", m.Name, err)
		}
		ids[key(created.Name)] = created.ID
		report.MaterialsCreated++
	}

	for _, r := range f.Recipes {
		if err := bind(r.Ingredients, ids); err != nil {
			return report, fmt.Errorf("catalog: recipe %d/%s: %w", r.ProductID, r.VariantName, err)
		}
		for _, a := range r.AddOns {
			if err := bind(a.Ingredients, ids); err != nil {
				return report, fmt.Errorf("catalog: recipe %d/%s add-on %q: %w", r.ProductID, r.VariantName, a.Name, err)
			}
		}
		if _, err := recipeStore.Save(ctx, r, 0); err != nil {
			return report, fmt.Errorf("catalog: save recipe %d/%s: %w", r.ProductID, r.VariantName, err)
		}
		report.RecipesSaved++
	}
	logger.Info("catalog applied",
		slog.Int("materials_created", report.MaterialsCreated),
		slog.Int("materials_kept", report.MaterialsKept),
		slog.Int("recipes_saved", report.RecipesSaved))
	return report, nil
}

func bind(ings []recipes.Ingredient, ids map[string]int64) error {
	for i := range ings {
		if ings[i].RawMaterialID > 0 {
			continue
		}
		id, ok := ids[key(ings[i].RawMaterialName)]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMaterial, ings[i].RawMaterialName)
		}
		ings[i].RawMaterialID = id
	}
	return nil
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
