// Package availability decides whether menu items can be sold from current stock
// and pushes those verdicts to interested screens.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cafepos/cafepos/internal/bom"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/recipes"
)

const epsilon = 1e-9

// checkTimeout bounds a shared check once every waiting caller has gone away.
const checkTimeout = 10 * time.Second

// Result is the verdict for one product at one size and add-on selection.
type Result struct {
	ProductID   int64    `json:"product_id"`
	Size        string   `json:"size,omitempty"`
	AddOns      []string `json:"add_ons,omitempty"`
	HasRecipe   bool     `json:"has_recipe"`
	Available   bool     `json:"available"`
	LowStock    bool     `json:"low_stock"`
	MissingText string   `json:"missing_text"`
	Missing     []string `json:"missing,omitempty"`
	LowItems    []string `json:"low_items,omitempty"`
}

// RecipeLookup selects the recipe variant for a size.
type RecipeLookup interface {
	Lookup(ctx context.Context, productID int64, size string) (recipes.Recipe, bool, error)
}

// MaterialLookup reads ledger rows by id.
type MaterialLookup interface {
	Lookup(ctx context.Context, ids []int64) (map[int64]inventory.RawMaterial, error)
}

// Classifier evaluates recipes against the live ledger.
type Classifier struct {
	recipes    RecipeLookup
	materials  MaterialLookup
	thresholds inventory.Thresholds
	logger     *slog.Logger
	group      singleflight.Group
	generation atomic.Uint64
}

// NewClassifier constructs Classifier.
func NewClassifier(recipes RecipeLookup, materials MaterialLookup, thresholds inventory.Thresholds, logger *slog.Logger) *Classifier {
	if thresholds.LowStockMax <= 0 {
		thresholds = inventory.DefaultThresholds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{recipes: recipes, materials: materials, thresholds: thresholds, logger: logger}
}

// CheckAvailability reports whether one unit of the product can be made at size.
// An empty size checks the default variant at its first declared size.
func (c *Classifier) CheckAvailability(ctx context.Context, productID int64, size string) (Result, error) {
	return c.CheckSelection(ctx, productID, size, nil)
}

// CheckSelection is CheckAvailability including the selected add-ons.
// Identical checks started within one ledger generation share a single read; the
// shared read is not tied to any one caller's context.
func (c *Classifier) CheckSelection(ctx context.Context, productID int64, size string, addOns []string) (Result, error) {
	key := flightKey(c.generation.Load(), productID, size, addOns)
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkTimeout)
		defer cancel()
		return c.check(fctx, productID, size, addOns)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Result{}, out.Err
		}
		res := out.Val.(Result)
		res.Missing = append([]string(nil), res.Missing...)
		res.LowItems = append([]string(nil), res.LowItems...)
		res.AddOns = append([]string(nil), res.AddOns...)
		return res, nil
	}
}

// Invalidate starts a new ledger generation. Checks begun afterwards never join a
// read that started before the call.
func (c *Classifier) Invalidate() {
	c.generation.Add(1)
}

func (c *Classifier) check(ctx context.Context, productID int64, size string, addOns []string) (Result, error) {
	rec, ok, err := c.recipes.Lookup(ctx, productID, size)
	if err != nil {
		return Result{}, fmt.Errorf("availability: recipe for product %d: %w", productID, err)
	}
	if !ok {
		return Result{ProductID: productID, Size: size, AddOns: addOns, Available: true}, nil
	}
	if size == "" {
		size = rec.DefaultSize()
	}
	demand, err := bom.Resolve(rec, size, addOns)
	if err != nil {
		c.logger.Warn("recipe does not resolve", slog.Int64("product_id", productID), slog.String("size", size), slog.Any("error", err))
		return Result{ProductID: productID, Size: size, AddOns: addOns, HasRecipe: true, Available: false, MissingText: "recipe error"}, nil
	}
	materials, err := c.materials.Lookup(ctx, demand.IDs())
	if err != nil {
		return Result{}, fmt.Errorf("availability: ledger lookup: %w", err)
	}
	for _, id := range demand.IDs() {
		if m, ok := materials[id]; !ok || m.Deleted {
			c.logger.Warn("recipe references unknown raw material", slog.Int64("product_id", productID), slog.Int64("material_id", id))
		}
	}
	res := Classify(productID, demand, materials, c.thresholds)
	res.Size = size
	res.AddOns = addOns
	return res, nil
}

// Classify compares one unit of demand with ledger rows. It never blocks.
// Missing or deleted materials make a required line unavailable; optional lines never do.
func Classify(productID int64, demand bom.Demand, materials map[int64]inventory.RawMaterial, thresholds inventory.Thresholds) Result {
	res := Result{ProductID: productID, HasRecipe: true, Available: true}
	for _, name := range demand.Unresolved() {
		res.Missing = appendName(res.Missing, name)
	}
	for _, line := range demand.Lines() {
		m, ok := materials[line.MaterialID]
		if !ok || m.Deleted {
			if line.Required {
				res.Missing = appendName(res.Missing, displayName(line, m, ok))
			}
			continue
		}
		need, err := bom.Convert(line.Amount, line.Unit, m.Unit)
		if err != nil {
			if line.Required {
				res.Missing = appendName(res.Missing, m.Name)
			}
			continue
		}
		if !line.Required {
			continue
		}
		if m.Quantity+epsilon < need {
			res.Missing = appendName(res.Missing, m.Name)
			continue
		}
		if thresholds.StatusFor(m.Quantity-need) != inventory.StatusInStock {
			res.LowItems = appendName(res.LowItems, m.Name)
		}
	}
	res.Available = len(res.Missing) == 0
	res.LowStock = len(res.LowItems) > 0
	res.MissingText = strings.Join(res.Missing, ", ")
	return res
}

func displayName(line bom.Line, m inventory.RawMaterial, found bool) string {
	if found && m.Name != "" {
		return m.Name
	}
	if line.Name != "" {
		return line.Name
	}
	return fmt.Sprintf("material #%d", line.MaterialID)
}

func appendName(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}

func flightKey(generation uint64, productID int64, size string, addOns []string) string {
	folded := make([]string, 0, len(addOns))
	for _, a := range addOns {
		folded = append(folded, recipes.Fold(a))
	}
	sort.Strings(folded)
	return fmt.Sprintf("%d|%d|%s|%s", generation, productID, recipes.Fold(size), strings.Join(folded, ","))
}
