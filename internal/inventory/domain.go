package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category enumerates the ingredient groups tracked by the ledger.
type Category string

const (
	// CategoryPowder covers matcha, cocoa and other powdered bases.
	CategoryPowder Category = "POWDER"
	// CategorySyrup covers flavour syrups and sauces.
	CategorySyrup Category = "SYRUP"
	// CategoryToppings covers shakers, toppings and jams.
	CategoryToppings Category = "SHAKERS / TOPPINGS / JAMS"
	// CategoryMilk covers dairy and plant milks.
	CategoryMilk Category = "MILK"
	// CategoryCoffeeBeans covers whole and ground beans.
	CategoryCoffeeBeans Category = "COFFEE BEANS"
	// CategoryOther is used for anything outside the fixed groups.
	CategoryOther Category = "OTHER"
)

// Categories lists every accepted category in display order.
var Categories = []Category{CategoryPowder, CategorySyrup, CategoryToppings, CategoryMilk, CategoryCoffeeBeans, CategoryOther}

// ParseCategory normalises user supplied category labels.
func ParseCategory(raw string) (Category, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return CategoryOther, nil
	}
	for _, c := range Categories {
		if string(c) == value {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// Status is the derived stock level of a raw material.
type Status string

const (
	// StatusInStock means quantity is above the low band.
	StatusInStock Status = "IN_STOCK"
	// StatusLowStock means quantity sits inside the low band.
	StatusLowStock Status = "LOW_STOCK"
	// StatusOutOfStock means nothing is left.
	StatusOutOfStock Status = "OUT_OF_STOCK"
)

// ParseStatus accepts the stored status labels, including the legacy RUNNING_LOW alias.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(StatusInStock):
		return StatusInStock, nil
	case string(StatusLowStock), "RUNNING_LOW":
		return StatusLowStock, nil
	case string(StatusOutOfStock):
		return StatusOutOfStock, nil
	}
	return "", fmt.Errorf("inventory: unknown status %q", raw)
}

// Thresholds configures the status bands.
type Thresholds struct {
	LowStockMax float64
}

// DefaultThresholds marks 10 units or fewer as low.
var DefaultThresholds = Thresholds{LowStockMax: 10}

// StatusFor derives the status for a quantity.
func (t Thresholds) StatusFor(qty float64) Status {
	switch {
	case qty <= 0:
		return StatusOutOfStock
	case qty <= t.LowStockMax:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// RawMaterial is one ingredient row in the stock ledger.
type RawMaterial struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	Unit      string    `json:"unit"`
	Quantity  float64   `json:"quantity"`
	Status    Status    `json:"status"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeEvent announces that one or more raw materials changed.
type ChangeEvent struct {
	MaterialIDs []int64   `json:"material_ids,omitempty"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

const (
	// ReasonCreate marks a newly registered material.
	ReasonCreate = "create"
	// ReasonRestock marks an inbound quantity.
	ReasonRestock = "restock"
	// ReasonAdjust marks a stocktake correction.
	ReasonAdjust = "adjust"
	// ReasonDelete marks a soft delete.
	ReasonDelete = "delete"
	// ReasonDeduction marks a committed sale.
	ReasonDeduction = "deduction"
	// ReasonScheduled marks a periodic refresh with no concrete change.
	ReasonScheduled = "scheduled"
)

// CreateInput registers a new raw material.
type CreateInput struct {
	Name     string  `json:"name" validate:"required,max=120"`
	Category string  `json:"category" validate:"max=40"`
	Unit     string  `json:"unit" validate:"required,max=16"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
	ActorID  int64   `json:"-"`
}

// RestockInput adds inbound quantity to a material.
type RestockInput struct {
	MaterialID int64   `json:"-"`
	Qty        float64 `json:"qty" validate:"gt=0"`
	Note       string  `json:"note" validate:"max=240"`
	ActorID    int64   `json:"-"`
}

// AdjustInput sets the counted quantity after a stocktake.
type AdjustInput struct {
	MaterialID int64   `json:"-"`
	Counted    float64 `json:"counted" validate:"gte=0"`
	Note       string  `json:"note" validate:"max=240"`
	ActorID    int64   `json:"-"`
}

// ListFilter narrows material listings.
type ListFilter struct {
	Category       Category
	Status         Status
	IncludeDeleted bool
}

// Summary aggregates ledger health for dashboards.
type Summary struct {
	Total      int    `json:"total"`
	InStock    int    `json:"in_stock"`
	LowStock   int    `json:"low_stock"`
	OutOfStock int    `json:"out_of_stock"`
	Message    string `json:"message"`
}

// Summarise counts active materials by status and renders the headline message.
func Summarise(materials []RawMaterial, thresholds Thresholds) Summary {
	var s Summary
	for _, m := range materials {
		if m.Deleted {
			continue
		}
		s.Total++
		switch thresholds.StatusFor(m.Quantity) {
		case StatusOutOfStock:
			s.OutOfStock++
		case StatusLowStock:
			s.LowStock++
		default:
			s.InStock++
		}
	}
	switch {
	case s.OutOfStock > 0:
		s.Message = fmt.Sprintf("%d items out of stock", s.OutOfStock)
	case s.LowStock > 0:
		s.Message = fmt.Sprintf("%d items running low", s.LowStock)
	default:
		s.Message = "All stocks are in good condition."
	}
	return s
}

// ErrMaterialNotFound indicates the raw material row does not exist.
var ErrMaterialNotFound = errors.New("inventory: raw material not found")

// ErrMaterialDeleted indicates the raw material was soft deleted.
var ErrMaterialDeleted = errors.New("inventory: raw material deleted")

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrNegativeStock triggered when a change would result in negative qty.
var ErrNegativeStock = errors.New("inventory: negative stock not allowed")

// ErrInvalidCategory indicates an unknown ingredient category.
var ErrInvalidCategory = errors.New("inventory: invalid category")

// ErrDuplicateMaterial indicates a live material already uses the name.
var ErrDuplicateMaterial = errors.New("inventory: raw material name already exists")

// ErrMissingFields indicates name or unit was blank.
var ErrMissingFields = errors.New("inventory: name and unit required")
