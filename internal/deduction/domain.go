// Package deduction commits sold orders against the stock ledger.
package deduction

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LineItem is one sold menu item.
type LineItem struct {
	ProductID    int64    `json:"product_id" validate:"gt=0"`
	MenuItemName string   `json:"menu_item_name" validate:"max=120"`
	Variant      string   `json:"variant,omitempty" validate:"max=60"`
	Size         string   `json:"size,omitempty" validate:"max=30"`
	Quantity     int      `json:"quantity" validate:"gt=0"`
	AddOns       []string `json:"add_ons,omitempty" validate:"dive,max=60"`
}

// Deduction is the immutable audit row written per (sale, raw material).
type Deduction struct {
	ID              int64     `json:"id"`
	SaleID          string    `json:"sale_id"`
	RawMaterialID   int64     `json:"raw_material_id"`
	RawMaterialName string    `json:"raw_material_name"`
	Quantity        float64   `json:"quantity"`
	Unit            string    `json:"unit"`
	SizeVariant     string    `json:"size_variant"`
	AddOns          string    `json:"add_ons"`
	MenuItems       string    `json:"menu_items"`
	Shortfall       float64   `json:"shortfall,omitempty"`
	DeductedAt      time.Time `json:"deducted_at"`
}

// Insufficient reports a required material whose stock did not cover the order.
type Insufficient struct {
	RawMaterialID int64   `json:"raw_material_id"`
	Name          string  `json:"name"`
	Needed        float64 `json:"needed"`
	Available     float64 `json:"available"`
	Unit          string  `json:"unit"`
}

// Result is returned by a successful commit.
type Result struct {
	SaleID           string         `json:"sale_id"`
	Applied          []Deduction    `json:"applied"`
	Insufficient     []Insufficient `json:"insufficient"`
	SkippedProducts  []int64        `json:"skipped_products,omitempty"`
	SkippedMaterials []int64        `json:"skipped_materials,omitempty"`
}

// Policy decides what happens when a required material is short.
type Policy string

const (
	// PolicyBlock rejects the whole order and writes nothing.
	PolicyBlock Policy = "block"
	// PolicyFlag deducts what is available and reports the shortfall.
	PolicyFlag Policy = "flag"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyBlock:
		return PolicyBlock, nil
	case PolicyFlag:
		return PolicyFlag, nil
	}
	return "", fmt.Errorf("deduction: unknown policy %q", raw)
}

var (
	// ErrSaleAlreadyCommitted indicates the sale id was already deducted.
	ErrSaleAlreadyCommitted = errors.New("deduction: sale already committed")
	// ErrInsufficientStock indicates required stock did not cover the order.
	ErrInsufficientStock = errors.New("deduction: insufficient stock")
	// ErrConsistency indicates a write would have produced negative stock.
	ErrConsistency = errors.New("deduction: stock consistency violated")
	// ErrUnitMismatch indicates recipe and ledger units cannot be converted.
	ErrUnitMismatch = errors.New("deduction: unit mismatch")
	// ErrInvalidOrder indicates a malformed sale id or line item.
	ErrInvalidOrder = errors.New("deduction: invalid order")
)

// InsufficientStockError lists the short materials of a blocked order.
type InsufficientStockError struct {
	Items []Insufficient
}

func (e *InsufficientStockError) Error() string {
	names := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		names = append(names, it.Name)
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(names, ", "))
}

// Unwrap lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
