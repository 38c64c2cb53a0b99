package bom

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompatibleUnits indicates two units cannot be converted into each other.
var ErrIncompatibleUnits = errors.New("bom: incompatible units")

type unitDef struct {
	symbol string
	base   string
	factor float64
}

var unitTable = map[string]unitDef{
	"ml":          {"ml", "ml", 1},
	"milliliter":  {"ml", "ml", 1},
	"milliliters": {"ml", "ml", 1},
	"millilitre":  {"ml", "ml", 1},
	"millilitres": {"ml", "ml", 1},
	"l":           {"l", "ml", 1000},
	"liter":       {"l", "ml", 1000},
	"liters":      {"l", "ml", 1000},
	"litre":       {"l", "ml", 1000},
	"litres":      {"l", "ml", 1000},
	"g":           {"g", "g", 1},
	"gr":          {"g", "g", 1},
	"gram":        {"g", "g", 1},
	"grams":       {"g", "g", 1},
	"kg":          {"kg", "g", 1000},
	"kilogram":    {"kg", "g", 1000},
	"kilograms":   {"kg", "g", 1000},
	"pcs":         {"pcs", "pcs", 1},
	"pc":          {"pcs", "pcs", 1},
	"piece":       {"pcs", "pcs", 1},
	"pieces":      {"pcs", "pcs", 1},
}

// NormalizeUnit returns the canonical symbol for known units and the lower cased input otherwise.
func NormalizeUnit(unit string) string {
	key := strings.ToLower(strings.TrimSpace(unit))
	if def, ok := unitTable[key]; ok {
		return def.symbol
	}
	return key
}

// Convert expresses qty given in from as an amount of to.
// An empty unit on either side is treated as already matching.
func Convert(qty float64, from, to string) (float64, error) {
	f := strings.ToLower(strings.TrimSpace(from))
	t := strings.ToLower(strings.TrimSpace(to))
	if f == "" || t == "" || f == t {
		return qty, nil
	}
	df, okf := unitTable[f]
	dt, okt := unitTable[t]
	if !okf || !okt || df.base != dt.base {
		return 0, fmt.Errorf("%w: %s to %s", ErrIncompatibleUnits, from, to)
	}
	if df.symbol == dt.symbol {
		return qty, nil
	}
	return qty * df.factor / dt.factor, nil
}

// Compatible reports whether Convert would succeed.
func Compatible(a, b string) bool {
	_, err := Convert(1, a, b)
	return err == nil
}
