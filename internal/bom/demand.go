// Package bom turns recipes into raw material demand.
package bom

import (
	"math"
	"strings"

	"github.com/cafepos/cafepos/internal/recipes"
)

// epsilon below which a merged quantity counts as zero.
const epsilon = 1e-9

// Line is the merged demand for one raw material.
type Line struct {
	MaterialID int64    `json:"raw_material_id"`
	Name       string   `json:"raw_material_name,omitempty"`
	Amount     float64  `json:"quantity"`
	Unit       string   `json:"unit,omitempty"`
	Required   bool     `json:"required"`
	AddOns     []string `json:"add_ons,omitempty"`
}

// Demand maps raw material ids to merged quantities, remembering first-seen order.
// The zero value is ready to use.
type Demand struct {
	order      []int64
	lines      map[int64]*Line
	unresolved []string
}

// Len returns the number of materials with non-zero demand.
func (d Demand) Len() int {
	return len(d.order)
}

// Get returns the line for a material.
func (d Demand) Get(id int64) (Line, bool) {
	l, ok := d.lines[id]
	if !ok {
		return Line{}, false
	}
	return copyLine(l), true
}

// IDs returns material ids in first-seen order.
func (d Demand) IDs() []int64 {
	return append([]int64(nil), d.order...)
}

// Lines returns copies of every line in first-seen order.
func (d Demand) Lines() []Line {
	out := make([]Line, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, copyLine(d.lines[id]))
	}
	return out
}

// Unresolved returns the names of required ingredients that reference no raw material.
func (d Demand) Unresolved() []string {
	return append([]string(nil), d.unresolved...)
}

// Amounts returns the plain material id to quantity map.
func (d Demand) Amounts() map[int64]float64 {
	out := make(map[int64]float64, len(d.order))
	for _, id := range d.order {
		out[id] = d.lines[id].Amount
	}
	return out
}

// Merge adds other scaled by multiplier into d.
func (d *Demand) Merge(other Demand, multiplier float64) error {
	for _, id := range other.order {
		l := other.lines[id]
		if err := d.accumulate(id, l.Name, l.Amount*multiplier, l.Unit, l.Required, l.AddOns...); err != nil {
			return err
		}
	}
	for _, name := range other.unresolved {
		d.unresolved = appendDistinct(d.unresolved, name)
	}
	d.prune()
	return nil
}

func (d *Demand) addIngredient(ing recipes.Ingredient, qty float64, addOn string) error {
	var addOns []string
	if addOn != "" {
		addOns = []string{addOn}
	}
	return d.accumulate(ing.RawMaterialID, ing.RawMaterialName, qty, ing.Unit, ing.Required, addOns...)
}

func (d *Demand) addUnresolved(ing recipes.Ingredient, qty float64) {
	if !ing.Required || qty < epsilon {
		return
	}
	name := strings.TrimSpace(ing.RawMaterialName)
	if name == "" {
		name = "unlinked ingredient"
	}
	d.unresolved = appendDistinct(d.unresolved, name)
}

func (d *Demand) accumulate(id int64, name string, qty float64, unit string, required bool, addOns ...string) error {
	if d.lines == nil {
		d.lines = make(map[int64]*Line)
	}
	l, ok := d.lines[id]
	if !ok {
		l = &Line{MaterialID: id, Name: name, Unit: NormalizeUnit(unit)}
		d.lines[id] = l
		d.order = append(d.order, id)
	}
	amount, err := Convert(qty, unit, l.Unit)
	if err != nil {
		return err
	}
	if l.Unit == "" {
		l.Unit = NormalizeUnit(unit)
	}
	if l.Name == "" {
		l.Name = name
	}
	l.Amount += amount
	l.Required = l.Required || required
	for _, a := range addOns {
		l.AddOns = appendDistinct(l.AddOns, a)
	}
	return nil
}

func (d *Demand) prune() {
	kept := d.order[:0]
	for _, id := range d.order {
		if math.Abs(d.lines[id].Amount) < epsilon {
			delete(d.lines, id)
			continue
		}
		kept = append(kept, id)
	}
	d.order = kept
}

func appendDistinct(list []string, v string) []string {
	for _, existing := range list {
		if recipes.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}

func copyLine(l *Line) Line {
	out := *l
	out.AddOns = append([]string(nil), l.AddOns...)
	return out
}
