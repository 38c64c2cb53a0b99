package recipes

import (
	"strings"

	"golang.org/x/text/cases"
)

// Canonical sizes.
const (
	SizeRegular = "Regular"
	SizeMedium  = "Medium"
	SizeLarge   = "Large"
	// SizeAll on an ingredient matches every size.
	SizeAll = "All"
)

var sizeAliases = map[string]string{
	"tall":    SizeRegular,
	"small":   SizeRegular,
	"regular": SizeRegular,
	"grande":  SizeMedium,
	"medium":  SizeMedium,
	"venti":   SizeLarge,
	"large":   SizeLarge,
}

// Fold returns the case folded, trimmed form used for name comparisons.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// EqualFold compares two labels ignoring case and surrounding space.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}

// CanonicalSize maps cup names onto Regular, Medium or Large; unknown sizes are returned trimmed.
func CanonicalSize(size string) string {
	if canon, ok := sizeAliases[Fold(size)]; ok {
		return canon
	}
	return strings.TrimSpace(size)
}

// SizeMatches reports whether an ingredient gated on entrySize contributes to selected.
// Cup aliases count as equal, so a Venti order matches a Large gated entry.
func SizeMatches(entrySize, selected string) bool {
	entry := strings.TrimSpace(entrySize)
	if entry == "" || EqualFold(entry, SizeAll) {
		return true
	}
	if EqualFold(entry, selected) {
		return true
	}
	return isSizeName(entry) && isSizeName(selected) && CanonicalSize(entry) == CanonicalSize(selected)
}

// Select picks the variant to use for a size: exact name, canonical size name, Default, then the first.
func Select(candidates []Recipe, size string) (Recipe, bool) {
	if len(candidates) == 0 {
		return Recipe{}, false
	}
	if size != "" {
		for _, r := range candidates {
			if EqualFold(r.VariantName, size) {
				return r, true
			}
		}
		canon := CanonicalSize(size)
		for _, r := range candidates {
			if EqualFold(CanonicalSize(r.VariantName), canon) && isSizeName(r.VariantName) {
				return r, true
			}
		}
	}
	for _, r := range candidates {
		if EqualFold(r.VariantName, DefaultVariant) {
			return r, true
		}
	}
	return candidates[0], true
}

func isSizeName(name string) bool {
	_, ok := sizeAliases[Fold(name)]
	return ok
}
