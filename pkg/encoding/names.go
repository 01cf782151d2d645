// Package encoding provides text utilities for material and category names.
package encoding

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName canonicalises a material id or semantic category for
// case-insensitive lookup. Separators (space, '-', '_', '.') collapse to a
// single '_' and the result is NFC, case-folded and trimmed.
func NormalizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	// A Caser keeps state between calls, so each call gets its own.
	name = cases.Fold().String(name)

	var b strings.Builder
	b.Grow(len(name))
	sep := false
	for _, r := range name {
		if isSeparator(r) {
			sep = b.Len() > 0
			continue
		}
		if sep {
			b.WriteByte('_')
			sep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == '-' || r == '_' || r == '.'
}
