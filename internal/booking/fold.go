package booking

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldText lower-cases s, strips diacritics and collapses inner whitespace so
// that "  Età  Bambini" and "eta bambini" compare equal.
func FoldText(s string) string {
	// transformers and casers carry state, build them per call.
	strip := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(strip, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)
	return strings.Join(strings.Fields(out), " ")
}

// HeaderKey folds a column header and drops every rune that is not a letter or
// digit, so "Check-in", "check_in" and "CHECK IN" share one key.
func HeaderKey(s string) string {
	folded := FoldText(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
