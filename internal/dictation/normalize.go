package dictation

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize lower-cases raw with Russian casing rules, composes it to NFC,
// drops leftover combining marks, folds ё to е, turns every other rune that
// is not a letter or digit into a space and collapses runs of whitespace.
// It is idempotent.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	// NFC keeps decomposed й and ё intact; marks with no precomposed form,
	// like the dot left by lower-casing İ, are dropped instead of splitting
	// the word.
	lower := norm.NFC.String(cases.Lower(language.Russian).String(raw))

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r == 'ё':
			r = 'е'
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r):
		default:
			r = ' '
		}
		b.WriteRune(r)
	}
	return collapse(b.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
