// Package textnorm canonicalizes free text into comparable tokens so that
// lexical matching ignores case and diacritics ("Café" == "cafe").
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold decomposes s, drops non-spacing combining marks, recomposes and
// lowercases the result. Separators are preserved.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	// transform.Chain keeps internal state, so it is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		// Only reachable on invalid UTF-8 edge cases; fall back to the input.
		out = s
	}
	return strings.ToLower(out)
}

// Normalize folds text and splits it into maximal runs of letters and
// decimal digits. Everything else is a separator. Empty or whitespace-only
// input yields a nil slice.
func Normalize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return Tokenize(Fold(text))
}

// Tokenize splits s into maximal runs of letter/decimal-digit runes without
// folding.
func Tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	})
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.Is(unicode.Nd, r)
}
