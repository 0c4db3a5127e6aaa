package database

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeLabel folds a label for search: no diacritics, lowercase, dashes and
// repeated whitespace collapsed to single spaces.
func NormalizeLabel(label string) string {
	label = RemoveDiacritics(label)
	label = strings.ToLower(label)
	label = strings.ReplaceAll(label, "-", " ")
	return strings.Join(strings.Fields(label), " ")
}

// LabelMatches reports whether a label contains the query after normalization.
// An empty query matches everything.
func LabelMatches(label, query string) bool {
	q := NormalizeLabel(query)
	if q == "" {
		return true
	}
	return strings.Contains(NormalizeLabel(label), q)
}
