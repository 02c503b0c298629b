package mapping

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize canonicalizes a clinical term for lookup: lowercase, fold
// diacritics (jvara and jvarā normalize identically), collapse internal
// whitespace, trim. Returns "" for terms with no usable content.
func Normalize(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return ""
	}
	if folded, _, err := transform.String(diacriticStripper, term); err == nil {
		term = folded
	}
	return strings.Join(strings.Fields(term), " ")
}
