package gateway

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold decomposes characters and removes their combining marks, so
// "café" folds to "cafe" before the ASCII filter below.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Transliterate reduces text to a plain-ASCII approximation: diacritics are
// stripped, anything still outside ASCII is dropped. Both the modem wire and
// the downstream forwarding contract are ASCII-only.
func Transliterate(text string) string {
	folded, _, err := transform.String(asciiFold, text)
	if err != nil {
		folded = text
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
