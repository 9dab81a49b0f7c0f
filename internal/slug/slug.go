// Package slug builds the immutable public path segment a document is
// published under. The allocator runs exactly once per document, on the
// first successful save; after that the stored value is carried forward
// unchanged no matter how the document is renamed.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"atelie/api/internal/util"
)

const (
	fallbackStem = "proposta"
	suffixBytes  = 4
)

// New builds a URL-safe token from the document name and appends a short
// random suffix, so uniqueness never needs a round-trip to storage.
// "Ensaio Ana" becomes "ensaio-ana-<8 hex chars>".
func New(name string) string {
	stem := Normalize(name)
	if stem == "" {
		stem = fallbackStem
	}
	return stem + "-" + util.RandomHex(suffixBytes)
}

// Normalize lowercases the name, strips diacritics, collapses every run of
// non-alphanumeric characters into a single hyphen and trims hyphens from
// both ends.
func Normalize(name string) string {
	folded := stripDiacritics(strings.ToLower(name))

	var builder strings.Builder
	builder.Grow(len(folded))
	pendingSeparator := false
	for _, r := range folded {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingSeparator = builder.Len() > 0
			continue
		}
		if pendingSeparator {
			builder.WriteByte('-')
			pendingSeparator = false
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

func stripDiacritics(s string) string {
	decomposer := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(decomposer, s)
	if err != nil {
		return s
	}
	return out
}
