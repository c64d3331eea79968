package shared

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// NameKey returns the comparison form of a person or company name: accents
// removed, case folded and inner whitespace collapsed. "José  DA Silva" and
// "jose da silva" share a key.
func NameKey(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	return strings.Join(strings.Fields(foldCaser.String(stripped)), " ")
}

// DigitsOnly strips every non-digit character (document and tax ids)
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TrimLeadingZeros normalizes legacy numeric codes ("00042" and "42" compare
// equal). A code made only of zeros becomes "0".
func TrimLeadingZeros(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	trimmed := strings.TrimLeft(code, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
