// Package textnorm provides the string normalization used to key the
// contact indices: diacritic and whitespace stripping, digit extraction
// and locale-independent collation keys.
//
// Transformers from golang.org/x/text are stateful, so every function
// builds its own chain and is safe for concurrent use. Collator is not.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// RemoveDiacritics decomposes s, drops combining marks and recomposes it,
// so "Álvarez" becomes "Alvarez".
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// RemoveWhitespace drops every Unicode space character.
func RemoveWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// TrimWhitespace trims leading and trailing Unicode spaces.
func TrimWhitespace(s string) string {
	return strings.TrimFunc(s, unicode.IsSpace)
}

// DigitsOnly folds full-width forms to ASCII and keeps only 0-9.
func DigitsOnly(s string) string {
	folded := width.Fold.String(s)
	var b strings.Builder
	b.Grow(len(folded))
	for i := 0; i < len(folded); i++ {
		if c := folded[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SearchName is s without diacritics or whitespace, lowercased.
func SearchName(s string) string {
	return strings.ToLower(RemoveWhitespace(RemoveDiacritics(s)))
}

// Collator produces binary sort keys that order names the way an address
// book does: case, diacritics and width are ignored at the primary level.
// A Collator must only be used by one goroutine at a time.
type Collator struct {
	c   *collate.Collator
	buf collate.Buffer
}

// NewCollator returns a collator for the root locale.
func NewCollator() *Collator {
	return NewCollatorFor(language.Und)
}

// NewCollatorFor returns a collator for the given locale.
func NewCollatorFor(tag language.Tag) *Collator {
	return &Collator{
		c: collate.New(tag, collate.IgnoreCase, collate.IgnoreWidth, collate.Numeric),
	}
}

// Key returns an owned sort key for s. Keys compare with bytes.Compare.
func (c *Collator) Key(s string) []byte {
	k := c.c.KeyFromString(&c.buf, s)
	out := make([]byte, len(k))
	copy(out, k)
	c.buf.Reset()
	return out
}

// Compare compares two strings under the collation.
func (c *Collator) Compare(a, b string) int {
	return c.c.CompareString(a, b)
}
