// Package contact defines the entities the index is built over (contacts,
// groups and sources) and the interface to the external record store
// they are read from.
//
// A Contact is an immutable, typed projection of an external record taken
// when the record was enumerated. Field changes in the store are picked up
// by re-reading the record, never by mutating a Contact in place.
package contact

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/textnorm"
)

// CatchAllKey is the section for names that do not start with a letter.
const CatchAllKey = "#"

// Phone is one labelled phone number as stored in the external record.
type Phone struct {
	Label  string `json:"label,omitempty" yaml:"label,omitempty"`
	Number string `json:"number" yaml:"number"`
}

// Fields is the typed view of an external person record returned by a
// Handle. It carries raw, unnormalized values.
type Fields struct {
	ID           core.RecordID `json:"id" yaml:"id"`
	SourceID     core.RecordID `json:"source_id" yaml:"source_id"`
	Prefix       string        `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	FirstName    string        `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	MiddleName   string        `json:"middle_name,omitempty" yaml:"middle_name,omitempty"`
	LastName     string        `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Suffix       string        `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Nickname     string        `json:"nickname,omitempty" yaml:"nickname,omitempty"`
	Organization string        `json:"organization,omitempty" yaml:"organization,omitempty"`
	Phones       []Phone       `json:"phones,omitempty" yaml:"phones,omitempty"`
}

// Contact is a person record as held in the engine's contact table.
type Contact struct {
	ID           core.RecordID `json:"id"`
	SourceID     core.RecordID `json:"source_id"`
	Prefix       string        `json:"prefix,omitempty"`
	FirstName    string        `json:"first_name,omitempty"`
	MiddleName   string        `json:"middle_name,omitempty"`
	LastName     string        `json:"last_name,omitempty"`
	Suffix       string        `json:"suffix,omitempty"`
	Nickname     string        `json:"nickname,omitempty"`
	Organization string        `json:"organization,omitempty"`

	// Phones holds normalized numbers, de-duplicated, in record order.
	Phones []string `json:"phones,omitempty"`

	// CompositeName and SearchName are cached at construction.
	CompositeName string `json:"composite_name"`
	SearchName    string `json:"search_name"`

	// Dirty is set when the record has uncommitted changes in the store.
	Dirty bool `json:"dirty,omitempty"`
}

// FromFields builds a Contact from a store record. normalize maps a raw
// phone number to its lookup key; numbers that normalize to "" are dropped.
func FromFields(f Fields, normalize func(string) string) *Contact {
	c := &Contact{
		ID:           f.ID,
		SourceID:     f.SourceID,
		Prefix:       textnorm.TrimWhitespace(f.Prefix),
		FirstName:    textnorm.TrimWhitespace(f.FirstName),
		MiddleName:   textnorm.TrimWhitespace(f.MiddleName),
		LastName:     textnorm.TrimWhitespace(f.LastName),
		Suffix:       textnorm.TrimWhitespace(f.Suffix),
		Nickname:     textnorm.TrimWhitespace(f.Nickname),
		Organization: textnorm.TrimWhitespace(f.Organization),
	}
	for _, p := range f.Phones {
		n := normalize(p.Number)
		if n == "" || slices.Contains(c.Phones, n) {
			continue
		}
		c.Phones = append(c.Phones, n)
	}
	c.CompositeName = c.compositeName()
	c.SearchName = textnorm.SearchName(c.CompositeName)
	return c
}

// Clone returns a deep copy of c.
func (c *Contact) Clone() *Contact {
	cp := *c
	cp.Phones = slices.Clone(c.Phones)
	return &cp
}

// HasPhone reports whether the contact has at least one usable number.
func (c *Contact) HasPhone() bool {
	return len(c.Phones) > 0
}

// DisplayName is the composite name, or "No Name" when it is empty.
func (c *Contact) DisplayName() string {
	if c.CompositeName == "" {
		return "No Name"
	}
	return c.CompositeName
}

// SortName is the full name in the order used to sort under the given
// ordering, e.g. "Álvarez Zoë" for LastNameFirst. When no name part is
// set it falls back to the nickname, then the organization.
func (c *Contact) SortName(o core.SortOrdering) string {
	var parts []string
	if o == core.LastNameFirst {
		parts = []string{c.LastName, c.FirstName, c.MiddleName}
	} else {
		parts = []string{c.FirstName, c.MiddleName, c.LastName}
	}
	name := joinNonEmpty(parts...)
	if name == "" {
		name = joinNonEmpty(c.Nickname, c.Organization)
	}
	return name
}

// SectionName is the sort name with the contact's own prefix and suffix
// removed, so "Dr. Zoë Álvarez Jr." files under Z, not D.
func (c *Contact) SectionName(o core.SortOrdering) string {
	return StripAffixes(c.SortName(o), c.Prefix, c.Suffix)
}

// SectionKey resolves the section the contact is filed under.
func (c *Contact) SectionKey(o core.SortOrdering) string {
	return ResolveSectionKey(c.SectionName(o))
}

func (c *Contact) compositeName() string {
	name := joinNonEmpty(c.Prefix, c.FirstName, c.MiddleName, c.LastName, c.Suffix)
	if name == "" {
		name = joinNonEmpty(c.Nickname, c.Organization)
	}
	return name
}

// ResolveSectionKey returns the uppercased first letter of name after
// diacritics and whitespace are removed, or CatchAllKey when that
// character is not a letter or nothing remains.
func ResolveSectionKey(name string) string {
	stripped := textnorm.RemoveWhitespace(textnorm.RemoveDiacritics(name))
	for _, r := range stripped {
		if !unicode.IsLetter(r) {
			return CatchAllKey
		}
		return string(unicode.ToUpper(r))
	}
	return CatchAllKey
}

// StripAffixes removes a leading prefix and a trailing suffix from name,
// together with any punctuation and whitespace separating them.
func StripAffixes(name, prefix, suffix string) string {
	name = textnorm.TrimWhitespace(name)
	if prefix != "" && strings.HasPrefix(name, prefix) {
		rest := name[len(prefix):]
		if rest == "" || startsWithSeparator(rest) {
			name = strings.TrimLeftFunc(rest, isSeparator)
		}
	}
	if suffix != "" && strings.HasSuffix(name, suffix) {
		rest := name[:len(name)-len(suffix)]
		if rest != "" && endsWithSeparator(rest) {
			name = strings.TrimRightFunc(rest, isSeparator)
		}
	}
	return name
}

func startsWithSeparator(s string) bool {
	for _, r := range s {
		return isSeparator(r)
	}
	return false
}

func endsWithSeparator(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return isSeparator(r)
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == ',' || r == '.'
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
