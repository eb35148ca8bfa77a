package addressbook

import (
	"slices"
	"strings"
	"unicode"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
	"github.com/kabili207/contactindex/core/textnorm"
)

// Section is one populated section of a filtered view.
type Section struct {
	Key string          `json:"key"`
	IDs []core.RecordID `json:"ids"`
}

// Search returns the primary index restricted to contacts matching term,
// section by section in jump-list order. Sections with no match are left
// out. A term is matched against the search name ignoring case, diacritics
// and whitespace; a term with digits but no letters also matches any phone
// number containing those digits. An empty term returns every section.
func (b *Book) Search(term string) []Section {
	name := textnorm.SearchName(term)
	var digits string
	if !strings.ContainsFunc(term, unicode.IsLetter) {
		digits = textnorm.DigitsOnly(term)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.filter(b.cfg.SortOrdering, func(c *contact.Contact) bool {
		if name == "" {
			return true
		}
		if strings.Contains(c.SearchName, name) {
			return true
		}
		if digits == "" {
			return false
		}
		return slices.ContainsFunc(c.Phones, func(n string) bool {
			return strings.Contains(n, digits)
		})
	})
}

// ContactIDsInGroup returns the ids filed under key in the primary index
// that belong to the group. The main aggregate group of the aggregate
// source matches every contact. Unknown sources or groups return nil.
func (b *Book) ContactIDsInGroup(sourceID, groupID core.RecordID, key string) []core.RecordID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	member, ok := b.st.groupMember(sourceID, groupID)
	if !ok {
		return nil
	}
	ids := b.st.nameIndex(b.cfg.SortOrdering).Bucket(key)
	return slices.DeleteFunc(ids, func(id core.RecordID) bool { return !member(id) })
}

// GroupSections returns the primary index restricted to one group, with
// empty sections left out.
func (b *Book) GroupSections(sourceID, groupID core.RecordID) []Section {
	b.mu.RLock()
	defer b.mu.RUnlock()
	member, ok := b.st.groupMember(sourceID, groupID)
	if !ok {
		return nil
	}
	return b.st.filter(b.cfg.SortOrdering, func(c *contact.Contact) bool { return member(c.ID) })
}

// filter walks the name index of ordering o and keeps the contacts match
// accepts.
func (st *state) filter(o core.SortOrdering, match func(*contact.Contact) bool) []Section {
	x := st.nameIndex(o)
	var out []Section
	for _, key := range x.Keys() {
		ids := slices.DeleteFunc(x.Bucket(key), func(id core.RecordID) bool {
			c, ok := st.contacts[id]
			return !ok || !match(c)
		})
		if len(ids) > 0 {
			out = append(out, Section{Key: key, IDs: ids})
		}
	}
	return out
}

// groupMember resolves a membership test for a group of a source.
func (st *state) groupMember(sourceID, groupID core.RecordID) (func(core.RecordID) bool, bool) {
	if sourceID == core.SourceAggregate {
		if groupID == core.GroupAggregate {
			return func(id core.RecordID) bool {
				_, ok := st.contacts[id]
				return ok
			}, true
		}
		// A named group of the aggregate source is looked up in whichever
		// source owns it.
		for _, s := range st.sources {
			if g := s.GroupForID(groupID); g != nil {
				return g.HasMember, true
			}
		}
		return nil, false
	}
	s := st.source(sourceID)
	if s == nil {
		return nil, false
	}
	g := s.GroupForID(groupID)
	if g == nil {
		return nil, false
	}
	return g.HasMember, true
}
