package addressbook

import (
	"bytes"
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"unicode"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
	"github.com/kabili207/contactindex/core/index"
	"github.com/kabili207/contactindex/core/phone"
	"github.com/kabili207/contactindex/core/textnorm"
	"github.com/kabili207/contactindex/device/snapshot"
)

// sortKeys are the collation keys of a contact's section names.
type sortKeys struct {
	first, last []byte
}

func (k sortKeys) forOrdering(o core.SortOrdering) []byte {
	if o == core.LastNameFirst {
		return k.last
	}
	return k.first
}

// state is one complete, self-consistent view of the store. A state is
// only mutated on the gate goroutine; readers hold Book.mu.
type state struct {
	log *slog.Logger

	contacts      map[core.RecordID]*contact.Contact
	keys          map[core.RecordID]sortKeys
	sources       []*contact.Source
	aggregate     *contact.Source
	defaultSource core.RecordID

	byFirst *index.Index
	byLast  *index.Index
	phones  *phone.Index
}

func newState(phoneOrdering core.SortOrdering, cacheSize int, logger *slog.Logger) *state {
	st := &state{
		log:      logger,
		contacts: make(map[core.RecordID]*contact.Contact),
		keys:     make(map[core.RecordID]sortKeys),
	}
	st.byFirst = index.New(snapshot.PartByFirstName, st.comparator(core.FirstNameFirst), logger)
	st.byLast = index.New(snapshot.PartByLastName, st.comparator(core.LastNameFirst), logger)
	st.phones = phone.NewIndex(st.comparator(phoneOrdering), st.numbersOf, cacheSize, logger)
	st.aggregate = contact.NewAggregateSource(func() []*contact.Source { return st.sources })
	return st
}

// comparator orders ids by the collation key of their section name, then
// by raw id.
func (st *state) comparator(o core.SortOrdering) index.Comparator {
	return func(a, b core.RecordID) int {
		if c := bytes.Compare(st.keys[a].forOrdering(o), st.keys[b].forOrdering(o)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	}
}

func (st *state) numbersOf(id core.RecordID) ([]string, bool) {
	c, ok := st.contacts[id]
	if !ok {
		return nil, false
	}
	return c.Phones, true
}

func (st *state) nameIndex(o core.SortOrdering) *index.Index {
	if o == core.LastNameFirst {
		return st.byLast
	}
	return st.byFirst
}

func (st *state) source(id core.RecordID) *contact.Source {
	if id == core.SourceAggregate {
		return st.aggregate
	}
	for _, s := range st.sources {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// put records c in the contact table and its source's aggregate group
// without touching the indices.
func (st *state) put(c *contact.Contact, coll *textnorm.Collator) {
	st.contacts[c.ID] = c
	st.keys[c.ID] = sortKeys{
		first: sectionSortKey(coll, c.SectionName(core.FirstNameFirst)),
		last:  sectionSortKey(coll, c.SectionName(core.LastNameFirst)),
	}
	if s := st.source(c.SourceID); s != nil {
		s.Aggregate().AddMember(c.ID)
	} else {
		st.log.Debug("contact in unknown source", "id", c.ID, "source", c.SourceID)
	}
}

// sectionSortKey is the collation key of name, or nil when name has no
// letter or digit. Those contacts sort among themselves by raw id.
func sectionSortKey(coll *textnorm.Collator, name string) []byte {
	if !strings.ContainsFunc(name, isUsable) {
		return nil
	}
	return coll.Key(name)
}

func isUsable(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// appendToIndices files c for a bulk load. Call sortAll when done.
func (st *state) appendToIndices(c *contact.Contact) {
	st.byFirst.Append(c.SectionKey(core.FirstNameFirst), c.ID)
	st.byLast.Append(c.SectionKey(core.LastNameFirst), c.ID)
	st.phones.Append(c.ID, c.Phones)
}

func (st *state) sortAll() {
	st.byFirst.SortAll()
	st.byLast.SortAll()
	st.phones.SortAll()
}

// file adds c to the table and inserts it into every index.
func (st *state) file(c *contact.Contact, coll *textnorm.Collator) {
	st.put(c, coll)
	st.byFirst.Insert(c.ID, c.SectionKey(core.FirstNameFirst))
	st.byLast.Insert(c.ID, c.SectionKey(core.LastNameFirst))
	st.phones.Add(c.ID, c.Phones)
}

// unfile removes id from every index using the keys it was filed under,
// computed from the stored contact rather than a fresh read, then drops
// it from the table. It reports whether id was present.
func (st *state) unfile(id core.RecordID) (*contact.Contact, bool) {
	c, ok := st.contacts[id]
	if !ok {
		return nil, false
	}
	unfileName(st.byFirst, id, c.SectionKey(core.FirstNameFirst))
	unfileName(st.byLast, id, c.SectionKey(core.LastNameFirst))
	st.phones.Remove(id, c.Phones)

	if s := st.source(c.SourceID); s != nil {
		s.Aggregate().RemoveMember(id)
	}
	delete(st.contacts, id)
	delete(st.keys, id)
	return c, true
}

// unfileName deletes id from x, falling back to a search when the stored
// key no longer matches (e.g. a restored index from an older collation).
func unfileName(x *index.Index, id core.RecordID, key string) {
	if !x.Contains(id, key) {
		if k, ok := x.KeyOf(id); ok {
			key = k
		}
	}
	x.Delete(id, key)
}

// dropMemberships removes id from every group of its source.
func (st *state) dropMemberships(c *contact.Contact) {
	if s := st.source(c.SourceID); s != nil {
		for _, g := range s.Groups {
			g.RemoveMember(c.ID)
		}
	}
}

// rebuildName refills a name index from the contact table.
func (st *state) rebuildName(o core.SortOrdering) {
	x := st.nameIndex(o)
	x.Reset()
	for _, c := range st.contacts {
		x.Append(c.SectionKey(o), c.ID)
	}
	x.SortAll()
}

// rebuildPhones refills the phone index from the contact table.
func (st *state) rebuildPhones() {
	st.phones.Reset()
	for _, id := range st.sortedIDs() {
		st.phones.Append(id, st.contacts[id].Phones)
	}
	st.phones.SortAll()
}

func (st *state) sortedIDs() []core.RecordID {
	ids := make([]core.RecordID, 0, len(st.contacts))
	for id := range st.contacts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// snapshot captures the state for archiving.
func (st *state) snapshot() *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		ByFirstName: st.byFirst.Buckets(),
		ByLastName:  st.byLast.Buckets(),
		ByPhone:     st.phones.Buckets().Buckets(),
		Numbers: snapshot.NumberTable{
			Numbers: st.phones.Numbers(),
			NoPhone: st.phones.NoPhone(),
		},
		Contacts: make([]*contact.Contact, 0, len(st.contacts)),
		Sources: snapshot.SourceTable{
			DefaultSource: st.defaultSource,
			Sources:       make([]contact.SourceFields, 0, len(st.sources)),
			Groups:        []contact.GroupFields{},
		},
	}
	for _, id := range st.sortedIDs() {
		snap.Contacts = append(snap.Contacts, st.contacts[id])
	}
	for _, s := range st.sources {
		snap.Sources.Sources = append(snap.Sources.Sources, s.Fields())
		for _, g := range s.Groups {
			if !g.IsSynthetic() {
				snap.Sources.Groups = append(snap.Sources.Groups, g.Fields())
			}
		}
	}
	return snap
}

// addSources installs the source table. Aggregate groups start empty and
// fill as contacts are put.
func (st *state) addSources(fields []contact.SourceFields, groups []contact.GroupFields, defaultID core.RecordID) {
	st.defaultSource = defaultID
	for _, f := range fields {
		s := contact.NewSource(f.ID, f.TypeName)
		s.IsDefault = f.IsDefault || f.ID == defaultID
		st.sources = append(st.sources, s)
	}
	for _, g := range groups {
		switch {
		case g.ID == core.GroupWillCreate || g.ID == core.GroupWillDelete:
			st.log.Debug("pending group skipped", "id", g.ID, "name", g.Name)
			continue
		case g.ID.IsReserved():
			st.log.Warn("group with reserved id skipped", "id", g.ID, "source", g.SourceID)
			continue
		}
		if s := st.source(g.SourceID); s != nil && g.SourceID != core.SourceAggregate {
			s.AddGroup(contact.GroupFromFields(g))
		}
	}
}
