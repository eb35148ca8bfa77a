package contact

import (
	"slices"

	"github.com/kabili207/contactindex/core"
)

// Source is an account or container in the external store. Each contact
// belongs to exactly one source.
type Source struct {
	ID        core.RecordID
	TypeName  string
	IsDefault bool

	// Groups in display order. Index 0 is the source's aggregate group.
	Groups []*Group
}

// NewSource creates a source holding only its own aggregate group.
func NewSource(id core.RecordID, typeName string) *Source {
	return &Source{
		ID:       id,
		TypeName: typeName,
		Groups:   []*Group{NewGroup(core.GroupAggregate, id, "All Contacts")},
	}
}

// Aggregate returns the group holding every contact of the source.
func (s *Source) Aggregate() *Group {
	return s.GroupForID(core.GroupAggregate)
}

// GroupForID returns the group with the given id, or nil.
func (s *Source) GroupForID(id core.RecordID) *Group {
	for _, g := range s.Groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}

// AddGroup appends a group, replacing any group with the same id.
func (s *Source) AddGroup(g *Group) {
	for i, existing := range s.Groups {
		if existing.ID == g.ID {
			s.Groups[i] = g
			return
		}
	}
	s.Groups = append(s.Groups, g)
}

// RemoveGroup removes the group with the given id. The aggregate group
// cannot be removed.
func (s *Source) RemoveGroup(id core.RecordID) bool {
	if id == core.GroupAggregate {
		return false
	}
	for i, g := range s.Groups {
		if g.ID == id {
			s.Groups = slices.Delete(s.Groups, i, i+1)
			return true
		}
	}
	return false
}

// AggregateCount is the number of contacts in the source.
func (s *Source) AggregateCount() int {
	if g := s.Aggregate(); g != nil {
		return g.Count()
	}
	return 0
}

// Fields returns the store representation of the source.
func (s *Source) Fields() SourceFields {
	return SourceFields{ID: s.ID, TypeName: s.TypeName, IsDefault: s.IsDefault}
}

// NewAggregateSource builds the pseudo-source spanning all sources. Its
// main aggregate group reports the sum of the sources' aggregate counts
// and is evaluated lazily, so later membership changes are reflected.
func NewAggregateSource(sources func() []*Source) *Source {
	agg := NewSource(core.SourceAggregate, "All")
	main := agg.Aggregate()
	main.IsMainAggregate = true
	main.aggregate = func() int {
		total := 0
		for _, s := range sources() {
			if s.ID == core.SourceAggregate {
				continue
			}
			total += s.AggregateCount()
		}
		return total
	}
	return agg
}

// Clone returns a copy of the source and its groups.
func (s *Source) Clone() *Source {
	out := &Source{
		ID:        s.ID,
		TypeName:  s.TypeName,
		IsDefault: s.IsDefault,
		Groups:    make([]*Group, len(s.Groups)),
	}
	for i, g := range s.Groups {
		out.Groups[i] = g.Clone()
	}
	return out
}
