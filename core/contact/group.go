package contact

import (
	"slices"

	"github.com/kabili207/contactindex/core"
)

// Group is a named set of contacts within one source.
type Group struct {
	ID       core.RecordID
	SourceID core.RecordID
	Name     string

	// IsMainAggregate is set for the "All Contacts" group of the aggregate
	// source. Its Count is the sum over the aggregated groups rather than
	// the size of its own member set.
	IsMainAggregate bool

	members   map[core.RecordID]struct{}
	aggregate func() int
}

// NewGroup creates an empty group.
func NewGroup(id, sourceID core.RecordID, name string) *Group {
	return &Group{
		ID:       id,
		SourceID: sourceID,
		Name:     name,
		members:  make(map[core.RecordID]struct{}),
	}
}

// GroupFromFields builds a group and its member set from a store record.
func GroupFromFields(f GroupFields) *Group {
	g := NewGroup(f.ID, f.SourceID, f.Name)
	for _, id := range f.MemberIDs {
		g.members[id] = struct{}{}
	}
	return g
}

// Fields returns the store representation of the group.
func (g *Group) Fields() GroupFields {
	return GroupFields{
		ID:        g.ID,
		SourceID:  g.SourceID,
		Name:      g.Name,
		MemberIDs: g.MemberIDs(),
	}
}

// AddMember adds a contact to the group. Adding twice is a no-op.
func (g *Group) AddMember(id core.RecordID) {
	g.members[id] = struct{}{}
}

// RemoveMember removes a contact. Removing a non-member is a no-op.
func (g *Group) RemoveMember(id core.RecordID) {
	delete(g.members, id)
}

// HasMember reports whether the contact belongs to the group.
func (g *Group) HasMember(id core.RecordID) bool {
	_, ok := g.members[id]
	return ok
}

// MemberIDs returns the members in ascending id order.
func (g *Group) MemberIDs() []core.RecordID {
	ids := make([]core.RecordID, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Count returns the member count of the group.
func (g *Group) Count() int {
	if g.IsMainAggregate && g.aggregate != nil {
		return g.aggregate()
	}
	return len(g.members)
}

// IsSynthetic reports whether the group was created by this module rather
// than read from the store.
func (g *Group) IsSynthetic() bool {
	return g.ID.IsReserved()
}

// Clone returns an independent copy. A main aggregate's count is frozen
// at the time of the call.
func (g *Group) Clone() *Group {
	out := NewGroup(g.ID, g.SourceID, g.Name)
	out.IsMainAggregate = g.IsMainAggregate
	for id := range g.members {
		out.members[id] = struct{}{}
	}
	if g.IsMainAggregate && g.aggregate != nil {
		n := g.aggregate()
		out.aggregate = func() int { return n }
	}
	return out
}
