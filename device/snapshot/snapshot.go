package snapshot

import (
	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
)

// Part names. They are stable across releases; renaming one orphans the
// data written under the old name.
const (
	PartByFirstName  = "by-first-name"
	PartByLastName   = "by-last-name"
	PartByPhone      = "by-phone"
	PartPhoneNumbers = "phone-numbers"
	PartContacts     = "contacts"
	PartSources      = "sources"
)

// Parts lists every part in the order they are written.
var Parts = []string{
	PartContacts,
	PartSources,
	PartByFirstName,
	PartByLastName,
	PartByPhone,
	PartPhoneNumbers,
}

// Buckets is the persisted form of a sorted index: section key to ids in
// bucket order.
type Buckets map[string][]core.RecordID

// NumberTable is the persisted phone number map and no-phone set.
type NumberTable struct {
	Numbers map[string]core.RecordID `json:"numbers"`
	NoPhone []core.RecordID          `json:"no_phone"`
}

// SourceTable is the persisted source list. Aggregate groups are not
// stored; they are rebuilt from the contact table.
type SourceTable struct {
	DefaultSource core.RecordID          `json:"default_source"`
	Sources       []contact.SourceFields `json:"sources"`
	Groups        []contact.GroupFields  `json:"groups"`
}

// Snapshot is the full derived state of the engine at one point in time.
type Snapshot struct {
	ByFirstName Buckets
	ByLastName  Buckets
	ByPhone     Buckets
	Numbers     NumberTable
	Contacts    []*contact.Contact
	Sources     SourceTable
}

// Result is what Unarchive recovered.
type Result struct {
	Snapshot *Snapshot

	// Cold names the parts that were missing or corrupt. Their fields in
	// Snapshot are empty.
	Cold map[string]bool

	// Errors holds one core.ErrPersistenceCorrupt-wrapped error per
	// corrupt part. Missing parts are not errors.
	Errors []error
}

// IsCold reports whether part was not recovered.
func (r *Result) IsCold(part string) bool {
	return r.Cold[part]
}

// Empty reports whether nothing at all was recovered.
func (r *Result) Empty() bool {
	return len(r.Cold) == len(Parts)
}
