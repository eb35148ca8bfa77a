package addressbook

import (
	"slices"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
	"github.com/kabili207/contactindex/core/index"
	"github.com/kabili207/contactindex/core/phone"
	"github.com/kabili207/contactindex/device/snapshot"
)

// restore builds a state from an unarchived snapshot. It returns false
// when the contact or source table is unusable, in which case a full load
// is required. Otherwise it returns the parts that had to be rebuilt from
// the contact table and should be archived again.
func (b *Book) restore(res *snapshot.Result) (*state, []string, bool) {
	if res.IsCold(snapshot.PartContacts) || res.IsCold(snapshot.PartSources) {
		return nil, nil, false
	}
	snap := res.Snapshot
	st := b.newState()
	st.addSources(snap.Sources.Sources, snap.Sources.Groups, snap.Sources.DefaultSource)
	for _, c := range snap.Contacts {
		if c == nil || c.ID.IsReserved() {
			continue
		}
		st.put(c, b.coll)
	}

	var rebuilt []string
	restoreName := func(part string, o core.SortOrdering, buckets snapshot.Buckets) {
		x := st.nameIndex(o)
		if !res.IsCold(part) {
			x.Restore(buckets)
			if st.consistent(x, nameKeys(o)) {
				return
			}
			b.log.Warn("restored index inconsistent with contact table", "index", part)
		}
		st.rebuildName(o)
		rebuilt = append(rebuilt, part)
	}
	restoreName(snapshot.PartByFirstName, core.FirstNameFirst, snap.ByFirstName)
	restoreName(snapshot.PartByLastName, core.LastNameFirst, snap.ByLastName)

	phonesWarm := !res.IsCold(snapshot.PartByPhone) && !res.IsCold(snapshot.PartPhoneNumbers)
	if phonesWarm {
		st.phones.Buckets().Restore(snap.ByPhone)
		st.phones.RestoreNumbers(snap.Numbers.Numbers)
		st.phones.RestoreNoPhone(snap.Numbers.NoPhone)
		phonesWarm = st.consistent(st.phones.Buckets(), phoneKeys) && st.numbersConsistent()
		if !phonesWarm {
			b.log.Warn("restored phone index inconsistent with contact table")
		}
	}
	if !phonesWarm {
		st.rebuildPhones()
		rebuilt = append(rebuilt, snapshot.PartByPhone, snapshot.PartPhoneNumbers)
	}
	return st, rebuilt, true
}

// consistent checks that x is sorted and files every contact exactly
// under the keys keysOf derives from the contact table: no unknown ids,
// no id twice in one bucket, no id in a bucket it does not belong to and
// none missing.
func (st *state) consistent(x *index.Index, keysOf func(*contact.Contact) []string) bool {
	if !x.IsSorted() {
		return false
	}
	type filing struct {
		key string
		id  core.RecordID
	}
	seen := make(map[filing]struct{})
	for key, ids := range x.Buckets() {
		for _, id := range ids {
			c, ok := st.contacts[id]
			if !ok || !slices.Contains(keysOf(c), key) {
				return false
			}
			f := filing{key, id}
			if _, dup := seen[f]; dup {
				return false
			}
			seen[f] = struct{}{}
		}
	}
	want := 0
	for _, c := range st.contacts {
		want += len(keysOf(c))
	}
	return len(seen) == want
}

func nameKeys(o core.SortOrdering) func(*contact.Contact) []string {
	return func(c *contact.Contact) []string {
		return []string{c.SectionKey(o)}
	}
}

func phoneKeys(c *contact.Contact) []string {
	return phone.Keys(c.Phones)
}

func (st *state) numbersConsistent() bool {
	for _, id := range st.phones.Numbers() {
		if _, ok := st.contacts[id]; !ok {
			return false
		}
	}
	for _, id := range st.phones.NoPhone() {
		if _, ok := st.contacts[id]; !ok {
			return false
		}
	}
	return true
}
