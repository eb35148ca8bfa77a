// Package index maintains sorted buckets of record ids keyed by section.
//
// Each bucket is kept strictly increasing under a Comparator, which must be
// a total order over ids (ties broken by raw id). Bulk loads append and
// then sort once; single-record maintenance uses binary search.
//
// An Index is not safe for concurrent use. The engine only mutates it from
// the access gate and guards reads with its own lock.
package index

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"

	"github.com/kabili207/contactindex/core"
)

// CatchAllKey sorts after every other section key.
const CatchAllKey = "#"

// Comparator orders two ids within a bucket. It must return 0 only when
// a == b.
type Comparator func(a, b core.RecordID) int

// Index is a set of sorted buckets.
type Index struct {
	name    string
	cmp     Comparator
	log     *slog.Logger
	buckets map[string][]core.RecordID
}

// New creates an empty index. logger may be nil.
func New(name string, cmp Comparator, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		name:    name,
		cmp:     cmp,
		log:     logger.With("index", name),
		buckets: make(map[string][]core.RecordID),
	}
}

// Name returns the index name used for logging and persistence.
func (x *Index) Name() string {
	return x.name
}

// Append adds id to the end of the bucket without sorting. Use during a
// bulk load and finish with SortAll.
func (x *Index) Append(key string, id core.RecordID) {
	x.buckets[key] = append(x.buckets[key], id)
}

// SortAll sorts every bucket and drops duplicate ids.
func (x *Index) SortAll() {
	for key, ids := range x.buckets {
		slices.SortFunc(ids, x.cmp)
		x.buckets[key] = slices.CompactFunc(ids, func(a, b core.RecordID) bool { return a == b })
	}
}

// Insert files id under key at its sorted position, creating the bucket if
// needed. It returns false if id is already in the bucket.
func (x *Index) Insert(id core.RecordID, key string) bool {
	ids := x.buckets[key]
	pos, found := slices.BinarySearchFunc(ids, id, x.cmp)
	if found {
		x.log.Debug("id already filed", "id", id, "key", key)
		return false
	}
	x.buckets[key] = slices.Insert(ids, pos, id)
	return true
}

// Delete removes id from the bucket named key. A bucket left empty is
// removed. Deleting an id that is not in the bucket is logged and ignored.
func (x *Index) Delete(id core.RecordID, key string) bool {
	ids, ok := x.buckets[key]
	if !ok {
		x.log.Warn("delete from missing bucket", "id", id, "key", key)
		return false
	}
	pos, found := slices.BinarySearchFunc(ids, id, x.cmp)
	if !found || ids[pos] != id {
		// The comparator can disagree with the stored order when the sort
		// field changed after the id was filed.
		pos = slices.Index(ids, id)
		if pos < 0 {
			x.log.Warn("delete of id not in bucket", "id", id, "key", key)
			return false
		}
		x.log.Debug("id found out of order", "id", id, "key", key)
	}
	ids = slices.Delete(ids, pos, pos+1)
	if len(ids) == 0 {
		delete(x.buckets, key)
	} else {
		x.buckets[key] = ids
	}
	return true
}

// KeyOf returns the first key (in Keys order) whose bucket holds id.
func (x *Index) KeyOf(id core.RecordID) (string, bool) {
	for _, key := range x.Keys() {
		if slices.Contains(x.buckets[key], id) {
			return key, true
		}
	}
	return "", false
}

// Contains reports whether id is filed under key.
func (x *Index) Contains(id core.RecordID, key string) bool {
	return slices.Contains(x.buckets[key], id)
}

// Keys returns the populated section keys in jump-list order: ascending,
// with CatchAllKey last.
func (x *Index) Keys() []string {
	keys := slices.Collect(maps.Keys(x.buckets))
	slices.SortFunc(keys, CompareKeys)
	return keys
}

// CompareKeys orders section keys with CatchAllKey after everything else.
func CompareKeys(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == CatchAllKey:
		return 1
	case b == CatchAllKey:
		return -1
	default:
		return cmp.Compare(a, b)
	}
}

// Bucket returns a copy of the bucket named key, or nil.
func (x *Index) Bucket(key string) []core.RecordID {
	return slices.Clone(x.buckets[key])
}

// Buckets returns a deep copy of every bucket.
func (x *Index) Buckets() map[string][]core.RecordID {
	out := make(map[string][]core.RecordID, len(x.buckets))
	for key, ids := range x.buckets {
		out[key] = slices.Clone(ids)
	}
	return out
}

// Restore replaces the index contents verbatim. Empty buckets are dropped.
func (x *Index) Restore(buckets map[string][]core.RecordID) {
	x.buckets = make(map[string][]core.RecordID, len(buckets))
	for key, ids := range buckets {
		if len(ids) > 0 {
			x.buckets[key] = slices.Clone(ids)
		}
	}
}

// Len returns the number of filed ids across all buckets.
func (x *Index) Len() int {
	n := 0
	for _, ids := range x.buckets {
		n += len(ids)
	}
	return n
}

// Reset removes every bucket.
func (x *Index) Reset() {
	clear(x.buckets)
}

// IsSorted reports whether every bucket is strictly increasing under the
// comparator.
func (x *Index) IsSorted() bool {
	for _, ids := range x.buckets {
		for i := 1; i < len(ids); i++ {
			if x.cmp(ids[i-1], ids[i]) >= 0 {
				return false
			}
		}
	}
	return true
}
