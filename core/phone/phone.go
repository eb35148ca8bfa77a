// Package phone provides reverse lookup of contacts by phone number.
//
// Numbers are normalized by keeping only their digits. Contacts are filed
// in digit-prefix buckets (one per distinct leading digit of their
// numbers), and an authoritative number map answers exact lookups. A
// bounded LRU cache sits in front of both; it is an optimization only and
// is repopulated on miss.
package phone

import (
	"log/slog"
	"maps"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/index"
	"github.com/kabili207/contactindex/core/textnorm"
)

// DefaultCacheSize is the default capacity of the lookup cache.
const DefaultCacheSize = 256

// Normalize reduces a phone number to its lookup key: full-width digits
// are folded to ASCII and every non-digit is removed. Normalize is
// idempotent.
func Normalize(number string) string {
	return textnorm.DigitsOnly(number)
}

// SectionKey is the bucket a normalized number is filed under.
func SectionKey(normalized string) string {
	if normalized == "" {
		return index.CatchAllKey
	}
	return normalized[:1]
}

// Resolver returns the normalized numbers of a contact, or false if the
// contact is unknown.
type Resolver func(id core.RecordID) ([]string, bool)

// Index is the phone lookup structure. It is not safe for concurrent
// mutation; Lookup may run concurrently with other Lookups.
type Index struct {
	log     *slog.Logger
	buckets *index.Index
	numbers map[string]core.RecordID
	noPhone map[core.RecordID]struct{}
	cache   *lru.Cache[string, core.RecordID]
	resolve Resolver
}

// NewIndex creates an empty phone index. cmp orders contacts within a
// digit bucket; resolve is used for the bucket-scan fallback.
func NewIndex(cmp index.Comparator, resolve Resolver, cacheSize int, logger *slog.Logger) *Index {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, core.RecordID](cacheSize)
	return &Index{
		log:     logger,
		buckets: index.New("by-phone", cmp, logger),
		numbers: make(map[string]core.RecordID),
		noPhone: make(map[core.RecordID]struct{}),
		cache:   cache,
		resolve: resolve,
	}
}

// Buckets exposes the digit-prefix buckets.
func (p *Index) Buckets() *index.Index {
	return p.buckets
}

// Keys returns the distinct bucket keys of a set of normalized numbers in
// first-seen order.
func Keys(numbers []string) []string {
	var keys []string
	for _, n := range numbers {
		if k := SectionKey(n); !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Add files a contact under each leading digit of its numbers and maps
// every number to it. Contacts without numbers go to the no-phone set.
func (p *Index) Add(id core.RecordID, numbers []string) {
	if len(numbers) == 0 {
		p.noPhone[id] = struct{}{}
		return
	}
	for _, key := range Keys(numbers) {
		p.buckets.Insert(id, key)
	}
	p.mapNumbers(id, numbers)
}

// Append is Add for bulk loads; call SortAll when done.
func (p *Index) Append(id core.RecordID, numbers []string) {
	if len(numbers) == 0 {
		p.noPhone[id] = struct{}{}
		return
	}
	for _, key := range Keys(numbers) {
		p.buckets.Append(key, id)
	}
	p.mapNumbers(id, numbers)
}

// SortAll finishes a bulk load.
func (p *Index) SortAll() {
	p.buckets.SortAll()
}

func (p *Index) mapNumbers(id core.RecordID, numbers []string) {
	for _, n := range numbers {
		if prev, ok := p.numbers[n]; ok && prev != id {
			p.log.Debug("number shared by contacts", "number", n, "kept", prev, "other", id)
			continue
		}
		p.numbers[n] = id
	}
}

// Remove unfiles a contact using the numbers it was filed with.
func (p *Index) Remove(id core.RecordID, numbers []string) {
	delete(p.noPhone, id)
	for _, key := range Keys(numbers) {
		p.buckets.Delete(id, key)
	}
	for _, n := range numbers {
		if p.numbers[n] == id {
			delete(p.numbers, n)
		}
		p.cache.Remove(n)
	}
}

// Lookup returns the contact owning the number. The number is normalized
// first, so formatted input is accepted.
func (p *Index) Lookup(number string) (core.RecordID, bool) {
	n := Normalize(number)
	if n == "" {
		return 0, false
	}
	if id, ok := p.cache.Get(n); ok {
		return id, true
	}
	id, ok := p.numbers[n]
	if !ok {
		id, ok = p.scan(n)
	}
	if ok {
		p.cache.Add(n, id)
	}
	return id, ok
}

// scan walks the digit bucket for n asking the resolver for each
// contact's numbers.
func (p *Index) scan(n string) (core.RecordID, bool) {
	if p.resolve == nil {
		return 0, false
	}
	for _, id := range p.buckets.Bucket(SectionKey(n)) {
		numbers, ok := p.resolve(id)
		if ok && slices.Contains(numbers, n) {
			return id, true
		}
	}
	return 0, false
}

// NoPhone returns the contacts without a usable number, ascending.
func (p *Index) NoPhone() []core.RecordID {
	ids := slices.Collect(maps.Keys(p.noPhone))
	slices.Sort(ids)
	return ids
}

// RestoreNoPhone replaces the no-phone set.
func (p *Index) RestoreNoPhone(ids []core.RecordID) {
	p.noPhone = make(map[core.RecordID]struct{}, len(ids))
	for _, id := range ids {
		p.noPhone[id] = struct{}{}
	}
}

// Numbers returns a copy of the number map.
func (p *Index) Numbers() map[string]core.RecordID {
	return maps.Clone(p.numbers)
}

// RestoreNumbers replaces the number map and empties the cache.
func (p *Index) RestoreNumbers(numbers map[string]core.RecordID) {
	p.numbers = maps.Clone(numbers)
	if p.numbers == nil {
		p.numbers = make(map[string]core.RecordID)
	}
	p.cache.Purge()
}

// CacheLen returns the number of cached lookups.
func (p *Index) CacheLen() int {
	return p.cache.Len()
}

// Reset empties the index.
func (p *Index) Reset() {
	p.buckets.Reset()
	clear(p.numbers)
	clear(p.noPhone)
	p.cache.Purge()
}
