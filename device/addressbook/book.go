// Package addressbook is the contact index engine. A Book loads every
// contact from an external record store, keeps sorted section indices and
// a phone lookup over them, applies single-record changes incrementally,
// and persists its derived state between runs.
//
// All access to the record store goes through one access gate. Reads are
// served from the most recent fully applied state without queueing.
package addressbook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
	"github.com/kabili207/contactindex/core/notify"
	"github.com/kabili207/contactindex/core/phone"
	"github.com/kabili207/contactindex/core/textnorm"
	"github.com/kabili207/contactindex/device/gate"
	"github.com/kabili207/contactindex/device/snapshot"
)

// Index names accepted by Bucket.
const (
	IndexByFirstName = snapshot.PartByFirstName
	IndexByLastName  = snapshot.PartByLastName
	IndexByPhone     = snapshot.PartByPhone
)

// DefaultProgressStep is the minimum fraction between progress events.
const DefaultProgressStep = 0.01

// Config configures a Book.
type Config struct {
	// SortOrdering selects the primary section index.
	SortOrdering core.SortOrdering

	// PhoneCacheSize bounds the phone lookup cache. Default: 256.
	PhoneCacheSize int

	// ProgressStep is the minimum fraction of contacts between load
	// progress events. Default: 0.01.
	ProgressStep float64

	// Archive persists snapshots. Nil disables persistence.
	Archive *snapshot.Archiver

	// ReloadOnChange reloads everything when the store reports an
	// external change.
	ReloadOnChange bool

	// Logger for engine events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Book is the contact index engine.
type Book struct {
	cfg    Config
	log    *slog.Logger
	store  contact.RecordStore
	gate   *gate.Gate
	coll   *textnorm.Collator // gate goroutine only
	events notify.Fanout

	counters Counters

	mu       sync.RWMutex
	st       *state
	status   core.Status
	loadedAt time.Time
	restored bool // an archive restore was attempted

	errMu   sync.Mutex
	onError func(error)
}

// New creates a Book over store. Call Start before submitting work.
func New(store contact.RecordStore, cfg Config) *Book {
	if cfg.PhoneCacheSize <= 0 {
		cfg.PhoneCacheSize = phone.DefaultCacheSize
	}
	if cfg.ProgressStep <= 0 || cfg.ProgressStep > 1 {
		cfg.ProgressStep = DefaultProgressStep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Book{
		cfg:    cfg,
		log:    logger.WithGroup("addressbook"),
		store:  store,
		coll:   textnorm.NewCollator(),
		status: core.StatusInitializing,
	}
	b.gate = gate.New(store.Open, gate.Config{Logger: logger})
	b.gate.SetOnOffline(b.handleOffline)
	b.st = b.newState()
	return b
}

func (b *Book) newState() *state {
	return newState(b.cfg.SortOrdering, b.cfg.PhoneCacheSize, b.log)
}

// Start starts the access gate and subscribes to external changes.
func (b *Book) Start(ctx context.Context) {
	b.gate.Start(ctx)
	b.store.SetOnExternalChange(b.handleExternalChange)
	b.log.Info("address book started", "ordering", b.cfg.SortOrdering)
}

// Close stops the gate, archives the current state when online and
// closes the archive.
func (b *Book) Close() error {
	b.store.SetOnExternalChange(nil)
	b.gate.Stop()

	if b.cfg.Archive == nil {
		return nil
	}
	var err error
	if b.Status() == core.StatusOnline {
		if err = b.cfg.Archive.Archive(b.st.snapshot()); err != nil {
			b.counters.ArchiveErrors.Add(1)
			b.log.Warn("archiving on close", "error", err)
		}
	}
	if cerr := b.cfg.Archive.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// SetOnError sets the diagnostic error channel. Incremental failures are
// reported here as well as returned.
func (b *Book) SetOnError(fn func(error)) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	b.onError = fn
}

func (b *Book) reportError(err error) {
	b.errMu.Lock()
	fn := b.onError
	b.errMu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Subscribe registers an observer of load and update events. Events are
// delivered on the gate goroutine, so observers must not call blocking
// Book methods such as Insert or LoadSync.
func (b *Book) Subscribe(o notify.Observer) (unsubscribe func()) {
	return b.events.Subscribe(o)
}

func (b *Book) emit(e notify.Event) {
	b.events.Observe(e)
}

// RequestAccess asks the store for permission and reports the answer to
// fn from a new goroutine.
func (b *Book) RequestAccess(ctx context.Context, fn func(granted bool)) {
	go func() {
		granted, err := b.store.RequestAccess(ctx)
		if err != nil {
			b.reportError(err)
		}
		if !granted {
			b.setStatus(core.StatusOffline)
		}
		if fn != nil {
			fn(granted)
		}
	}()
}

// run submits op and waits for it, reporting any failure exactly once on
// the error channel.
func (b *Book) run(ctx context.Context, op gate.Op) error {
	result := make(chan error, 1)
	b.gate.Go(ctx, op, func(err error) {
		if err != nil {
			b.reportError(err)
		}
		result <- err
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Book) handleOffline(err error) {
	b.log.Warn("record store offline", "error", err)
	b.setStatus(core.StatusOffline)
}

func (b *Book) handleExternalChange() {
	b.counters.ExternalChanges.Add(1)
	b.log.Info("record store changed externally", "reload", b.cfg.ReloadOnChange)
	b.gate.Invalidate()
	b.gate.Go(context.Background(), func(ctx context.Context, h contact.Handle) error {
		if b.cfg.Archive != nil {
			if err := b.cfg.Archive.DeleteArchive(); err != nil {
				b.reportError(err)
			}
		}
		if !b.cfg.ReloadOnChange {
			return nil
		}
		return b.load(ctx, h, false)
	}, func(err error) {
		if err != nil {
			b.reportError(err)
		}
	})
}

func (b *Book) setStatus(s core.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

// Status returns the engine status.
func (b *Book) Status() core.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// LoadedAt returns when the current state was installed.
func (b *Book) LoadedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loadedAt
}

// Ordering returns the configured primary sort ordering.
func (b *Book) Ordering() core.SortOrdering {
	return b.cfg.SortOrdering
}

// Pending returns the number of operations waiting on the gate.
func (b *Book) Pending() int {
	return b.gate.Pending()
}

// ContactForID returns a copy of the contact with the given id.
// core.NewContactID yields a blank placeholder in the default source.
func (b *Book) ContactForID(id core.RecordID) (*contact.Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if id == core.NewContactID {
		return &contact.Contact{ID: core.NewContactID, SourceID: b.st.defaultSource}, true
	}
	c, ok := b.st.contacts[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// ContactForPhoneNumber returns a copy of the contact owning number. Formatting in
// number is ignored.
func (b *Book) ContactForPhoneNumber(number string) (*contact.Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.st.phones.Lookup(number)
	if !ok {
		return nil, false
	}
	c, ok := b.st.contacts[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Sources returns copies of every source, the aggregate source first.
func (b *Book) Sources() []*contact.Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*contact.Source, 0, len(b.st.sources)+1)
	out = append(out, b.st.aggregate.Clone())
	for _, s := range b.st.sources {
		out = append(out, s.Clone())
	}
	return out
}

// SourceForID returns a copy of the source, or nil.
func (b *Book) SourceForID(id core.RecordID) *contact.Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s := b.st.source(id); s != nil {
		return s.Clone()
	}
	return nil
}

// SourceForContactID returns a copy of the source holding the contact.
func (b *Book) SourceForContactID(id core.RecordID) *contact.Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.st.contacts[id]
	if !ok {
		return nil
	}
	if s := b.st.source(c.SourceID); s != nil {
		return s.Clone()
	}
	return nil
}

// DefaultSource returns a copy of the source new contacts are saved to.
func (b *Book) DefaultSource() *contact.Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s := b.st.source(b.st.defaultSource); s != nil {
		return s.Clone()
	}
	return nil
}

// GroupForID returns a copy of the group. core.GroupAggregate yields the
// main aggregate group spanning every source.
func (b *Book) GroupForID(id core.RecordID) *contact.Group {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if id == core.GroupAggregate {
		return b.st.aggregate.Aggregate().Clone()
	}
	for _, s := range b.st.sources {
		if g := s.GroupForID(id); g != nil {
			return g.Clone()
		}
	}
	return nil
}

// SectionKeys returns the populated sections of the primary index in
// jump-list order.
func (b *Book) SectionKeys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.nameIndex(b.cfg.SortOrdering).Keys()
}

// ContactIDs returns the ids filed under key in the primary index.
func (b *Book) ContactIDs(key string) []core.RecordID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.nameIndex(b.cfg.SortOrdering).Bucket(key)
}

// InverseContactIDs returns the ids filed under key in the index of the
// other ordering.
func (b *Book) InverseContactIDs(key string) []core.RecordID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.nameIndex(b.cfg.SortOrdering.Inverse()).Bucket(key)
}

// IndexKeys returns the populated sections of a named index.
func (b *Book) IndexKeys(name string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch name {
	case IndexByFirstName:
		return b.st.byFirst.Keys()
	case IndexByLastName:
		return b.st.byLast.Keys()
	case IndexByPhone:
		return b.st.phones.Buckets().Keys()
	}
	return nil
}

// Bucket returns one bucket of a named index, or nil.
func (b *Book) Bucket(name, key string) []core.RecordID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch name {
	case IndexByFirstName:
		return b.st.byFirst.Bucket(key)
	case IndexByLastName:
		return b.st.byLast.Bucket(key)
	case IndexByPhone:
		return b.st.phones.Buckets().Bucket(key)
	}
	return nil
}

// ContactsWithoutPhone returns the contacts with no usable number.
func (b *Book) ContactsWithoutPhone() []core.RecordID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.phones.NoPhone()
}

// ContactsCount returns the number of contacts.
func (b *Book) ContactsCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.st.contacts)
}

// ContactIDsSorted returns every contact id in ascending order.
func (b *Book) ContactIDsSorted() []core.RecordID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.sortedIDs()
}

// Counters returns the engine counters.
func (b *Book) Counters() CountersSnapshot {
	return b.counters.Snapshot()
}

// GateStats returns the access gate counters.
func (b *Book) GateStats() gate.Stats {
	return b.gate.Stats()
}
