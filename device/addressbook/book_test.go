package addressbook

import (
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
	"github.com/kabili207/contactindex/core/notify"
	"github.com/kabili207/contactindex/device/recordstore"
)

func testSources(m *recordstore.Memory) {
	m.AddSource(contact.SourceFields{ID: 1, TypeName: "local"})
	m.AddSource(contact.SourceFields{ID: 2, TypeName: "carddav"})
	m.AddGroup(contact.GroupFields{ID: 10, SourceID: 1, Name: "Friends", MemberIDs: []core.RecordID{1, 3}})
}

func testRecords() []contact.Fields {
	return []contact.Fields{
		{ID: 1, SourceID: 1, FirstName: "Zoë", LastName: "Álvarez",
			Phones: []contact.Phone{{Label: "mobile", Number: "+1 (555) 012-3456"}}},
		{ID: 2, SourceID: 1, FirstName: "Ann", LastName: "Baker"},
		{ID: 3, SourceID: 1, FirstName: "Bob", LastName: "Carter",
			Phones: []contact.Phone{{Number: "555 777 8888"}}},
		{ID: 4, SourceID: 2, FirstName: "Carl", LastName: "Álvarez",
			Phones: []contact.Phone{{Number: "+44 20 7946 0000"}}},
		{ID: 5, SourceID: 2, Organization: "Acme"},
		{ID: 6, SourceID: 2, FirstName: "Émile", LastName: "Zola"},
	}
}

func seededStore() *recordstore.Memory {
	m := recordstore.NewMemory()
	testSources(m)
	for _, f := range testRecords() {
		m.Put(f)
	}
	return m
}

func newTestBook(t *testing.T, store contact.RecordStore, cfg Config) *Book {
	t.Helper()
	b := New(store, cfg)
	b.Start(context.Background())
	t.Cleanup(func() { b.Close() })
	return b
}

// recorder collects events delivered to an observer.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Observe(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) take() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func dumpIndices(b *Book) map[string]map[string][]core.RecordID {
	out := make(map[string]map[string][]core.RecordID)
	for _, name := range []string{IndexByFirstName, IndexByLastName, IndexByPhone} {
		buckets := make(map[string][]core.RecordID)
		for _, key := range b.IndexKeys(name) {
			buckets[key] = b.Bucket(name, key)
		}
		out[name] = buckets
	}
	return out
}

func TestBook_LoadBuildsIndices(t *testing.T) {
	b := newTestBook(t, seededStore(), Config{SortOrdering: core.LastNameFirst})
	if b.Status() != core.StatusInitializing {
		t.Errorf("Status() before load = %v", b.Status())
	}
	if err := b.LoadSync(context.Background()); err != nil {
		t.Fatalf("LoadSync failed: %v", err)
	}
	if b.Status() != core.StatusOnline {
		t.Errorf("Status() = %v, want online", b.Status())
	}
	if b.LoadedAt().IsZero() {
		t.Error("LoadedAt not recorded")
	}
	if b.ContactsCount() != 6 {
		t.Errorf("ContactsCount() = %d, want 6", b.ContactsCount())
	}

	if keys := b.SectionKeys(); !slices.Equal(keys, []string{"A", "B", "C", "Z"}) {
		t.Errorf("SectionKeys() = %v", keys)
	}
	if ids := b.ContactIDs("A"); !slices.Equal(ids, []core.RecordID{5, 4, 1}) {
		t.Errorf("ContactIDs(A) = %v, want [5 4 1]", ids)
	}
	if ids := b.InverseContactIDs("A"); !slices.Equal(ids, []core.RecordID{5, 2}) {
		t.Errorf("InverseContactIDs(A) = %v, want [5 2]", ids)
	}
	if ids := b.InverseContactIDs("E"); !slices.Equal(ids, []core.RecordID{6}) {
		t.Errorf("InverseContactIDs(E) = %v, want [6]", ids)
	}
	if ids := b.ContactsWithoutPhone(); !slices.Equal(ids, []core.RecordID{2, 5, 6}) {
		t.Errorf("ContactsWithoutPhone() = %v", ids)
	}
}

func TestBook_PhoneLookup(t *testing.T) {
	b := newTestBook(t, seededStore(), Config{})
	b.LoadSync(context.Background())

	tests := []struct {
		number string
		want   core.RecordID
		found  bool
	}{
		{"15550123456", 1, true},
		{"+1 (555) 012-3456", 1, true},
		{"555-012-3456", 0, false},
		{"5557778888", 3, true},
		{"+44 20 7946 0000", 4, true},
		{"", 0, false},
	}
	for _, tt := range tests {
		c, ok := b.ContactForPhoneNumber(tt.number)
		if ok != tt.found {
			t.Errorf("ContactForPhoneNumber(%q) found = %v, want %v", tt.number, ok, tt.found)
			continue
		}
		if ok && c.ID != tt.want {
			t.Errorf("ContactForPhoneNumber(%q) = %d, want %d", tt.number, c.ID, tt.want)
		}
	}
}

func TestBook_SourcesAndGroups(t *testing.T) {
	b := newTestBook(t, seededStore(), Config{})
	b.LoadSync(context.Background())

	sources := b.Sources()
	if len(sources) != 3 || sources[0].ID != core.SourceAggregate {
		t.Fatalf("Sources() = %d entries, first %d", len(sources), sources[0].ID)
	}
	if n := sources[0].Aggregate().Count(); n != 6 {
		t.Errorf("aggregate count = %d, want 6", n)
	}
	if n := b.SourceForID(1).AggregateCount(); n != 3 {
		t.Errorf("source 1 count = %d, want 3", n)
	}
	if d := b.DefaultSource(); d == nil || d.ID != 1 || !d.IsDefault {
		t.Errorf("DefaultSource() = %+v", d)
	}
	if s := b.SourceForContactID(4); s == nil || s.ID != 2 {
		t.Errorf("SourceForContactID(4) = %+v", s)
	}
	if s := b.SourceForContactID(99); s != nil {
		t.Errorf("SourceForContactID(99) = %+v, want nil", s)
	}
	g := b.GroupForID(10)
	if g == nil || g.Name != "Friends" || !slices.Equal(g.MemberIDs(), []core.RecordID{1, 3}) {
		t.Errorf("GroupForID(10) = %+v", g)
	}
	if g := b.GroupForID(core.GroupAggregate); g == nil || g.Count() != 6 {
		t.Errorf("GroupForID(aggregate) = %+v", g)
	}
}

func TestBook_BulkMatchesIncremental(t *testing.T) {
	bulk := newTestBook(t, seededStore(), Config{})
	if err := bulk.LoadSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	store := recordstore.NewMemory()
	testSources(store)
	incremental := newTestBook(t, store, Config{})
	if err := incremental.LoadSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	records := testRecords()
	rng := rand.New(rand.NewPCG(3, 4))
	rng.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })
	for _, f := range records {
		store.Put(f)
		if err := incremental.Insert(context.Background(), f.ID); err != nil {
			t.Fatalf("Insert(%d) failed: %v", f.ID, err)
		}
	}

	if got, want := dumpIndices(incremental), dumpIndices(bulk); !reflect.DeepEqual(got, want) {
		t.Errorf("incremental indices = %v\nbulk indices = %v", got, want)
	}
	if !slices.Equal(incremental.ContactsWithoutPhone(), bulk.ContactsWithoutPhone()) {
		t.Error("no-phone sets differ")
	}
}

func TestBook_LoadProgress(t *testing.T) {
	tests := []struct {
		name     string
		contacts int
		maxCalls int
	}{
		{"empty", 0, 1},
		{"single", 1, 1},
		{"many", 250, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := recordstore.NewMemory()
			store.AddSource(contact.SourceFields{ID: 1})
			for i := range tt.contacts {
				store.Put(contact.Fields{ID: core.RecordID(i + 1), SourceID: 1, FirstName: "Name"})
			}
			b := newTestBook(t, store, Config{ProgressStep: 0.1})

			var fractions []float64
			b.Subscribe(notify.Funcs{OnLoadProgress: func(f float64) { fractions = append(fractions, f) }})
			if err := b.LoadSync(context.Background()); err != nil {
				t.Fatal(err)
			}

			if len(fractions) == 0 || len(fractions) > tt.maxCalls {
				t.Fatalf("got %d progress calls: %v", len(fractions), fractions)
			}
			for i := 1; i < len(fractions); i++ {
				if fractions[i] <= fractions[i-1] {
					t.Errorf("progress not increasing: %v", fractions)
				}
			}
			if last := fractions[len(fractions)-1]; last != 1.0 {
				t.Errorf("final progress = %v, want 1.0", last)
			}
			if slices.Index(fractions, 1.0) != len(fractions)-1 {
				t.Errorf("1.0 reported before the end: %v", fractions)
			}
		})
	}
}

func TestBook_FailedLoadKeepsState(t *testing.T) {
	store := seededStore()
	b := newTestBook(t, store, Config{})
	rec := &recorder{}
	b.Subscribe(rec)
	if err := b.LoadSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec.take()

	store.FailContacts(errors.New("cursor invalidated"), 1)
	err := b.LoadSync(context.Background())
	if !errors.Is(err, core.ErrEnumerationFailed) {
		t.Fatalf("LoadSync err = %v, want ErrEnumerationFailed", err)
	}
	if b.Status() != core.StatusOffline {
		t.Errorf("Status() = %v, want offline", b.Status())
	}
	if b.ContactsCount() != 6 {
		t.Errorf("old state replaced: %d contacts", b.ContactsCount())
	}
	if _, ok := b.ContactForID(1); !ok {
		t.Error("old state unreadable after failed load")
	}

	events := rec.take()
	if len(events) == 0 || events[len(events)-1] != (notify.LoadEnd{Success: false}) {
		t.Errorf("events = %v, want trailing LoadEnd(false)", events)
	}
	if b.Counters().LoadsFailed != 1 {
		t.Errorf("LoadsFailed = %d", b.Counters().LoadsFailed)
	}
}

func TestBook_LoadCallback(t *testing.T) {
	b := newTestBook(t, seededStore(), Config{})
	done := make(chan bool, 1)
	b.Load(context.Background(), func(ok bool) { done <- ok })

	select {
	case ok := <-done:
		if !ok {
			t.Error("load reported failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("load never completed")
	}
}

func TestBook_AccessDenied(t *testing.T) {
	store := seededStore()
	store.SetAccess(false)
	b := newTestBook(t, store, Config{})

	var reported []error
	var mu sync.Mutex
	b.SetOnError(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	})

	done := make(chan bool, 1)
	b.Load(context.Background(), func(ok bool) { done <- ok })
	if ok := <-done; ok {
		t.Fatal("load succeeded without access")
	}
	if b.Status() != core.StatusOffline {
		t.Errorf("Status() = %v, want offline", b.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || !errors.Is(reported[0], core.ErrAccessDenied) {
		t.Errorf("reported = %v, want one ErrAccessDenied", reported)
	}
}

func TestBook_RequestAccess(t *testing.T) {
	store := seededStore()
	store.SetAccess(false)
	b := newTestBook(t, store, Config{})

	granted := make(chan bool, 1)
	b.RequestAccess(context.Background(), func(ok bool) { granted <- ok })
	if <-granted {
		t.Error("access reported granted")
	}
	if b.Status() != core.StatusOffline {
		t.Errorf("Status() = %v, want offline", b.Status())
	}
}

func TestBook_UpdateEvents(t *testing.T) {
	store := seededStore()
	b := newTestBook(t, store, Config{SortOrdering: core.LastNameFirst})
	b.LoadSync(context.Background())
	rec := &recorder{}
	b.Subscribe(rec)
	ctx := context.Background()

	store.Put(contact.Fields{ID: 7, SourceID: 1, FirstName: "Dee", LastName: "Moss"})
	if err := b.Insert(ctx, 7); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	want := []notify.Event{notify.UpdatesBegin{}, notify.Inserted{ID: 7}, notify.UpdatesEnd{}}
	if got := rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("insert events = %v, want %v", got, want)
	}

	if err := b.Delete(ctx, 7); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	want = []notify.Event{notify.UpdatesBegin{}, notify.Removed{ID: 7}, notify.UpdatesEnd{}}
	if got := rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("delete events = %v, want %v", got, want)
	}

	// Unknown ids still produce a balanced, empty update.
	if err := b.Delete(ctx, 99); err != nil {
		t.Fatalf("Delete(99) failed: %v", err)
	}
	want = []notify.Event{notify.UpdatesBegin{}, notify.UpdatesEnd{}}
	if got := rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("empty delete events = %v, want %v", got, want)
	}
}

func TestBook_DeleteLastIDRemovesSection(t *testing.T) {
	b := newTestBook(t, seededStore(), Config{SortOrdering: core.LastNameFirst})
	b.LoadSync(context.Background())

	if err := b.Delete(context.Background(), 6); err != nil {
		t.Fatal(err)
	}
	if slices.Contains(b.SectionKeys(), "Z") {
		t.Errorf("SectionKeys() = %v, Z should be gone", b.SectionKeys())
	}
	if _, ok := b.ContactForID(6); ok {
		t.Error("contact 6 still present")
	}
	if n := b.SourceForID(2).AggregateCount(); n != 2 {
		t.Errorf("source 2 count = %d, want 2", n)
	}
}

func TestBook_DeleteAfterFieldChange(t *testing.T) {
	store := seededStore()
	b := newTestBook(t, store, Config{SortOrdering: core.LastNameFirst})
	b.LoadSync(context.Background())

	// The record's sort field changes in the store before the delete
	// arrives; the stored keys still locate it.
	store.Put(contact.Fields{ID: 3, SourceID: 1, FirstName: "Bob", LastName: "Young"})
	if err := b.Delete(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if ids := b.ContactIDs("C"); len(ids) != 0 {
		t.Errorf("ContactIDs(C) = %v, want empty", ids)
	}
	if ids := b.ContactIDs("Y"); len(ids) != 0 {
		t.Errorf("ContactIDs(Y) = %v, want empty", ids)
	}
	if _, ok := b.ContactForPhoneNumber("5557778888"); ok {
		t.Error("deleted contact still found by phone")
	}
	if g := b.GroupForID(10); g.HasMember(3) {
		t.Error("deleted contact still a group member")
	}
}

func TestBook_ReindexAfterFieldChange(t *testing.T) {
	store := seededStore()
	b := newTestBook(t, store, Config{SortOrdering: core.LastNameFirst})
	b.LoadSync(context.Background())
	rec := &recorder{}
	b.Subscribe(rec)

	store.Put(contact.Fields{ID: 3, SourceID: 1, FirstName: "Bob", LastName: "Young",
		Phones: []contact.Phone{{Number: "555 000 1111"}}})
	if err := b.Reindex(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if ids := b.ContactIDs("C"); len(ids) != 0 {
		t.Errorf("ContactIDs(C) = %v, want empty", ids)
	}
	if ids := b.ContactIDs("Y"); !slices.Equal(ids, []core.RecordID{3}) {
		t.Errorf("ContactIDs(Y) = %v, want [3]", ids)
	}
	if _, ok := b.ContactForPhoneNumber("5557778888"); ok {
		t.Error("old number still resolves")
	}
	if c, ok := b.ContactForPhoneNumber("5550001111"); !ok || c.ID != 3 {
		t.Error("new number does not resolve")
	}
	if g := b.GroupForID(10); !g.HasMember(3) {
		t.Error("re-filed contact lost its group membership")
	}
	want := []notify.Event{notify.UpdatesBegin{}, notify.Removed{ID: 3}, notify.Inserted{ID: 3}, notify.UpdatesEnd{}}
	if got := rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	// A record gone from the store is only removed.
	store.Remove(3)
	if err := b.Reindex(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.ContactForID(3); ok {
		t.Error("contact 3 still present after reindexing a removed record")
	}
}

func TestBook_BatchDeliversOnePair(t *testing.T) {
	store := seededStore()
	b := newTestBook(t, store, Config{})
	b.LoadSync(context.Background())
	rec := &recorder{}
	b.Subscribe(rec)

	store.Put(contact.Fields{ID: 7, SourceID: 1, FirstName: "Dee"})
	store.Put(contact.Fields{ID: 8, SourceID: 2, FirstName: "Eve"})
	if err := b.InsertBatch(context.Background(), []core.RecordID{7, 8}); err != nil {
		t.Fatal(err)
	}
	want := []notify.Event{notify.UpdatesBegin{}, notify.Inserted{ID: 7}, notify.Inserted{ID: 8}, notify.UpdatesEnd{}}
	if got := rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	if err := b.DeleteBatch(context.Background(), []core.RecordID{7, 8}); err != nil {
		t.Fatal(err)
	}
	if b.ContactsCount() != 6 {
		t.Errorf("ContactsCount() = %d, want 6", b.ContactsCount())
	}
}

func TestBook_InsertMissingReportsError(t *testing.T) {
	b := newTestBook(t, seededStore(), Config{})
	b.LoadSync(context.Background())

	var reported []error
	var mu sync.Mutex
	b.SetOnError(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	})

	err := b.Insert(context.Background(), 99)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Insert(99) err = %v, want ErrNotFound", err)
	}
	if err := b.Insert(context.Background(), core.NewContactID); err == nil {
		t.Error("Insert of a reserved id should fail")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 2 {
		t.Errorf("reported %d errors, want 2", len(reported))
	}
}

func TestBook_ExternalChangeReloads(t *testing.T) {
	store := seededStore()
	b := newTestBook(t, store, Config{ReloadOnChange: true})
	b.LoadSync(context.Background())

	loaded := make(chan bool, 4)
	b.Subscribe(notify.Funcs{OnLoadEnd: func(ok bool) { loaded <- ok }})

	store.Put(contact.Fields{ID: 8, SourceID: 2, FirstName: "Eve"})
	store.NotifyExternalChange()

	select {
	case ok := <-loaded:
		if !ok {
			t.Fatal("reload failed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after external change")
	}
	if _, ok := b.ContactForID(8); !ok {
		t.Error("reload did not pick up the new record")
	}
	if store.Opens() != 2 {
		t.Errorf("Opens() = %d, want 2 (handle reopened)", store.Opens())
	}
	if b.Counters().ExternalChanges != 1 {
		t.Errorf("ExternalChanges = %d", b.Counters().ExternalChanges)
	}
}

func TestBook_SingleWriterUnderLoad(t *testing.T) {
	store := seededStore()
	for i := 100; i < 150; i++ {
		store.Put(contact.Fields{ID: core.RecordID(i), SourceID: 1, FirstName: "Guest"})
	}
	b := newTestBook(t, store, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 100; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Insert(ctx, core.RecordID(i))
			if i%5 == 0 {
				b.Delete(ctx, core.RecordID(i))
			}
			b.ContactForPhoneNumber("15550123456")
			b.SectionKeys()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.LoadSync(ctx)
	}()
	wg.Wait()

	if store.MaxConcurrentCalls() != 1 {
		t.Errorf("MaxConcurrentCalls() = %d, want 1", store.MaxConcurrentCalls())
	}
	if store.MaxOpenHandles() != 1 {
		t.Errorf("MaxOpenHandles() = %d, want 1", store.MaxOpenHandles())
	}
}

func TestBook_ContactForIDReturnsCopy(t *testing.T) {
	b := newTestBook(t, seededStore(), Config{})
	b.LoadSync(context.Background())

	c, ok := b.ContactForID(3)
	if !ok {
		t.Fatal("contact 3 not found")
	}
	c.Phones[0] = "9990000000"
	c.FirstName = "Changed"
	if again, _ := b.ContactForID(3); again.Phones[0] != "5557778888" || again.FirstName != "Bob" {
		t.Errorf("stored contact changed through a returned value: %+v", again)
	}
	if byPhone, ok := b.ContactForPhoneNumber("5557778888"); ok {
		byPhone.Phones[0] = "9990000000"
	}

	if err := b.Delete(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	for _, key := range b.IndexKeys(IndexByPhone) {
		if slices.Contains(b.Bucket(IndexByPhone, key), 3) {
			t.Errorf("deleted contact still in phone bucket %q", key)
		}
	}
	if _, ok := b.ContactForPhoneNumber("5557778888"); ok {
		t.Error("deleted contact still found by phone")
	}
}

func TestBook_NewContactPlaceholder(t *testing.T) {
	b := newTestBook(t, seededStore(), Config{})
	b.LoadSync(context.Background())

	c, ok := b.ContactForID(core.NewContactID)
	if !ok || c.ID != core.NewContactID || c.SourceID != 1 {
		t.Errorf("ContactForID(NewContactID) = %+v, %v", c, ok)
	}
	if b.ContactsCount() != 6 {
		t.Errorf("placeholder added to the table: %d contacts", b.ContactsCount())
	}
	if err := b.Insert(context.Background(), core.NewContactID); err == nil {
		t.Error("Insert of the placeholder id should fail")
	}
}

func TestBook_UnnamedContactsSortByID(t *testing.T) {
	store := recordstore.NewMemory()
	store.AddSource(contact.SourceFields{ID: 1})
	store.Put(contact.Fields{ID: 8, SourceID: 1, FirstName: "-"})
	store.Put(contact.Fields{ID: 6, SourceID: 1, FirstName: "?"})
	store.Put(contact.Fields{ID: 7, SourceID: 1})
	b := newTestBook(t, store, Config{})
	if err := b.LoadSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ids := b.ContactIDs("#"); !slices.Equal(ids, []core.RecordID{6, 7, 8}) {
		t.Errorf("ContactIDs(#) = %v, want [6 7 8]", ids)
	}

	store.Put(contact.Fields{ID: 5, SourceID: 1, FirstName: "!"})
	if err := b.Insert(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if ids := b.ContactIDs("#"); !slices.Equal(ids, []core.RecordID{5, 6, 7, 8}) {
		t.Errorf("ContactIDs(#) after insert = %v, want [5 6 7 8]", ids)
	}
}

func TestBook_PendingGroupsAreSkipped(t *testing.T) {
	store := seededStore()
	store.AddGroup(contact.GroupFields{ID: core.GroupWillCreate, SourceID: 1, Name: "New", MemberIDs: []core.RecordID{2}})
	store.AddGroup(contact.GroupFields{ID: core.GroupWillDelete, SourceID: 2, Name: "Old", MemberIDs: []core.RecordID{4}})
	b := newTestBook(t, store, Config{})
	if err := b.LoadSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, id := range []core.RecordID{core.GroupWillCreate, core.GroupWillDelete} {
		if g := b.GroupForID(id); g != nil {
			t.Errorf("GroupForID(%d) = %+v, want nil", id, g)
		}
	}
	if n := len(b.SourceForID(1).Groups); n != 2 {
		t.Errorf("source 1 has %d groups, want aggregate and Friends", n)
	}
}

func TestBook_DirtyContactsRefiledOnSave(t *testing.T) {
	store := seededStore()
	b := newTestBook(t, store, Config{SortOrdering: core.LastNameFirst})
	b.LoadSync(context.Background())
	ctx := context.Background()

	if err := b.MarkDirty(ctx, 3); err != nil {
		t.Fatalf("MarkDirty failed: %v", err)
	}
	if err := b.MarkDirty(ctx, 99); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("MarkDirty(99) err = %v, want ErrNotFound", err)
	}
	if ids := b.DirtyIDs(); !slices.Equal(ids, []core.RecordID{3}) {
		t.Errorf("DirtyIDs() = %v, want [3]", ids)
	}
	if c, _ := b.ContactForID(3); !c.Dirty {
		t.Error("contact 3 not marked dirty")
	}

	store.Put(contact.Fields{ID: 3, SourceID: 1, FirstName: "Bob", LastName: "Young"})
	rec := &recorder{}
	b.Subscribe(rec)
	if err := b.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if ids := b.DirtyIDs(); len(ids) != 0 {
		t.Errorf("DirtyIDs() after save = %v", ids)
	}
	if ids := b.ContactIDs("Y"); !slices.Equal(ids, []core.RecordID{3}) {
		t.Errorf("ContactIDs(Y) = %v, want [3]", ids)
	}
	want := []notify.Event{notify.UpdatesBegin{}, notify.Removed{ID: 3}, notify.Inserted{ID: 3}, notify.UpdatesEnd{}}
	if got := rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("save events = %v, want %v", got, want)
	}

	// Nothing dirty: Save commits without an update.
	if err := b.Save(ctx); err != nil {
		t.Fatal(err)
	}
	if got := rec.take(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
}

func TestBook_LoadReadsGroupsBeforeContacts(t *testing.T) {
	store := seededStore()
	b := newTestBook(t, store, Config{})
	if err := b.LoadSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"groups:1", "groups:2", "contacts:1", "contacts:2"}
	if got := store.Calls(); !slices.Equal(got, want) {
		t.Errorf("Calls() = %v, want %v", got, want)
	}
}

func TestBook_EnumerationErrorKeepsCause(t *testing.T) {
	store := seededStore()
	cursor := errors.New("cursor invalidated")
	store.FailContacts(cursor, 0)
	b := newTestBook(t, store, Config{})

	err := b.LoadSync(context.Background())
	if !errors.Is(err, core.ErrEnumerationFailed) {
		t.Errorf("LoadSync err = %v, want ErrEnumerationFailed", err)
	}
	if !errors.Is(err, cursor) {
		t.Errorf("LoadSync err = %v, want the store error in the chain", err)
	}
}
