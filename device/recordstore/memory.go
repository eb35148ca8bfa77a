// Package recordstore provides contact.RecordStore implementations: an
// in-memory store used by tests and demos, and a YAML file store watched
// for external changes.
package recordstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
)

// Compile-time interface check.
var _ contact.RecordStore = (*Memory)(nil)

// Memory is an in-memory record store. It is safe for concurrent use by
// test code, but it records how many handle calls overlapped so tests can
// assert that the engine never uses it concurrently.
type Memory struct {
	mu            sync.Mutex
	sources       []contact.SourceFields
	groups        []contact.GroupFields
	contacts      map[core.RecordID]contact.Fields
	order         []core.RecordID
	defaultSource core.RecordID
	access        bool
	unavailable   error
	failContacts  error
	onChange      func()
	calls         []string

	opens      atomic.Int32
	openNow    atomic.Int32
	maxOpen    atomic.Int32
	inCall     atomic.Int32
	maxInCall  atomic.Int32
	contactErr atomic.Int32
}

// NewMemory creates an empty store with access granted.
func NewMemory() *Memory {
	return &Memory{
		contacts: make(map[core.RecordID]contact.Fields),
		access:   true,
	}
}

// AddSource adds a source. The first default source wins.
func (m *Memory) AddSource(s contact.SourceFields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, s)
	if s.IsDefault || len(m.sources) == 1 {
		m.defaultSource = s.ID
	}
}

// AddGroup adds a group.
func (m *Memory) AddGroup(g contact.GroupFields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = append(m.groups, g)
}

// Put inserts or replaces a contact record.
func (m *Memory) Put(f contact.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[f.ID]; !ok {
		m.order = append(m.order, f.ID)
	}
	m.contacts[f.ID] = f
}

// Remove deletes a contact record.
func (m *Memory) Remove(id core.RecordID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[id]; !ok {
		return
	}
	delete(m.contacts, id)
	m.order = slices.DeleteFunc(m.order, func(x core.RecordID) bool { return x == id })
}

// SetAccess sets whether access is granted.
func (m *Memory) SetAccess(granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = granted
}

// SetUnavailable makes Open fail with core.ErrStoreUnavailable until it is
// called again with nil.
func (m *Memory) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = err
}

// FailContacts makes contact enumeration fail with err after n successful
// Contacts calls. Pass nil to clear.
func (m *Memory) FailContacts(err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failContacts = err
	m.contactErr.Store(int32(n))
}

// SetOnExternalChange registers the external change callback.
func (m *Memory) SetOnExternalChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// NotifyExternalChange simulates another process modifying the store.
func (m *Memory) NotifyExternalChange() {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Opens returns how many handles have been opened.
func (m *Memory) Opens() int {
	return int(m.opens.Load())
}

// OpenHandles returns the number of handles not yet closed.
func (m *Memory) OpenHandles() int {
	return int(m.openNow.Load())
}

// MaxOpenHandles returns the largest number of simultaneously open handles.
func (m *Memory) MaxOpenHandles() int {
	return int(m.maxOpen.Load())
}

// MaxConcurrentCalls returns the largest number of overlapping handle calls.
func (m *Memory) MaxConcurrentCalls() int {
	return int(m.maxInCall.Load())
}

// Calls returns the enumeration calls made so far, in order, as
// "groups:<source>" or "contacts:<source>".
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// RequestAccess reports whether access is granted.
func (m *Memory) RequestAccess(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, nil
}

// Open returns a new handle.
func (m *Memory) Open(ctx context.Context) (contact.Handle, error) {
	m.mu.Lock()
	access, unavailable := m.access, m.unavailable
	m.mu.Unlock()

	if !access {
		return nil, core.ErrAccessDenied
	}
	if unavailable != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, unavailable)
	}
	m.opens.Add(1)
	raiseMax(&m.maxOpen, m.openNow.Add(1))
	return &memHandle{m: m}, nil
}

func raiseMax(hi *atomic.Int32, v int32) {
	for {
		cur := hi.Load()
		if v <= cur || hi.CompareAndSwap(cur, v) {
			return
		}
	}
}

type memHandle struct {
	m      *Memory
	closed atomic.Bool
}

func (h *memHandle) enter() func() {
	raiseMax(&h.m.maxInCall, h.m.inCall.Add(1))
	return func() { h.m.inCall.Add(-1) }
}

func (h *memHandle) Sources(ctx context.Context) ([]contact.SourceFields, error) {
	defer h.enter()()
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return slices.Clone(h.m.sources), nil
}

func (h *memHandle) DefaultSourceID(ctx context.Context) (core.RecordID, error) {
	defer h.enter()()
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.m.defaultSource, nil
}

func (h *memHandle) Groups(ctx context.Context, sourceID core.RecordID) ([]contact.GroupFields, error) {
	defer h.enter()()
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.m.calls = append(h.m.calls, fmt.Sprintf("groups:%d", sourceID))
	var out []contact.GroupFields
	for _, g := range h.m.groups {
		if g.SourceID == sourceID {
			g.MemberIDs = slices.Clone(g.MemberIDs)
			out = append(out, g)
		}
	}
	return out, nil
}

func (h *memHandle) Contacts(ctx context.Context, sourceID core.RecordID) ([]contact.Fields, error) {
	defer h.enter()()
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.m.calls = append(h.m.calls, fmt.Sprintf("contacts:%d", sourceID))
	if h.m.failContacts != nil {
		if h.m.contactErr.Add(-1) < 0 {
			return nil, h.m.failContacts
		}
	}
	var out []contact.Fields
	for _, id := range h.m.order {
		if f := h.m.contacts[id]; f.SourceID == sourceID {
			f.Phones = slices.Clone(f.Phones)
			out = append(out, f)
		}
	}
	return out, nil
}

func (h *memHandle) Contact(ctx context.Context, id core.RecordID) (contact.Fields, error) {
	defer h.enter()()
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	f, ok := h.m.contacts[id]
	if !ok {
		return contact.Fields{}, fmt.Errorf("contact %d: %w", id, core.ErrNotFound)
	}
	f.Phones = slices.Clone(f.Phones)
	return f, nil
}

func (h *memHandle) Save(ctx context.Context) error {
	defer h.enter()()
	return nil
}

func (h *memHandle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.m.openNow.Add(-1)
	}
	return nil
}
