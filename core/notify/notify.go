// Package notify carries index change events to observers.
//
// A full load produces LoadBegin, zero or more LoadProgress and LoadEnd.
// An incremental batch produces UpdatesBegin, one Inserted or Removed per
// affected record and UpdatesEnd. Begin and end are always paired, even
// for an empty batch.
package notify

import (
	"fmt"
	"sync"

	"github.com/kabili207/contactindex/core"
)

// Kind identifies an event variant.
type Kind int

const (
	KindLoadBegin Kind = iota
	KindLoadProgress
	KindLoadEnd
	KindUpdatesBegin
	KindInserted
	KindRemoved
	KindUpdatesEnd
)

func (k Kind) String() string {
	switch k {
	case KindLoadBegin:
		return "load_begin"
	case KindLoadProgress:
		return "load_progress"
	case KindLoadEnd:
		return "load_end"
	case KindUpdatesBegin:
		return "updates_begin"
	case KindInserted:
		return "inserted"
	case KindRemoved:
		return "removed"
	case KindUpdatesEnd:
		return "updates_end"
	default:
		return "unknown"
	}
}

// Event is one change notification.
type Event interface {
	Kind() Kind
}

type (
	// LoadBegin starts a full load.
	LoadBegin struct{}

	// LoadProgress reports the fraction of contacts processed, in [0,1].
	LoadProgress struct{ Fraction float64 }

	// LoadEnd finishes a full load.
	LoadEnd struct{ Success bool }

	// UpdatesBegin starts an incremental batch.
	UpdatesBegin struct{}

	// Inserted reports a contact filed into the indices.
	Inserted struct{ ID core.RecordID }

	// Removed reports a contact removed from the indices.
	Removed struct{ ID core.RecordID }

	// UpdatesEnd finishes an incremental batch.
	UpdatesEnd struct{}
)

func (LoadBegin) Kind() Kind    { return KindLoadBegin }
func (LoadProgress) Kind() Kind { return KindLoadProgress }
func (LoadEnd) Kind() Kind      { return KindLoadEnd }
func (UpdatesBegin) Kind() Kind { return KindUpdatesBegin }
func (Inserted) Kind() Kind     { return KindInserted }
func (Removed) Kind() Kind      { return KindRemoved }
func (UpdatesEnd) Kind() Kind   { return KindUpdatesEnd }

func (e LoadProgress) String() string { return fmt.Sprintf("load_progress(%.3f)", e.Fraction) }
func (e Inserted) String() string     { return fmt.Sprintf("inserted(%d)", e.ID) }
func (e Removed) String() string      { return fmt.Sprintf("removed(%d)", e.ID) }

// Observer receives events.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

// Funcs is an Observer built from optional callbacks. A nil field ignores
// its event.
type Funcs struct {
	OnLoadBegin    func()
	OnLoadProgress func(fraction float64)
	OnLoadEnd      func(success bool)
	OnUpdatesBegin func()
	OnInsert       func(id core.RecordID)
	OnRemove       func(id core.RecordID)
	OnUpdatesEnd   func()
}

// Observe dispatches e to the matching callback.
func (f Funcs) Observe(e Event) {
	switch ev := e.(type) {
	case LoadBegin:
		call0(f.OnLoadBegin)
	case LoadProgress:
		if f.OnLoadProgress != nil {
			f.OnLoadProgress(ev.Fraction)
		}
	case LoadEnd:
		if f.OnLoadEnd != nil {
			f.OnLoadEnd(ev.Success)
		}
	case UpdatesBegin:
		call0(f.OnUpdatesBegin)
	case Inserted:
		if f.OnInsert != nil {
			f.OnInsert(ev.ID)
		}
	case Removed:
		if f.OnRemove != nil {
			f.OnRemove(ev.ID)
		}
	case UpdatesEnd:
		call0(f.OnUpdatesEnd)
	}
}

func call0(fn func()) {
	if fn != nil {
		fn()
	}
}

// Fanout broadcasts events to a changing set of observers. Registration
// is safe from any goroutine; events are delivered in registration order.
type Fanout struct {
	mu        sync.RWMutex
	next      int
	observers []registration
}

type registration struct {
	id int
	o  Observer
}

// Subscribe registers o and returns a function that unregisters it.
func (f *Fanout) Subscribe(o Observer) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.observers = append(f.observers, registration{id: id, o: o})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, r := range f.observers {
			if r.id == id {
				f.observers = append(f.observers[:i:i], f.observers[i+1:]...)
				return
			}
		}
	}
}

// Observe delivers e to every registered observer.
func (f *Fanout) Observe(e Event) {
	f.mu.RLock()
	observers := make([]Observer, len(f.observers))
	for i, r := range f.observers {
		observers[i] = r.o
	}
	f.mu.RUnlock()

	for _, o := range observers {
		o.Observe(e)
	}
}

// Len returns the number of registered observers.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.observers)
}

// Batch collects the insert and remove events of one incremental
// operation so they can be delivered after the mutation is applied.
type Batch struct {
	events []Event
}

// Inserted records an insert.
func (b *Batch) Inserted(id core.RecordID) {
	b.events = append(b.events, Inserted{ID: id})
}

// Removed records a removal.
func (b *Batch) Removed(id core.RecordID) {
	b.events = append(b.events, Removed{ID: id})
}

// Len returns the number of recorded events.
func (b *Batch) Len() int {
	return len(b.events)
}

// Flush delivers UpdatesBegin, the recorded events and UpdatesEnd to o,
// then empties the batch. An empty batch still delivers begin and end.
func (b *Batch) Flush(o Observer) {
	o.Observe(UpdatesBegin{})
	for _, e := range b.events {
		o.Observe(e)
	}
	o.Observe(UpdatesEnd{})
	b.events = b.events[:0]
}
