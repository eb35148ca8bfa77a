package addressbook

import (
	"context"
	"errors"
	"fmt"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
	"github.com/kabili207/contactindex/core/notify"
	"github.com/kabili207/contactindex/core/phone"
)

// Insert reads the record from the store and files it. A record that is
// already present is re-filed under its current fields.
func (b *Book) Insert(ctx context.Context, id core.RecordID) error {
	return b.InsertBatch(ctx, []core.RecordID{id})
}

// InsertBatch inserts several records as one update, delivering a single
// UpdatesBegin/UpdatesEnd pair.
func (b *Book) InsertBatch(ctx context.Context, ids []core.RecordID) error {
	return b.run(ctx, func(ctx context.Context, h contact.Handle) error {
		return b.applyInsert(ctx, h, ids, false)
	})
}

// Reindex re-files a record after its fields changed in the store. The
// record is removed using the keys it was filed under and inserted again
// from a fresh read; a record gone from the store is only removed.
func (b *Book) Reindex(ctx context.Context, id core.RecordID) error {
	return b.run(ctx, func(ctx context.Context, h contact.Handle) error {
		return b.applyInsert(ctx, h, []core.RecordID{id}, true)
	})
}

// Delete removes a contact from every index. Unknown ids are ignored.
func (b *Book) Delete(ctx context.Context, id core.RecordID) error {
	return b.DeleteBatch(ctx, []core.RecordID{id})
}

// DeleteBatch deletes several contacts as one update.
func (b *Book) DeleteBatch(ctx context.Context, ids []core.RecordID) error {
	return b.run(ctx, func(ctx context.Context, h contact.Handle) error {
		b.applyDelete(ids)
		return nil
	})
}

type readResult struct {
	id     core.RecordID
	fields contact.Fields
	gone   bool
}

func (b *Book) applyInsert(ctx context.Context, h contact.Handle, ids []core.RecordID, reindex bool) error {
	var (
		reads []readResult
		errs  []error
	)
	for _, id := range ids {
		if id.IsReserved() {
			errs = append(errs, fmt.Errorf("insert %d: reserved id", id))
			continue
		}
		f, err := h.Contact(ctx, id)
		switch {
		case errors.Is(err, core.ErrNotFound) && reindex:
			reads = append(reads, readResult{id: id, gone: true})
		case err != nil:
			errs = append(errs, fmt.Errorf("insert %d: %w", id, err))
		default:
			f.ID = id
			reads = append(reads, readResult{id: id, fields: f})
		}
	}

	var batch notify.Batch
	b.mu.Lock()
	st := b.st
	for _, r := range reads {
		if old, ok := st.unfile(r.id); ok {
			batch.Removed(r.id)
			if r.gone {
				st.dropMemberships(old)
				b.counters.Deletes.Add(1)
			}
		}
		if r.gone {
			continue
		}
		st.file(contact.FromFields(r.fields, phone.Normalize), b.coll)
		batch.Inserted(r.id)
		b.counters.Inserts.Add(1)
	}
	b.mu.Unlock()

	b.log.Debug("insert applied", "ids", len(ids), "events", batch.Len(), "failed", len(errs))
	b.archive(st)
	batch.Flush(&b.events)
	return errors.Join(errs...)
}

func (b *Book) applyDelete(ids []core.RecordID) {
	var batch notify.Batch
	b.mu.Lock()
	st := b.st
	for _, id := range ids {
		c, ok := st.unfile(id)
		if !ok {
			b.log.Warn("delete of unknown contact", "id", id)
			continue
		}
		st.dropMemberships(c)
		batch.Removed(id)
		b.counters.Deletes.Add(1)
	}
	b.mu.Unlock()

	b.archive(st)
	batch.Flush(&b.events)
}

// MarkDirty flags a contact as having uncommitted changes in the store.
// The flag is cleared when Save re-reads the record.
func (b *Book) MarkDirty(ctx context.Context, id core.RecordID) error {
	return b.run(ctx, func(ctx context.Context, h contact.Handle) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		c, ok := b.st.contacts[id]
		if !ok {
			return fmt.Errorf("mark dirty %d: %w", id, core.ErrNotFound)
		}
		if c.Dirty {
			return nil
		}
		dirty := c.Clone()
		dirty.Dirty = true
		b.st.contacts[id] = dirty
		return nil
	})
}

// DirtyIDs returns the contacts marked dirty, in ascending order.
func (b *Book) DirtyIDs() []core.RecordID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.dirtyIDs()
}

func (st *state) dirtyIDs() []core.RecordID {
	var ids []core.RecordID
	for _, id := range st.sortedIDs() {
		if st.contacts[id].Dirty {
			ids = append(ids, id)
		}
	}
	return ids
}

// Save commits pending store changes and re-files every dirty contact
// from a fresh read as one update.
func (b *Book) Save(ctx context.Context) error {
	return b.run(ctx, func(ctx context.Context, h contact.Handle) error {
		if err := h.Save(ctx); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		b.mu.RLock()
		ids := b.st.dirtyIDs()
		b.mu.RUnlock()
		if len(ids) == 0 {
			return nil
		}
		b.log.Debug("saving dirty contacts", "ids", len(ids))
		return b.applyInsert(ctx, h, ids, true)
	})
}
