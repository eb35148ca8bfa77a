package addressbook

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
	"github.com/kabili207/contactindex/core/notify"
	"github.com/kabili207/contactindex/core/phone"
)

// Load loads the book asynchronously. The first load restores the
// archived snapshot when one is available; later loads and loads after
// an external change enumerate the store. done, if non-nil, is called on
// the gate goroutine.
func (b *Book) Load(ctx context.Context, done func(success bool)) {
	b.gate.Go(ctx, func(ctx context.Context, h contact.Handle) error {
		return b.load(ctx, h, true)
	}, func(err error) {
		if err != nil {
			b.reportError(err)
		}
		if done != nil {
			done(err == nil)
		}
	})
}

// LoadSync is Load that waits for completion.
func (b *Book) LoadSync(ctx context.Context) error {
	return b.run(ctx, func(ctx context.Context, h contact.Handle) error {
		return b.load(ctx, h, true)
	})
}

// Reload discards any archived snapshot and enumerates the store.
func (b *Book) Reload(ctx context.Context) error {
	return b.run(ctx, func(ctx context.Context, h contact.Handle) error {
		if b.cfg.Archive != nil {
			if err := b.cfg.Archive.DeleteArchive(); err != nil {
				b.reportError(err)
			}
		}
		return b.load(ctx, h, false)
	})
}

// load runs on the gate.
func (b *Book) load(ctx context.Context, h contact.Handle, allowRestore bool) error {
	b.emit(notify.LoadBegin{})
	b.setStatus(core.StatusLoading)
	start := time.Now()

	if allowRestore && b.tryRestore() {
		b.emit(notify.LoadProgress{Fraction: 1})
		b.emit(notify.LoadEnd{Success: true})
		return nil
	}

	st, err := b.enumerate(ctx, h)
	if err != nil {
		b.counters.LoadsFailed.Add(1)
		b.setStatus(core.StatusOffline)
		b.log.Error("load failed", "error", err)
		b.emit(notify.LoadEnd{Success: false})
		return err
	}

	b.install(st)
	b.counters.Loads.Add(1)
	b.log.Info("contacts loaded",
		"contacts", len(st.contacts),
		"sources", len(st.sources),
		"duration", time.Since(start),
	)
	b.archive(st)
	b.emit(notify.LoadEnd{Success: true})
	return nil
}

// install swaps in a complete state and marks the book online.
func (b *Book) install(st *state) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st = st
	b.status = core.StatusOnline
	b.loadedAt = time.Now()
}

// tryRestore installs the archived snapshot once per Book. Index parts
// that are cold are rebuilt from the restored contact table.
func (b *Book) tryRestore() bool {
	b.mu.Lock()
	attempted := b.restored
	b.restored = true
	b.mu.Unlock()
	if attempted || b.cfg.Archive == nil {
		return false
	}

	res := b.cfg.Archive.Unarchive()
	for _, err := range res.Errors {
		b.reportError(err)
	}
	if res.Empty() {
		return false
	}
	st, rebuilt, ok := b.restore(res)
	if !ok {
		b.log.Info("archived snapshot incomplete, loading from store")
		return false
	}

	b.install(st)
	b.counters.Restores.Add(1)
	b.log.Info("contacts restored from archive", "contacts", len(st.contacts), "rebuilt", rebuilt)
	if len(rebuilt) > 0 {
		b.counters.PartialRebuilds.Add(uint64(len(rebuilt)))
		snap := st.snapshot()
		for _, part := range rebuilt {
			if err := b.cfg.Archive.ArchivePart(part, snap); err != nil {
				b.counters.ArchiveErrors.Add(1)
				b.reportError(err)
			}
		}
	}
	return true
}

func (b *Book) archive(st *state) {
	if b.cfg.Archive == nil {
		return
	}
	if err := b.cfg.Archive.Archive(st.snapshot()); err != nil {
		b.counters.ArchiveErrors.Add(1)
		b.log.Warn("archiving snapshot", "error", err)
		b.reportError(err)
	}
}

// enumerate reads the whole store into a fresh state. The current state
// is not touched, so a failure leaves it authoritative.
func (b *Book) enumerate(ctx context.Context, h contact.Handle) (*state, error) {
	sources, err := h.Sources(ctx)
	if err != nil {
		return nil, enumerationError("sources", err)
	}
	defaultID, err := h.DefaultSourceID(ctx)
	if err != nil {
		return nil, enumerationError("default source", err)
	}

	// Groups of every source are read before any contacts.
	var groups []contact.GroupFields
	for _, s := range sources {
		g, err := h.Groups(ctx, s.ID)
		if err != nil {
			return nil, enumerationError(fmt.Sprintf("groups of source %d", s.ID), err)
		}
		groups = append(groups, g...)
	}

	records := make([][]contact.Fields, len(sources))
	total := 0
	for i, s := range sources {
		records[i], err = h.Contacts(ctx, s.ID)
		if err != nil {
			return nil, enumerationError(fmt.Sprintf("contacts of source %d", s.ID), err)
		}
		total += len(records[i])
	}

	st := b.newState()
	st.addSources(sources, groups, defaultID)

	progress := newProgress(total, b.cfg.ProgressStep, func(f float64) {
		b.emit(notify.LoadProgress{Fraction: f})
	})
	for i, fields := range records {
		for _, f := range fields {
			progress.advance()
			if f.ID.IsReserved() {
				b.log.Debug("skipping record with reserved id", "id", f.ID)
				continue
			}
			if _, dup := st.contacts[f.ID]; dup {
				b.log.Warn("duplicate record id", "id", f.ID, "source", sources[i].ID)
				continue
			}
			f.SourceID = sources[i].ID
			c := contact.FromFields(f, phone.Normalize)
			st.put(c, b.coll)
			st.appendToIndices(c)
		}
	}
	st.sortAll()
	progress.finish()
	return st, nil
}

func enumerationError(what string, err error) error {
	if errors.Is(err, core.ErrEnumerationFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", core.ErrEnumerationFailed, what, err)
}

// progress reports the fraction of processed records at most once per
// step, never decreasing, and ends with exactly one report of 1.0.
type progress struct {
	total, done, step, last int
	report                  func(float64)
}

func newProgress(total int, step float64, report func(float64)) *progress {
	n := int(math.Ceil(float64(total) * step))
	if n < 1 {
		n = 1
	}
	return &progress{total: total, step: n, report: report}
}

func (p *progress) advance() {
	p.done++
	if p.done < p.total && p.done-p.last >= p.step {
		p.last = p.done
		p.report(float64(p.done) / float64(p.total))
	}
}

func (p *progress) finish() {
	p.report(1)
}
