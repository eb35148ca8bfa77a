package addressbook

import "sync/atomic"

// Counters tracks engine activity using atomic counters. All fields are
// safe for concurrent access.
type Counters struct {
	Loads           atomic.Uint64 // Successful full loads
	LoadsFailed     atomic.Uint64 // Loads aborted by an enumeration error
	Restores        atomic.Uint64 // Loads served from the archive
	PartialRebuilds atomic.Uint64 // Archived parts rebuilt from the contact table
	Inserts         atomic.Uint64 // Records filed incrementally
	Deletes         atomic.Uint64 // Records removed incrementally
	ExternalChanges atomic.Uint64 // External change notifications received
	ArchiveErrors   atomic.Uint64 // Failed archive writes
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	Loads           uint64
	LoadsFailed     uint64
	Restores        uint64
	PartialRebuilds uint64
	Inserts         uint64
	Deletes         uint64
	ExternalChanges uint64
	ArchiveErrors   uint64
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Loads:           c.Loads.Load(),
		LoadsFailed:     c.LoadsFailed.Load(),
		Restores:        c.Restores.Load(),
		PartialRebuilds: c.PartialRebuilds.Load(),
		Inserts:         c.Inserts.Load(),
		Deletes:         c.Deletes.Load(),
		ExternalChanges: c.ExternalChanges.Load(),
		ArchiveErrors:   c.ArchiveErrors.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.Loads.Store(0)
	c.LoadsFailed.Store(0)
	c.Restores.Store(0)
	c.PartialRebuilds.Store(0)
	c.Inserts.Store(0)
	c.Deletes.Store(0)
	c.ExternalChanges.Store(0)
	c.ArchiveErrors.Store(0)
}
