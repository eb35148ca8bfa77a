package core

import "errors"

var (
	// ErrAccessDenied is returned when the user has not granted access to
	// the external store. Loading fails; requesting access again recovers.
	ErrAccessDenied = errors.New("access to contact store denied")

	// ErrStoreUnavailable is returned when a store handle could not be
	// opened. The operation may be retried.
	ErrStoreUnavailable = errors.New("contact store unavailable")

	// ErrEnumerationFailed is returned when a bulk read failed part way
	// through a load. The previous snapshot stays authoritative.
	ErrEnumerationFailed = errors.New("contact enumeration failed")

	// ErrPersistenceCorrupt is returned when a persisted index could not be
	// decoded. Only the affected index is rebuilt.
	ErrPersistenceCorrupt = errors.New("persisted index corrupt")

	// ErrNotFound is returned by the store for an unknown record id.
	ErrNotFound = errors.New("record not found")

	// ErrGateClosed is returned for operations submitted after, or still
	// queued at, gate shutdown.
	ErrGateClosed = errors.New("access gate closed")
)
