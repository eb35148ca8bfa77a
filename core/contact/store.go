package contact

import (
	"context"

	"github.com/kabili207/contactindex/core"
)

// SourceFields is the store representation of a source.
type SourceFields struct {
	ID        core.RecordID `json:"id" yaml:"id"`
	TypeName  string        `json:"type" yaml:"type"`
	IsDefault bool          `json:"default,omitempty" yaml:"default,omitempty"`
}

// GroupFields is the store representation of a group.
type GroupFields struct {
	ID        core.RecordID   `json:"id" yaml:"id"`
	SourceID  core.RecordID   `json:"source_id" yaml:"source_id"`
	Name      string          `json:"name" yaml:"name"`
	MemberIDs []core.RecordID `json:"members,omitempty" yaml:"members,omitempty"`
}

// RecordStore is the external contact database. It must never be used by
// more than one goroutine at a time; the access gate enforces that.
type RecordStore interface {
	// RequestAccess asks for permission to read the store and reports
	// whether it was granted.
	RequestAccess(ctx context.Context) (bool, error)

	// Open returns a new handle. It fails with core.ErrAccessDenied when
	// permission is missing and core.ErrStoreUnavailable otherwise.
	Open(ctx context.Context) (Handle, error)

	// SetOnExternalChange registers a callback fired when another process
	// modified the store. The callback may run on any goroutine.
	SetOnExternalChange(fn func())
}

// Handle is an open connection to the store. Handles are not safe for
// concurrent use.
type Handle interface {
	// Sources enumerates every source.
	Sources(ctx context.Context) ([]SourceFields, error)

	// DefaultSourceID returns the source new contacts are saved to.
	DefaultSourceID(ctx context.Context) (core.RecordID, error)

	// Groups enumerates the groups of one source.
	Groups(ctx context.Context, sourceID core.RecordID) ([]GroupFields, error)

	// Contacts enumerates the person records of one source.
	Contacts(ctx context.Context, sourceID core.RecordID) ([]Fields, error)

	// Contact reads one person record. Unknown ids yield core.ErrNotFound.
	Contact(ctx context.Context, id core.RecordID) (Fields, error)

	// Save commits pending changes made through this handle.
	Save(ctx context.Context) error

	// Close releases the handle.
	Close() error
}
