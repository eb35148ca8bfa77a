// Package core holds the identifiers, status values and error taxonomy
// shared by every contactindex package.
package core

import (
	"fmt"
	"strconv"
	"strings"
)

// RecordID identifies a contact, group or source in the external store.
// Identifiers assigned by the store are never negative; negative values
// are reserved for synthetic records created by this module.
type RecordID int32

const (
	// SourceAggregate is the pseudo-source spanning every external source.
	SourceAggregate RecordID = -1

	// GroupAggregate is the main aggregate group ("All Contacts").
	GroupAggregate RecordID = -1

	// NewContactID marks a contact that has not been saved to the store yet.
	NewContactID RecordID = -2

	// GroupWillCreate marks a group pending creation in the store.
	GroupWillCreate RecordID = -128

	// GroupWillDelete marks a group pending deletion from the store.
	GroupWillDelete RecordID = -256
)

// IsReserved reports whether the id is one of the synthetic negative ids.
func (id RecordID) IsReserved() bool {
	return id < 0
}

// String returns the decimal form of the id.
func (id RecordID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseRecordID parses a decimal record id.
func ParseRecordID(s string) (RecordID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	return RecordID(v), nil
}

// SortOrdering selects which name field leads when contacts are sorted.
type SortOrdering int

const (
	// FirstNameFirst sorts "Zoë Álvarez" under Z.
	FirstNameFirst SortOrdering = iota
	// LastNameFirst sorts "Zoë Álvarez" under A.
	LastNameFirst
)

func (o SortOrdering) String() string {
	switch o {
	case FirstNameFirst:
		return "first"
	case LastNameFirst:
		return "last"
	default:
		return "unknown"
	}
}

// Inverse returns the other ordering.
func (o SortOrdering) Inverse() SortOrdering {
	if o == LastNameFirst {
		return FirstNameFirst
	}
	return LastNameFirst
}

// ParseSortOrdering accepts "first" or "last" (case-insensitive).
func ParseSortOrdering(s string) (SortOrdering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "first-name", "firstname":
		return FirstNameFirst, nil
	case "last", "last-name", "lastname":
		return LastNameFirst, nil
	default:
		return FirstNameFirst, fmt.Errorf("unknown sort ordering %q", s)
	}
}

// Status is the availability of the engine's view over the store.
type Status int32

const (
	StatusOffline Status = iota
	StatusInitializing
	StatusLoading
	StatusOnline
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusInitializing:
		return "initializing"
	case StatusLoading:
		return "loading"
	case StatusOnline:
		return "online"
	default:
		return "unknown"
	}
}
