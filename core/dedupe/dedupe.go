// Package dedupe remembers recently seen message identifiers.
//
// Identifiers are reduced to an 8-byte BLAKE2b digest and kept in a
// circular buffer, so memory stays bounded and the oldest identifier is
// forgotten first. The broker delivers commands at least once; the
// window turns redeliveries into no-ops.
package dedupe

import (
	"bytes"
	"sync"

	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultCapacity is the default number of identifiers remembered.
	DefaultCapacity = 128
	// HashSize is the truncated digest size stored per identifier.
	HashSize = 8
)

// Window tracks recently seen identifiers. It is safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	hashes []byte // circular buffer of HashSize-byte digests
	max    int
	next   int
	filled int
}

// New creates a Window with the default capacity.
func New() *Window {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a Window remembering up to n identifiers.
func NewWithCapacity(n int) *Window {
	if n <= 0 {
		n = DefaultCapacity
	}
	return &Window{
		hashes: make([]byte, n*HashSize),
		max:    n,
	}
}

// HasSeen reports whether id was recorded before. An unseen id is
// recorded, evicting the oldest entry when the window is full.
func (w *Window) HasSeen(id []byte) bool {
	hash := Hash(id)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.filled {
		offset := i * HashSize
		if bytes.Equal(hash[:], w.hashes[offset:offset+HashSize]) {
			return true
		}
	}

	offset := w.next * HashSize
	copy(w.hashes[offset:offset+HashSize], hash[:])
	w.next = (w.next + 1) % w.max
	if w.filled < w.max {
		w.filled++
	}
	return false
}

// Len returns the number of identifiers currently remembered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filled
}

// Clear forgets every identifier.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.hashes)
	w.next = 0
	w.filled = 0
}

// Hash computes the truncated digest stored for id.
func Hash(id []byte) [HashSize]byte {
	sum := blake2b.Sum256(id)
	var result [HashSize]byte
	copy(result[:], sum[:HashSize])
	return result
}
