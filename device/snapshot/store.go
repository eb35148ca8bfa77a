// Package snapshot persists the engine's derived state so a restart can
// skip the full enumeration of the external store.
//
// A snapshot is split into independent parts (one per index plus the
// contact and source tables). Each part is written as a self-describing
// JSON envelope carrying a BLAKE2b checksum of its payload. A part that is
// missing or fails to verify is reported cold; the other parts remain
// usable.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotExist is returned by Store.Get for a name that was never written.
var ErrNotExist = errors.New("snapshot part does not exist")

// ErrUnknownPart is returned for a part name outside Parts.
var ErrUnknownPart = errors.New("unknown snapshot part")

// Store is a flat namespace of named blobs.
type Store interface {
	Put(name string, data []byte) error
	Get(name string) ([]byte, error)
	Delete(name string) error
	DeleteAll() error
	Close() error
}

// Compile-time interface check.
var _ Store = (*DirStore)(nil)

const partExt = ".json"

// DirStore keeps one file per part in a directory.
type DirStore struct {
	dir string
}

// NewDirStore creates dir if needed and returns a store rooted there.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory %s: %w", dir, err)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *DirStore) Dir() string {
	return s.dir
}

func (s *DirStore) path(name string) string {
	return filepath.Join(s.dir, name+partExt)
}

// Put writes data through a temporary file and rename so readers never
// see a partial part.
func (s *DirStore) Put(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(name))
}

func (s *DirStore) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	return data, err
}

func (s *DirStore) Delete(name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// DeleteAll removes the file of every snapshot part. Other files in the
// directory are left alone.
func (s *DirStore) DeleteAll() error {
	var errs []error
	for _, name := range Parts {
		if err := s.Delete(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *DirStore) Close() error {
	return nil
}
