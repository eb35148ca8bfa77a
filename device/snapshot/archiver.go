package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/kabili207/contactindex/core"
)

// Envelope format identifiers.
const (
	Format  = "contactindex.snapshot"
	Version = 1
)

type envelope struct {
	Format    string          `json:"format"`
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	WrittenAt time.Time       `json:"written_at"`
	Checksum  string          `json:"checksum"`
	Payload   json.RawMessage `json:"payload"`
}

// ArchiverConfig configures an Archiver.
type ArchiverConfig struct {
	// Logger for archive events. Falls back to slog.Default() if nil.
	Logger *slog.Logger

	// Now returns the envelope timestamp. Default: time.Now.
	Now func() time.Time
}

// Archiver reads and writes snapshots to a Store. It is not safe for
// concurrent use; the engine only calls it from the access gate.
type Archiver struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewArchiver creates an archiver over store.
func NewArchiver(store Store, cfg ArchiverConfig) *Archiver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Archiver{
		store: store,
		log:   logger.WithGroup("snapshot"),
		now:   now,
	}
}

// Archive writes every part of snap. Parts are written independently; a
// failure in one does not stop the others. Archiving the same snapshot
// twice leaves the same payloads.
func (a *Archiver) Archive(snap *Snapshot) error {
	var errs []error
	for _, name := range Parts {
		if err := a.ArchivePart(name, snap); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		a.log.Debug("snapshot archived", "contacts", len(snap.Contacts))
	}
	return errors.Join(errs...)
}

// ArchivePart writes a single part of snap.
func (a *Archiver) ArchivePart(name string, snap *Snapshot) error {
	v, err := partValue(name, snap)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	sum := blake2b.Sum256(payload)
	data, err := json.Marshal(envelope{
		Format:    Format,
		Name:      name,
		Version:   Version,
		WrittenAt: a.now().UTC(),
		Checksum:  hex.EncodeToString(sum[:]),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", name, err)
	}
	if err := a.store.Put(name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Unarchive reads every part. It never fails as a whole: missing parts
// come back empty and cold, corrupt parts additionally record an error.
func (a *Archiver) Unarchive() *Result {
	res := &Result{
		Snapshot: &Snapshot{},
		Cold:     make(map[string]bool),
	}
	for _, name := range Parts {
		data, err := a.store.Get(name)
		if errors.Is(err, ErrNotExist) {
			res.Cold[name] = true
			continue
		}
		if err == nil {
			err = a.decodePart(name, data, res.Snapshot)
		}
		if err != nil {
			a.log.Warn("snapshot part unusable", "part", name, "error", err)
			res.Cold[name] = true
			res.Errors = append(res.Errors, fmt.Errorf("%w: %s: %w", core.ErrPersistenceCorrupt, name, err))
			clearPart(name, res.Snapshot)
		}
	}
	return res
}

// DeleteArchive removes every part.
func (a *Archiver) DeleteArchive() error {
	if err := a.store.DeleteAll(); err != nil {
		return fmt.Errorf("delete archive: %w", err)
	}
	a.log.Info("snapshot archive deleted")
	return nil
}

// Close closes the underlying store.
func (a *Archiver) Close() error {
	return a.store.Close()
}

func (a *Archiver) decodePart(name string, data []byte, snap *Snapshot) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("envelope: %w", err)
	}
	switch {
	case env.Format != Format:
		return fmt.Errorf("unknown format %q", env.Format)
	case env.Name != name:
		return fmt.Errorf("envelope names part %q", env.Name)
	case env.Version != Version:
		return fmt.Errorf("unsupported version %d", env.Version)
	}
	sum := blake2b.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return errors.New("checksum mismatch")
	}
	v, err := partValue(name, snap)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	return nil
}

// partValue returns a pointer to the field of snap holding part name.
func partValue(name string, snap *Snapshot) (any, error) {
	switch name {
	case PartByFirstName:
		return &snap.ByFirstName, nil
	case PartByLastName:
		return &snap.ByLastName, nil
	case PartByPhone:
		return &snap.ByPhone, nil
	case PartPhoneNumbers:
		return &snap.Numbers, nil
	case PartContacts:
		return &snap.Contacts, nil
	case PartSources:
		return &snap.Sources, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPart, name)
}

func clearPart(name string, snap *Snapshot) {
	switch name {
	case PartByFirstName:
		snap.ByFirstName = nil
	case PartByLastName:
		snap.ByLastName = nil
	case PartByPhone:
		snap.ByPhone = nil
	case PartPhoneNumbers:
		snap.Numbers = NumberTable{}
	case PartContacts:
		snap.Contacts = nil
	case PartSources:
		snap.Sources = SourceTable{}
	}
}
