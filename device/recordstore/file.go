package recordstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
)

// Compile-time interface check.
var _ contact.RecordStore = (*File)(nil)

// DefaultDebounce is how long the watcher waits for writes to settle
// before reporting an external change.
const DefaultDebounce = 200 * time.Millisecond

// Document is the on-disk layout of a File store.
type Document struct {
	DefaultSource core.RecordID          `yaml:"default_source"`
	Sources       []contact.SourceFields `yaml:"sources"`
	Groups        []contact.GroupFields  `yaml:"groups,omitempty"`
	Contacts      []contact.Fields       `yaml:"contacts"`
}

// FileConfig configures a File store.
type FileConfig struct {
	// Path of the YAML document.
	Path string

	// Debounce window for change notifications. Default: 200ms.
	Debounce time.Duration

	// Logger for store events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// File is a record store backed by a YAML document. Other processes may
// edit the document; Watch reports those edits through the external
// change callback.
type File struct {
	cfg FileConfig
	log *slog.Logger

	mu          sync.Mutex
	onChange    func()
	ignoreUntil time.Time
}

// NewFile creates a file store. The document is read on each Open.
func NewFile(cfg FileConfig) *File {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &File{
		cfg: cfg,
		log: cfg.Logger.WithGroup("filestore"),
	}
}

// RequestAccess reports whether the document can be read.
func (s *File) RequestAccess(ctx context.Context) (bool, error) {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return false, nil
		}
		return false, err
	}
	_ = f.Close()
	return true, nil
}

// Open reads and parses the document.
func (s *File) Open(ctx context.Context) (contact.Handle, error) {
	doc, err := ReadDocument(s.cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", core.ErrAccessDenied, err)
		}
		return nil, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return &fileHandle{store: s, doc: doc}, nil
}

// SetOnExternalChange registers the external change callback.
func (s *File) SetOnExternalChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Watch reports edits to the document until ctx ends. The parent
// directory is watched so editors that replace the file are noticed.
func (s *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	dir := filepath.Dir(s.cfg.Path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	s.log.Info("watching contact document", "path", s.cfg.Path)

	go s.processEvents(ctx, watcher)
	return nil
}

func (s *File) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	name := filepath.Clean(s.cfg.Path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if s.ownWrite() {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(s.cfg.Debounce, s.fireChange)
			} else {
				timer.Reset(s.cfg.Debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watcher error", "error", err)
		}
	}
}

func (s *File) ownWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.ignoreUntil)
}

func (s *File) fireChange() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()

	s.log.Debug("contact document changed externally")
	if fn != nil {
		fn()
	}
}

// write stores doc atomically and suppresses the resulting watch events.
func (s *File) write(doc *Document) error {
	s.mu.Lock()
	s.ignoreUntil = time.Now().Add(s.cfg.Debounce)
	s.mu.Unlock()
	return WriteDocument(s.cfg.Path, doc)
}

// ReadDocument parses a YAML contact document.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &doc, nil
}

// WriteDocument writes a YAML contact document via a temporary file and
// rename.
func WriteDocument(path string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".contacts-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type fileHandle struct {
	store *File
	doc   *Document
}

func (h *fileHandle) Sources(ctx context.Context) ([]contact.SourceFields, error) {
	out := slices.Clone(h.doc.Sources)
	for i := range out {
		out[i].IsDefault = out[i].IsDefault || out[i].ID == h.doc.DefaultSource
	}
	return out, nil
}

func (h *fileHandle) DefaultSourceID(ctx context.Context) (core.RecordID, error) {
	if h.doc.DefaultSource == 0 && len(h.doc.Sources) > 0 {
		return h.doc.Sources[0].ID, nil
	}
	return h.doc.DefaultSource, nil
}

func (h *fileHandle) Groups(ctx context.Context, sourceID core.RecordID) ([]contact.GroupFields, error) {
	var out []contact.GroupFields
	for _, g := range h.doc.Groups {
		if g.SourceID == sourceID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (h *fileHandle) Contacts(ctx context.Context, sourceID core.RecordID) ([]contact.Fields, error) {
	var out []contact.Fields
	for _, c := range h.doc.Contacts {
		if c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (h *fileHandle) Contact(ctx context.Context, id core.RecordID) (contact.Fields, error) {
	for _, c := range h.doc.Contacts {
		if c.ID == id {
			return c, nil
		}
	}
	return contact.Fields{}, fmt.Errorf("contact %d: %w", id, core.ErrNotFound)
}

func (h *fileHandle) Save(ctx context.Context) error {
	return h.store.write(h.doc)
}

func (h *fileHandle) Close() error {
	h.doc = nil
	return nil
}
