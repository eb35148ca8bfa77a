package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/transport/mqtt"
)

// Snapshot backends.
const (
	BackendDir    = "dir"
	BackendBadger = "badger"
	BackendNone   = "none"
)

// FileConfig is the layout of the YAML configuration file.
type FileConfig struct {
	Store    StoreConfig    `yaml:"store"`
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Ordering is "first" or "last".
	Ordering       string `yaml:"ordering"`
	PhoneCacheSize int    `yaml:"phone_cache_size"`

	// ReloadOnChange defaults to true when unset.
	ReloadOnChange *bool `yaml:"reload_on_change"`

	MQTT     MQTTConfig    `yaml:"mqtt"`
	Metrics  MetricsConfig `yaml:"metrics"`
	LogLevel string        `yaml:"log_level"`
}

// StoreConfig locates the contact document.
type StoreConfig struct {
	Path     string        `yaml:"path"`
	Debounce time.Duration `yaml:"debounce"`
}

// SnapshotConfig selects where index snapshots are kept.
type SnapshotConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	BadgerPath string `yaml:"badger_path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// MQTTConfig configures event publishing. An empty broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	UseTLS      bool   `yaml:"tls"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	BookID      string `yaml:"book_id"`
	QueueSize   int    `yaml:"queue_size"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func defaultConfig() *FileConfig {
	return &FileConfig{
		Store:    StoreConfig{Path: "contacts.yaml"},
		Snapshot: SnapshotConfig{Backend: BackendDir, Dir: ".contactindex"},
		Ordering: core.FirstNameFirst.String(),
		MQTT:     MQTTConfig{TopicPrefix: mqtt.DefaultTopicPrefix, BookID: "default"},
		LogLevel: "info",
	}
}

// LoadFileConfig reads path over the defaults. A missing file is not an
// error when optional is set.
func LoadFileConfig(path string, optional bool) (*FileConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && optional:
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values the commands depend on.
func (c *FileConfig) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if _, err := c.SortOrdering(); err != nil {
		errs = append(errs, err)
	}
	switch c.Snapshot.Backend {
	case BackendDir:
		if c.Snapshot.Dir == "" {
			errs = append(errs, errors.New("snapshot.dir is required for the dir backend"))
		}
	case BackendBadger:
		if c.Snapshot.BadgerPath == "" {
			errs = append(errs, errors.New("snapshot.badger_path is required for the badger backend"))
		}
	case BackendNone:
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot backend %q", c.Snapshot.Backend))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SortOrdering parses the configured ordering.
func (c *FileConfig) SortOrdering() (core.SortOrdering, error) {
	return core.ParseSortOrdering(c.Ordering)
}

// Reload reports whether external changes trigger a reload.
func (c *FileConfig) Reload() bool {
	return c.ReloadOnChange == nil || *c.ReloadOnChange
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
