package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kabili207/contactindex/core"
)

func TestLoadFileConfig_MissingOptional(t *testing.T) {
	cfg, err := LoadFileConfig(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	if cfg.Store.Path != "contacts.yaml" || cfg.Snapshot.Backend != BackendDir {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !cfg.Reload() {
		t.Error("reload on change should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFileConfig_MissingRequired(t *testing.T) {
	if _, err := LoadFileConfig(filepath.Join(t.TempDir(), "absent.yaml"), false); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadFileConfig_Values(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contactindex.yaml")
	doc := `store:
  path: /data/contacts.yaml
  debounce: 50ms
snapshot:
  backend: badger
  badger_path: /data/snap
ordering: last
reload_on_change: false
mqtt:
  broker: tcp://localhost:1883
  book_id: home
metrics:
  addr: ":9100"
log_level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFileConfig(path, false)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Store.Debounce != 50*time.Millisecond {
		t.Errorf("Debounce = %v", cfg.Store.Debounce)
	}
	if o, _ := cfg.SortOrdering(); o != core.LastNameFirst {
		t.Errorf("SortOrdering = %v", o)
	}
	if cfg.Reload() {
		t.Error("reload_on_change: false was ignored")
	}
	if cfg.MQTT.TopicPrefix != "contactindex" || cfg.MQTT.BookID != "home" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}

func TestFileConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *FileConfig)
	}{
		{"empty store path", func(c *FileConfig) { c.Store.Path = "" }},
		{"bad ordering", func(c *FileConfig) { c.Ordering = "middle" }},
		{"unknown backend", func(c *FileConfig) { c.Snapshot.Backend = "s3" }},
		{"badger without path", func(c *FileConfig) { c.Snapshot.Backend = BackendBadger }},
		{"dir without dir", func(c *FileConfig) { c.Snapshot.Dir = "" }},
		{"bad log level", func(c *FileConfig) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
