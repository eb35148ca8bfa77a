package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/transport"
)

const testContacts = `default_source: 1
sources:
  - id: 1
    type: local
contacts:
  - id: 1
    source_id: 1
    first_name: Zoë
    last_name: Álvarez
    phones:
      - label: mobile
        number: "+1 (555) 012-3456"
  - id: 2
    source_id: 1
    first_name: Ann
  - id: 3
    source_id: 1
    organization: Acme
`

// writeFixture writes a contact document and a config pointing at it.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "contacts.yaml")
	if err := os.WriteFile(store, []byte(testContacts), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := "store:\n  path: " + store + "\nsnapshot:\n  backend: dir\n  dir: " + filepath.Join(dir, "snap") + "\n"
	path := filepath.Join(dir, "contactindex.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSectionsCommand(t *testing.T) {
	cfg := writeFixture(t)

	out, err := execute(t, "--config", cfg, "sections", "--ids")
	if err != nil {
		t.Fatalf("sections: %v", err)
	}
	want := "A\t2\t3,2\nZ\t1\t1\n"
	if out != want {
		t.Errorf("sections output = %q, want %q", out, want)
	}

	out, err = execute(t, "--config", cfg, "--ordering", "last", "sections")
	if err != nil {
		t.Fatalf("sections: %v", err)
	}
	if out != "A\t3\n" {
		t.Errorf("last-name sections = %q", out)
	}
}

func TestLookupCommands(t *testing.T) {
	cfg := writeFixture(t)

	out, err := execute(t, "--config", cfg, "lookup", "phone", "+1 555 012 3456")
	if err != nil {
		t.Fatalf("lookup phone: %v", err)
	}
	if !strings.HasPrefix(out, "1\t") || !strings.HasSuffix(out, "\t15550123456\n") {
		t.Errorf("lookup phone output = %q", out)
	}

	out, err = execute(t, "--config", cfg, "lookup", "id", "3")
	if err != nil {
		t.Fatalf("lookup id: %v", err)
	}
	if !strings.HasPrefix(out, "3\tAcme\t") {
		t.Errorf("lookup id output = %q", out)
	}

	if _, err := execute(t, "--config", cfg, "lookup", "phone", "555-012-3456"); !errors.Is(err, errNoMatch) {
		t.Errorf("partial number should miss, got %v", err)
	}
	if _, err := execute(t, "--config", cfg, "lookup", "id", "abc"); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestLoadRestoresAfterFirstRun(t *testing.T) {
	cfg := writeFixture(t)

	out, err := execute(t, "--config", cfg, "load")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out != "3 contacts in 2 sections, 2 without phone (restored=false)\n" {
		t.Errorf("first load = %q", out)
	}

	out, err = execute(t, "--config", cfg, "load")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out, "restored=true") {
		t.Errorf("second load should restore the snapshot, got %q", out)
	}

	if out, err = execute(t, "--config", cfg, "reset"); err != nil || out != "snapshot deleted\n" {
		t.Fatalf("reset = %q, %v", out, err)
	}
	out, err = execute(t, "--config", cfg, "load")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out, "restored=false") {
		t.Errorf("load after reset should enumerate, got %q", out)
	}
}

func TestMissingExplicitConfig(t *testing.T) {
	if _, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "load"); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

type fakeTarget struct {
	calls []string
}

func (f *fakeTarget) record(op string, id core.RecordID) error {
	f.calls = append(f.calls, op+":"+id.String())
	return nil
}

func (f *fakeTarget) Insert(_ context.Context, id core.RecordID) error  { return f.record("insert", id) }
func (f *fakeTarget) Delete(_ context.Context, id core.RecordID) error  { return f.record("delete", id) }
func (f *fakeTarget) Reindex(_ context.Context, id core.RecordID) error { return f.record("reindex", id) }
func (f *fakeTarget) Reload(_ context.Context) error                    { return f.record("reload", 0) }

func TestApplyCommand(t *testing.T) {
	f := &fakeTarget{}
	ctx := context.Background()
	cmds := []transport.Command{
		{Op: transport.OpInsert, ID: 4},
		{Op: transport.OpReindex, ID: 4},
		{Op: transport.OpDelete, ID: 4},
		{Op: transport.OpReload},
	}
	for _, c := range cmds {
		if err := applyCommand(ctx, f, c); err != nil {
			t.Fatalf("applyCommand(%+v): %v", c, err)
		}
	}
	want := "insert:4 reindex:4 delete:4 reload:0"
	if got := strings.Join(f.calls, " "); got != want {
		t.Errorf("calls = %q, want %q", got, want)
	}
	if err := applyCommand(ctx, f, transport.Command{Op: "merge"}); err == nil {
		t.Error("expected error for unknown op")
	}
}
