package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/ski/vm"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[heap]
initial-cells = 4096
max-cells = 1048576

[print]
style = "compact"

[run]
max-steps = 500
dump = "heap.cbor"

[server]
addr = "127.0.0.1:9000"
max-steps = 2000

[log]
verbosity = 2
file = "ski.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Heap.InitialCells != 4096 || m.Heap.MaxCells != 1048576 {
		t.Errorf("heap = %+v, want 4096/1048576", m.Heap)
	}
	if m.Style() != vm.StyleCompact {
		t.Errorf("style = %v, want compact", m.Style())
	}
	if m.Run.MaxSteps != 500 || m.Run.Dump != "heap.cbor" {
		t.Errorf("run = %+v", m.Run)
	}
	if m.Server.Addr != "127.0.0.1:9000" || m.Server.MaxSteps != 2000 {
		t.Errorf("server = %+v", m.Server)
	}
	if m.Log.Verbosity != 2 || m.Log.File != "ski.log" {
		t.Errorf("log = %+v", m.Log)
	}
	if want := filepath.Join(dir, FileName); m.Path != want {
		t.Errorf("path = %q, want %q", m.Path, want)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[run]\nmax-steps = 3\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Heap.InitialCells != vm.DefaultInitialCapacity {
		t.Errorf("initial-cells = %d, want %d", m.Heap.InitialCells, vm.DefaultInitialCapacity)
	}
	if m.Print.Style != "compact" {
		t.Errorf("style = %q, want compact", m.Print.Style)
	}
	if m.Server.Addr != DefaultAddr {
		t.Errorf("addr = %q, want %q", m.Server.Addr, DefaultAddr)
	}
	if m.Server.MaxSteps != DefaultServerMaxSteps {
		t.Errorf("server max-steps = %d, want %d", m.Server.MaxSteps, DefaultServerMaxSteps)
	}
	if m.Log.Verbosity != DefaultVerbosity {
		t.Errorf("verbosity = %d, want %d", m.Log.Verbosity, DefaultVerbosity)
	}
}

func TestDefault(t *testing.T) {
	m := Default()
	if m.Path != "" {
		t.Errorf("path = %q, want empty", m.Path)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
	if m.Run.MaxSteps != 0 {
		t.Errorf("run max-steps = %d, want unbounded", m.Run.MaxSteps)
	}
	if m.Style() != vm.StyleCompact {
		t.Errorf("style = %v, want compact", m.Style())
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected an error for a directory without ski.toml")
	}
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[heap\ninitial-cells = 1\n")

	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "parse error") {
		t.Errorf("error = %v, want a parse error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative heap", "[heap]\nmax-cells = -1\n"},
		{"max below initial", "[heap]\ninitial-cells = 1024\nmax-cells = 512\n"},
		{"negative run steps", "[run]\nmax-steps = -5\n"},
		{"negative server steps", "[server]\nmax-steps = -1\n"},
		{"unknown style", "[print]\nstyle = \"fancy\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[print]\nstyle = \"compact\"\n")

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if want := filepath.Join(root, FileName); m.Path != want {
		t.Errorf("path = %q, want %q", m.Path, want)
	}
	if m.Style() != vm.StyleCompact {
		t.Errorf("style = %v, want compact", m.Style())
	}
}

func TestFindAndLoadDefaults(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m.Path != "" {
		t.Skipf("found an enclosing %s at %s", FileName, m.Path)
	}
	if m.Server.Addr != DefaultAddr {
		t.Errorf("addr = %q, want %q", m.Server.Addr, DefaultAddr)
	}
}

func TestStoreOptions(t *testing.T) {
	m := Default()
	m.Heap.InitialCells = 32
	m.Heap.MaxCells = 48

	s := vm.NewStore(m.StoreOptions()...)
	s.Alloc(1)
	st := s.Stats()
	if st.Capacity != 32 || st.MaxCells != 48 {
		t.Errorf("capacity = %d, max = %d, want 32 and 48", st.Capacity, st.MaxCells)
	}
}
