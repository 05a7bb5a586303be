package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/ski/compiler"
	"github.com/chazu/ski/manifest"
	"github.com/chazu/ski/vm"
)

func runString(t *testing.T, m *manifest.Manifest, src string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), m, strings.NewReader(src), &out)
	return out.String(), err
}

func TestRun_Output(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"identity", "I a", "a\na\n"},
		{"kestrel", "K a b", "a\na\n"},
		{"skk", "S K K a\n", "Ka(Ka)\nKa(Ka)\na\na\n"},
		{"already normal", "42", ""},
		{"empty input", "", ""},
		{"nested head", "(K a) b c", "ac\nac\n"},
		{"integers", "K 1 2 3", "1 3 \n1 3 \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runString(t, manifest.Default(), tt.src)
			if err != nil {
				t.Fatalf("run returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_ParseErrorWritesNothing(t *testing.T) {
	got, err := runString(t, manifest.Default(), "(a b")
	if !errors.Is(err, compiler.ErrParse) {
		t.Fatalf("error = %v, want a parse error", err)
	}
	if got != "" {
		t.Errorf("output = %q, want nothing", got)
	}
}

func TestRun_HeapExhausted(t *testing.T) {
	m := manifest.Default()
	m.Heap.InitialCells = 8
	m.Heap.MaxCells = 8

	_, err := runString(t, m, "a b c d e f g h")
	if !errors.Is(err, vm.ErrHeapExhausted) {
		t.Fatalf("error = %v, want heap exhaustion", err)
	}
}

func TestRun_SpacedStyle(t *testing.T) {
	m := manifest.Default()
	m.Print.Style = "spaced"

	got, err := runString(t, m, "S K K a")
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if want := "K a (K a)\nK a (K a)\na\na\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRun_StepLimit(t *testing.T) {
	m := manifest.Default()
	m.Run.MaxSteps = 1

	got, err := runString(t, m, "I (K a b) 3")
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if want := "(Kab)3 \nKab3 \n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRun_DumpsHeapImage(t *testing.T) {
	m := manifest.Default()
	m.Run.Dump = filepath.Join(t.TempDir(), "heap.cbor")

	if _, err := runString(t, m, "K a b"); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	data, err := os.ReadFile(m.Run.Dump)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	img, err := vm.UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage: %v", err)
	}
	store, err := vm.LoadImage(img)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if got := vm.FormatRoot(store, vm.StyleSpaced); got != "a" {
		t.Errorf("dumped program = %q, want %q", got, "a")
	}
}

func TestReadInput_LongerThanChunk(t *testing.T) {
	src := strings.Repeat("a ", chunkSize*3)
	got, err := readInput(strings.NewReader(src))
	if err != nil {
		t.Fatalf("readInput returned error: %v", err)
	}
	if string(got) != src {
		t.Errorf("readInput returned %d bytes, want %d", len(got), len(src))
	}
}
