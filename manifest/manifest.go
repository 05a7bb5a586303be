// Package manifest handles ski.toml runtime configuration.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/ski/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "ski.toml"

// Manifest represents a ski.toml configuration.
type Manifest struct {
	Heap   HeapConfig   `toml:"heap"`
	Print  PrintConfig  `toml:"print"`
	Run    RunConfig    `toml:"run"`
	Server ServerConfig `toml:"server"`
	Log    LogConfig    `toml:"log"`

	// Path is the file the manifest was loaded from, empty for defaults.
	Path string `toml:"-"`
}

// HeapConfig sizes the cell store.
type HeapConfig struct {
	InitialCells int `toml:"initial-cells"`
	MaxCells     int `toml:"max-cells"`
}

// PrintConfig selects the printer layout: "compact" (the default, atoms
// juxtaposed) or "spaced".
type PrintConfig struct {
	Style string `toml:"style"`
}

// RunConfig bounds command-line reductions.
type RunConfig struct {
	MaxSteps int    `toml:"max-steps"`
	Dump     string `toml:"dump"` // heap image written at shutdown
}

// ServerConfig configures the reduction service.
type ServerConfig struct {
	Addr     string `toml:"addr"`
	MaxSteps int    `toml:"max-steps"`
}

// LogConfig configures commonlog. Verbosity follows commonlog.Configure:
// -1 warnings, 0 notices, 1 info, 2 debug.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Defaults
const (
	DefaultAddr           = ":4568"
	DefaultServerMaxSteps = 10000
	DefaultVerbosity      = -1
)

// Default returns the configuration used when no ski.toml exists.
func Default() *Manifest {
	m := &Manifest{Log: LogConfig{Verbosity: DefaultVerbosity}}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Heap.InitialCells == 0 {
		m.Heap.InitialCells = vm.DefaultInitialCapacity
	}
	if m.Print.Style == "" {
		m.Print.Style = vm.StyleCompact.String()
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
	if m.Server.MaxSteps == 0 {
		m.Server.MaxSteps = DefaultServerMaxSteps
	}
}

// Load parses the ski.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file at an explicit path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	// Log verbosity defaults to warnings unless the file says otherwise.
	m := Manifest{Log: LogConfig{Verbosity: DefaultVerbosity}}
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a ski.toml file, then loads
// and returns it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (m *Manifest) Validate() error {
	if m.Heap.InitialCells < 0 || m.Heap.MaxCells < 0 {
		return fmt.Errorf("heap sizes must not be negative")
	}
	if m.Heap.MaxCells > 0 && m.Heap.MaxCells < m.Heap.InitialCells {
		return fmt.Errorf("heap max-cells %d is below initial-cells %d", m.Heap.MaxCells, m.Heap.InitialCells)
	}
	if m.Run.MaxSteps < 0 || m.Server.MaxSteps < 0 {
		return fmt.Errorf("max-steps must not be negative")
	}
	if _, err := vm.ParseStyle(m.Print.Style); err != nil {
		return err
	}
	return nil
}

// StoreOptions converts the heap section into store options.
func (m *Manifest) StoreOptions() []vm.StoreOption {
	return []vm.StoreOption{
		vm.WithInitialCapacity(m.Heap.InitialCells),
		vm.WithMaxCells(m.Heap.MaxCells),
	}
}

// Style returns the configured print style.
func (m *Manifest) Style() vm.Style {
	st, _ := vm.ParseStyle(m.Print.Style)
	return st
}

// ConfigureLogging applies the log section to the commonlog backend.
func (m *Manifest) ConfigureLogging() {
	if m.Log.File == "" {
		commonlog.Configure(m.Log.Verbosity, nil)
		return
	}
	path := m.Log.File
	commonlog.Configure(m.Log.Verbosity, &path)
}
