// Package manifest handles convm.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "convm.toml"

// Manifest represents a convm.toml configuration.
type Manifest struct {
	Game  Game        `toml:"game"`
	VM    VMConfig    `toml:"vm"`
	Debug DebugConfig `toml:"debug"`
	Log   LogConfig   `toml:"log"`
	Store StoreConfig `toml:"store"`

	// Dir is the directory containing the convm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Game locates the game data a conversation runs against.
type Game struct {
	Type           string `toml:"type"` // "uw1" or "uw2"
	DataDir        string `toml:"data-dir"`
	Archive        string `toml:"archive"`
	Strings        string `toml:"strings"`
	Globals        string `toml:"globals"`
	InitialGlobals string `toml:"initial-globals"`
}

// VMConfig tunes the interpreter.
type VMConfig struct {
	StackSize int    `toml:"stack-size"`
	Seed      uint64 `toml:"seed"`
	Fixups    *bool  `toml:"fixups"`
}

// DebugConfig configures the debug server.
type DebugConfig struct {
	Listen string `toml:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// StoreConfig configures the save store.
type StoreConfig struct {
	SQLite string `toml:"sqlite"`
	Save   string `toml:"save"`
}

// Default values applied at load time.
const (
	DefaultStackSize = 4096
	DefaultListen    = "127.0.0.1:8717"
	DefaultSave      = "current"
)

// Default returns the configuration used when no convm.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a convm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Game.Type != "" && m.Game.Type != "uw1" && m.Game.Type != "uw2" {
		return nil, fmt.Errorf("%s: unknown game type %q", path, m.Game.Type)
	}
	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Game.Type == "" {
		m.Game.Type = "uw1"
	}
	if m.Game.DataDir == "" {
		m.Game.DataDir = "data"
	}
	if m.Game.Archive == "" {
		m.Game.Archive = "cnv.ark"
	}
	if m.Game.Strings == "" {
		m.Game.Strings = "strings.toml"
	}
	if m.Game.Globals == "" {
		m.Game.Globals = "bglobals.dat"
	}
	if m.Game.InitialGlobals == "" {
		m.Game.InitialGlobals = "babglobs.dat"
	}
	if m.VM.StackSize == 0 {
		m.VM.StackSize = DefaultStackSize
	}
	if m.VM.Fixups == nil {
		on := m.Game.Type == "uw1"
		m.VM.Fixups = &on
	}
	if m.Debug.Listen == "" {
		m.Debug.Listen = DefaultListen
	}
	if m.Store.Save == "" {
		m.Store.Save = DefaultSave
	}
}

// FindAndLoad walks up from startDir to find a convm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// resolve joins a configured path onto dir unless it is absolute.
func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// DataDir returns the absolute game data directory.
func (m *Manifest) DataDir() string {
	return resolve(m.Dir, m.Game.DataDir)
}

// ArchivePath returns the path of the conversation archive.
func (m *Manifest) ArchivePath() string {
	return resolve(m.DataDir(), m.Game.Archive)
}

// StringsPath returns the path of the TOML string table.
func (m *Manifest) StringsPath() string {
	return resolve(m.DataDir(), m.Game.Strings)
}

// GlobalsPath returns the saved globals file and, when it does not exist, the
// initial globals file instead. initial reports which one was chosen.
func (m *Manifest) GlobalsPath() (path string, initial bool) {
	saved := resolve(m.DataDir(), m.Game.Globals)
	if _, err := os.Stat(saved); err == nil {
		return saved, false
	}
	return resolve(m.DataDir(), m.Game.InitialGlobals), true
}

// SavedGlobalsPath returns where globals are written back.
func (m *Manifest) SavedGlobalsPath() string {
	return resolve(m.DataDir(), m.Game.Globals)
}

// StorePath returns the SQLite save store path, or "" when none is
// configured.
func (m *Manifest) StorePath() string {
	if m.Store.SQLite == "" {
		return ""
	}
	return resolve(m.Dir, m.Store.SQLite)
}

// FixupsEnabled reports whether known-bad scripts are patched after load.
func (m *Manifest) FixupsEnabled() bool {
	return m.VM.Fixups != nil && *m.VM.Fixups
}
