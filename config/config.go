// Package config handles objcore.toml runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/objcore/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "objcore.toml"

// ErrInvalid is returned for configurations that parse but make no sense.
var ErrInvalid = errors.New("invalid configuration")

// Config represents an objcore.toml file.
type Config struct {
	Runtime Runtime `toml:"runtime"`
	Log     Log     `toml:"log"`
	Journal Journal `toml:"journal"`

	// Dir is the directory containing the objcore.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime mirrors vm.Options.
type Runtime struct {
	EnableDestructors bool  `toml:"enable-destructors"`
	DebugChecks       bool  `toml:"debug-checks"`
	MemoryLimit       int64 `toml:"memory-limit"`
	WarnUndefined     bool  `toml:"warn-undefined"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Journal configures the lifecycle event journal.
type Journal struct {
	// Path is the sqlite database file. Empty disables the journal.
	Path string `toml:"path"`
}

// Default returns the configuration used when no objcore.toml is found.
func Default() *Config {
	opts := vm.DefaultOptions()
	return &Config{
		Runtime: Runtime{
			EnableDestructors: opts.EnableDestructors,
			DebugChecks:       opts.DebugChecks,
			MemoryLimit:       opts.MemoryLimit,
			WarnUndefined:     opts.WarnUndefined,
		},
		Log: Log{Verbosity: 1},
	}
}

// Load parses an objcore.toml file from the given directory. Keys missing
// from the file keep their Default values.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if c.Runtime.MemoryLimit < 0 {
		return nil, fmt.Errorf("%w: %s: memory-limit %d is negative", ErrInvalid, path, c.Runtime.MemoryLimit)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	c.Journal.Path = c.resolve(c.Journal.Path)
	c.Log.File = c.resolve(c.Log.File)
	return c, nil
}

// FindAndLoad walks up from startDir to find an objcore.toml file,
// then loads and returns it. Returns Default() if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
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
			return Default(), nil
		}
		dir = parent
	}
}

// RuntimeOptions converts the [runtime] section into vm.Options.
func (c *Config) RuntimeOptions() vm.Options {
	return vm.Options{
		EnableDestructors: c.Runtime.EnableDestructors,
		DebugChecks:       c.Runtime.DebugChecks,
		MemoryLimit:       c.Runtime.MemoryLimit,
		WarnUndefined:     c.Runtime.WarnUndefined,
	}
}

// LogFile returns the configured log file, or nil for stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	return &c.Log.File
}

// resolve makes relative paths relative to the config directory.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
