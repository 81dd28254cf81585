// Package manifest handles perlite.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/perlite-lang/perlite/vm"
)

// Manifest represents a perlite.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Source  Source      `toml:"source"`
	Pragma  Pragma      `toml:"pragma"`
	Cache   CacheConfig `toml:"cache"`

	// Dir is the directory containing the perlite.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Package string `toml:"package"`
	Version string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// Pragma sets the default compile-time pragma state for scripts in the
// project. `use strict` etc. in a script still override these.
type Pragma struct {
	Strict   bool     `toml:"strict"`
	Warnings bool     `toml:"warnings"`
	Features []string `toml:"features"`
}

// CacheConfig configures the compiled-unit cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load parses a perlite.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "perlite.toml")
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

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"."}
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".perlite", "units.db")
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a perlite.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "perlite.toml")
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

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// CachePath returns the absolute path of the compiled-unit cache database.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// Pragmas converts the manifest's pragma section to the compiler's
// representation. Unknown feature names are reported as an error.
func (m *Manifest) Pragmas() (vm.Pragmas, error) {
	p := vm.Pragmas{
		Strict:   m.Pragma.Strict,
		Warnings: m.Pragma.Warnings,
	}
	for _, name := range m.Pragma.Features {
		switch name {
		case "say":
			p.Features |= vm.FeatureSay
		case "signatures":
			p.Features |= vm.FeatureSignatures
		case "postfix_deref":
			p.Features |= vm.FeaturePostfixDeref
		default:
			return vm.Pragmas{}, fmt.Errorf("unknown feature %q in %s", name, filepath.Join(m.Dir, "perlite.toml"))
		}
	}
	return p, nil
}
