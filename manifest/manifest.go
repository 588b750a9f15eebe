// Package manifest handles lavendeux.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a lavendeux.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Source  Source      `toml:"source"`
	Image   ImageConfig `toml:"image"`

	// Dir is the directory containing the lavendeux.toml file (set at
	// load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// ImageConfig configures image output and load-time defaults. lavc's
// -o flag overrides Output; AllowSyscallD and DebugInfo are on when
// either the manifest or the matching CLI flag turns them on, so a
// true manifest default cannot be switched off from the command line.
type ImageConfig struct {
	Output        string `toml:"output"`
	AllowSyscallD bool   `toml:"allow-syscalld"`
	DebugInfo     bool   `toml:"debug-info"`
}

// Load parses a lavendeux.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "lavendeux.toml")
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

	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main.lasm"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir looking for a lavendeux.toml file,
// then loads and returns the manifest. Returns a nil Manifest and nil
// error if none is found anywhere above startDir.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "lavendeux.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
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

// OutputPath returns the configured image output path, defaulting to
// the project name with a .lvbc extension.
func (m *Manifest) OutputPath() string {
	if m.Image.Output != "" {
		return m.Image.Output
	}
	name := m.Project.Name
	if name == "" {
		name = "out"
	}
	return filepath.Join(m.Dir, name+".lvbc")
}
