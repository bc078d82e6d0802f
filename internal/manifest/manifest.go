// Package manifest loads the optional appack.yaml file at an AppDir root,
// which tunes how the directory is packaged.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"appack/internal/logging"

	"gopkg.in/yaml.v3"
)

var (
	logger = logging.GetLogger().WithPrefix("manifest")
)

// Filename is the well-known manifest name at the AppDir root.
const Filename = "appack.yaml"

// DefaultEntryPoint is the launcher the bootstrap executes after mounting.
// The bootstrap always looks for this exact name, so a manifest override
// renames the file during packaging rather than recording a different name.
const DefaultEntryPoint = "AppRun"

// Compression methods accepted by the manifest.
const (
	CompressionDeflate = "deflate"
	CompressionStore   = "store"
)

// Manifest describes packaging options for one AppDir.
type Manifest struct {
	// Name overrides the output image name (without directory).
	Name string `yaml:"name,omitempty"`

	// EntryPoint is the AppDir-relative launcher path. Defaults to AppRun.
	EntryPoint string `yaml:"entrypoint,omitempty"`

	// Compression selects deflate (default) or store for file entries.
	Compression string `yaml:"compression,omitempty"`

	// Exclude lists glob patterns (matched against slash-separated
	// AppDir-relative paths) to leave out of the image.
	Exclude []string `yaml:"exclude,omitempty"`
}

// Default returns the manifest used when an AppDir carries none.
func Default() *Manifest {
	return &Manifest{
		EntryPoint:  DefaultEntryPoint,
		Compression: CompressionDeflate,
	}
}

// Load reads the manifest from the AppDir root, falling back to defaults
// when the file does not exist. A present but unreadable or invalid
// manifest is an error; silently packaging with defaults would hide a
// typo in the user's configuration.
func Load(appDir string) (*Manifest, error) {
	path := filepath.Join(appDir, Filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("No manifest at %s, using defaults", path)
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	logger.Debug("Parsing manifest %s (%d bytes)", path, len(data))
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	// Fill defaults for anything left unset
	if m.EntryPoint == "" {
		m.EntryPoint = DefaultEntryPoint
	}
	if m.Compression == "" {
		m.Compression = CompressionDeflate
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	logger.Info("Loaded manifest: entrypoint=%s compression=%s",
		m.EntryPoint, m.Compression)
	return &m, nil
}

func (m *Manifest) validate() error {
	switch m.Compression {
	case CompressionDeflate, CompressionStore:
	default:
		return fmt.Errorf("unknown compression %q", m.Compression)
	}

	if filepath.IsAbs(m.EntryPoint) {
		return fmt.Errorf("entrypoint %q must be AppDir-relative", m.EntryPoint)
	}

	for _, pattern := range m.Exclude {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("bad exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Excluded reports whether the AppDir-relative path matches any exclude
// pattern. The manifest itself is always excluded from the image.
func (m *Manifest) Excluded(relPath string) bool {
	if relPath == Filename {
		return true
	}
	for _, pattern := range m.Exclude {
		if ok, _ := filepath.Match(pattern, relPath); ok {
			logger.Trace("Excluding %q (pattern %q)", relPath, pattern)
			return true
		}
	}
	return false
}
