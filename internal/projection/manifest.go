package projection

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/librarium-lab/librarium/internal/core/storage"
)

// Manifest declares which projection kinds a deployment runs. Operators
// disable a kind to take it out of rotation without redeploying; its
// checkpoint stays put so re-enabling resumes where it left off.
type Manifest struct {
	Projections []ManifestEntry `yaml:"projections"`
}

// ManifestEntry configures one projection kind.
type ManifestEntry struct {
	Kind    storage.Kind `yaml:"kind"`
	Enabled bool         `yaml:"enabled"`
}

// DefaultManifest enables every known kind.
func DefaultManifest() Manifest {
	kinds := AllKinds()
	entries := make([]ManifestEntry, 0, len(kinds))
	for _, kind := range kinds {
		entries = append(entries, ManifestEntry{Kind: kind, Enabled: true})
	}
	return Manifest{Projections: entries}
}

// LoadManifest reads a manifest file. An empty path yields the default
// manifest with every kind enabled.
func LoadManifest(path string) (Manifest, error) {
	if path == "" {
		return DefaultManifest(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read projection manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse projection manifest: %w", err)
	}

	known := make(map[storage.Kind]bool, len(AllKinds()))
	for _, kind := range AllKinds() {
		known[kind] = true
	}
	for _, entry := range m.Projections {
		if !known[entry.Kind] {
			return Manifest{}, fmt.Errorf("projection manifest: unknown kind %q", entry.Kind)
		}
	}
	return m, nil
}

// Enabled reports whether the manifest enables the kind. Kinds absent from
// the manifest are disabled.
func (m Manifest) Enabled(kind storage.Kind) bool {
	for _, entry := range m.Projections {
		if entry.Kind == kind {
			return entry.Enabled
		}
	}
	return false
}

// EnabledKinds returns the enabled kinds in manifest order.
func (m Manifest) EnabledKinds() []storage.Kind {
	var kinds []storage.Kind
	for _, entry := range m.Projections {
		if entry.Enabled {
			kinds = append(kinds, entry.Kind)
		}
	}
	return kinds
}
