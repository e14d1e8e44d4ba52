package manifest

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/pkgmng/pkgmng/pkg/cache"
)

// Package is one fetch request in a manifest. Field names match the fetch
// command's flags.
type Package struct {
	Name             string `json:"name"`
	Version          string `json:"version,omitempty"`
	GitTag           string `json:"git-tag,omitempty"`
	GithubRepository string `json:"github-repository,omitempty"`
	GitRepository    string `json:"git-repository,omitempty"`
	URL              string `json:"url,omitempty"`
	KeepUpdated      bool   `json:"keep-updated,omitempty"`

	// Options are passed through to the build system and are never part of
	// the package's cache identity.
	Options []string `json:"options,omitempty"`
}

// Descriptor returns the identity-relevant view of the package.
func (p *Package) Descriptor() *cache.Descriptor {
	return &cache.Descriptor{
		Name:             p.Name,
		Version:          p.Version,
		GitTag:           p.GitTag,
		GithubRepository: p.GithubRepository,
		GitRepository:    p.GitRepository,
		URL:              p.URL,
	}
}

// Manifest lists packages to fetch in one batch invocation.
type Manifest struct {
	Packages []Package `json:"packages"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a YAML manifest and validates it: every package needs a name,
// and names must be unique because the per-package cache subtree is the unit
// of atomicity for concurrent fetches.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.UnmarshalStrict(data, m); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(m.Packages))
	for i, p := range m.Packages {
		if p.Name == "" {
			return nil, fmt.Errorf("package %d has no name", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate package name %q", p.Name)
		}
		seen[p.Name] = true
	}

	return m, nil
}
