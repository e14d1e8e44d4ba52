package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkgmng/pkgmng/pkg/cache"
	"github.com/pkgmng/pkgmng/pkg/logging"
)

// NoSourceError reports a descriptor with no acquisition source configured.
// It is raised before any filesystem or network activity.
type NoSourceError struct {
	Name string
}

func (e *NoSourceError) Error() string {
	return fmt.Sprintf("no source specified for %s", e.Name)
}

// FetchError reports a failed package acquisition. No cache record is written
// for a failed fetch, so the next run retries from the absent state.
type FetchError struct {
	Name string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Name, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// GitAcquirer clones and updates git-backed packages.
type GitAcquirer interface {
	Clone(ctx context.Context, repo, dest, tag string) error
	// Update returns false on any fetch/reset failure so the caller can fall
	// back to a full refetch.
	Update(ctx context.Context, dest string) bool
}

// ArchiveAcquirer downloads and extracts archive-backed packages.
type ArchiveAcquirer interface {
	Fetch(ctx context.Context, name, url, destDir string) error
}

// Manager drives the fetch decision for a single package: reuse a valid
// cached copy, update it in place, or discard and refetch.
type Manager struct {
	store   *cache.Store
	git     GitAcquirer
	archive ArchiveAcquirer
	log     logging.Logger
}

func New(store *cache.Store, git GitAcquirer, archive ArchiveAcquirer, log logging.Logger) *Manager {
	return &Manager{store: store, git: git, archive: archive, log: log}
}

// Process materializes the package described by d and returns its directory.
// keepUpdated requests an in-place update of a cached git-backed package.
//
// The cache validity check, and any invalidation it forces, always completes
// before a fetch or update begins. A cache record is written only after a
// fully successful fetch; every failure leaves the package absent.
func (m *Manager) Process(ctx context.Context, d *cache.Descriptor, keepUpdated bool) (string, error) {
	name := d.Name
	if !d.HasSource() {
		return "", &NoSourceError{Name: name}
	}

	pkgDir := m.store.PackageDir(name)
	m.log.Info("Processing package: " + name)
	if d.Version != "" {
		m.log.Info("Version: " + d.Version)
	}
	if d.GitTag != "" {
		m.log.Info("Git tag: " + d.GitTag)
	}

	m.log.Info("Checking cache validity...")
	if dirExists(pkgDir) && !m.store.IsValid(name, d) {
		m.log.Status("REFETCH", name)
		if err := m.ClearPackage(name); err != nil {
			return "", &FetchError{Name: name, Err: err}
		}
	}

	if dirExists(pkgDir) {
		if keepUpdated && d.GitURL() != "" {
			m.log.Status("UPDATE", name)
			m.log.Info("Attempting to update existing package...")
			if m.git.Update(ctx, pkgDir) {
				m.log.Status("EXISTS", pkgDir)
				return pkgDir, nil
			}
			m.log.Info("Update failed, clearing cache for refetch...")
			if err := m.ClearPackage(name); err != nil {
				return "", &FetchError{Name: name, Err: err}
			}
		} else {
			m.log.Status("CACHED", name)
			m.log.Info("Using cached package")
			m.log.Status("EXISTS", pkgDir)
			return pkgDir, nil
		}
	}

	m.log.Info("Package not in cache, downloading...")
	if err := os.MkdirAll(filepath.Dir(pkgDir), 0o755); err != nil {
		return "", &FetchError{Name: name, Err: err}
	}

	if repo := d.GitURL(); repo != "" {
		if d.GithubRepository != "" {
			m.log.Info("Using GitHub repository: " + d.GithubRepository)
		} else {
			m.log.Info("Using git repository: " + repo)
		}
		m.log.Info("Starting clone for package: " + name)
		if err := m.git.Clone(ctx, repo, pkgDir, d.EffectiveTag()); err != nil {
			return "", &FetchError{Name: name, Err: err}
		}
	} else {
		m.log.Info("Using URL: " + d.URL)
		m.log.Info("Starting archive download for package: " + name)
		if err := m.archive.Fetch(ctx, name, d.URL, pkgDir); err != nil {
			return "", &FetchError{Name: name, Err: err}
		}
	}

	m.log.Info("Saving package metadata...")
	if err := m.store.Save(ctx, name, d); err != nil {
		return "", &FetchError{Name: name, Err: err}
	}

	m.log.Status("EXISTS", pkgDir)
	m.log.Success(pkgDir)
	return pkgDir, nil
}

// ClearPackage drops a single package's directory and cache record together.
func (m *Manager) ClearPackage(name string) error {
	m.log.Info("Clearing package cache for: " + name)
	if !dirExists(filepath.Join(m.store.Root(), name)) {
		m.log.Info(fmt.Sprintf("Package %s not found in cache", name))
		return nil
	}

	if err := m.store.Invalidate(name); err != nil {
		return err
	}
	m.log.Info(fmt.Sprintf("Package %s cleared successfully", name))
	return nil
}

// ClearAll wipes the whole cache root and recreates it empty.
func (m *Manager) ClearAll() error {
	return m.store.Reset()
}

func dirExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
