package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// recordFile is the serialized Record, kept under a CACHE subdirectory so
	// the materialized package tree next to it stays pristine.
	recordFile = ".cache"

	// lockRetryInterval is the poll interval while waiting for another
	// process to finish writing the same package's record.
	lockRetryInterval = 50 * time.Millisecond
)

// Store manages cache records and package directories under a single cache
// root. Layout per package:
//
//	<root>/<name>/CACHE/.cache   record
//	<root>/<name>/<name>/        materialized package
//
// Record reads are memoized per process behind a mutex; record writes and
// subtree removal additionally take a per-package file lock so concurrent
// invocations for different packages never interfere. Concurrent invocations
// for the same package are not made mutually exclusive beyond that.
type Store struct {
	root string

	mu   sync.Mutex
	memo map[string]*Record
}

func NewStore(root string) *Store {
	return &Store{root: root, memo: make(map[string]*Record)}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// PackageDir returns the materialized package root for name.
func (s *Store) PackageDir(name string) string {
	return filepath.Join(s.root, name, name)
}

func (s *Store) cacheDir(name string) string {
	return filepath.Join(s.root, name, "CACHE")
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.cacheDir(name), recordFile)
}

// IsValid reports whether the cached copy of name can be reused for d. It is
// false when the package directory is missing, when no record exists, or when
// the record's fingerprint differs from d's. A corrupt or unreadable record
// counts as invalid rather than failing, so the caller refetches cleanly.
func (s *Store) IsValid(name string, d *Descriptor) bool {
	if _, err := os.Stat(s.PackageDir(name)); err != nil {
		return false
	}

	rec, err := s.Load(name)
	if err != nil || rec == nil {
		return false
	}

	return fingerprint(rec) == Fingerprint(d)
}

// Load returns the record for name, or (nil, nil) when none exists. Reads are
// memoized for the lifetime of the process.
func (s *Store) Load(name string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.memo[name]; ok {
		return rec, nil
	}

	data, err := os.ReadFile(s.recordPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache record for %s: %w", name, err)
	}

	rec := &Record{}
	if err := toml.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("parsing cache record for %s: %w", name, err)
	}

	s.memo[name] = rec
	return rec, nil
}

// Save persists d as the record for name, making the package directory valid
// for subsequent runs. The write is guarded by a per-package file lock so a
// concurrent reader in another process never observes a half-written record.
func (s *Store) Save(ctx context.Context, name string, d *Descriptor) error {
	if err := os.MkdirAll(s.cacheDir(name), dirPerm); err != nil {
		return fmt.Errorf("creating cache dir for %s: %w", name, err)
	}

	rec := d.record()
	data, err := toml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling cache record for %s: %w", name, err)
	}

	lock, err := s.acquireLock(ctx, name)
	if err != nil {
		return err
	}
	defer lock.Close()

	if err := os.WriteFile(s.recordPath(name), data, filePerm); err != nil {
		return fmt.Errorf("writing cache record for %s: %w", name, err)
	}

	s.mu.Lock()
	s.memo[name] = rec
	s.mu.Unlock()

	return nil
}

// Invalidate removes the package's entire subtree (directory and record) and
// drops the memoized record. After it returns, the package is in the absent
// state; only a subsequent successful fetch brings it back.
func (s *Store) Invalidate(name string) error {
	s.mu.Lock()
	delete(s.memo, name)
	s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
		return fmt.Errorf("removing cached package %s: %w", name, err)
	}
	return nil
}

// Reset removes the whole cache root and recreates it empty.
func (s *Store) Reset() error {
	s.mu.Lock()
	s.memo = make(map[string]*Record)
	s.mu.Unlock()

	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("removing cache root: %w", err)
	}
	if err := os.MkdirAll(s.root, dirPerm); err != nil {
		return fmt.Errorf("recreating cache root: %w", err)
	}
	return nil
}

// acquireLock takes the per-package record lock, polling until acquired or
// the context is done. The lock file is left on disk after release; removing
// it could invalidate a lock concurrently acquired by another process.
func (s *Store) acquireLock(ctx context.Context, name string) (*flock.Flock, error) {
	fl := flock.New(s.recordPath(name) + ".lock")

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("locking cache record for %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("locking cache record for %s: lock not acquired", name)
	}
	return fl, nil
}
