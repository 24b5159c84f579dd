// Package codestore persists candidate formula sources, one file per formula
// named after the lower-cased formula name.
package codestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"github.com/zjrosen/formulary/internal/cachemanager"
	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/log"
	"github.com/zjrosen/formulary/internal/watcher"
)

const (
	ext      = ".go"
	lockFile = ".formulary.lock"

	DefaultLockTimeout = 5 * time.Second
	DefaultCacheTTL    = 5 * time.Minute
)

// Saved describes a completed write.
type Saved struct {
	Name    string    `json:"formula_name"`
	Path    string    `json:"path"`
	SavedAt time.Time `json:"saved_at"`
}

// Store is safe for concurrent use within a process; writers in other
// processes are serialized through a lock file in the store directory.
type Store struct {
	dir         string
	lockTimeout time.Duration
	cache       *cachemanager.ReadThrough[string, string]
	watch       bool
	watcher     *watcher.Watcher
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	lockTimeout time.Duration
	cacheTTL    time.Duration
	noCache     bool
	watch       bool
}

// WithLockTimeout bounds how long Save and Delete wait for the writer lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *storeOptions) { o.lockTimeout = d }
}

// WithCacheTTL sets how long read sources stay cached. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(o *storeOptions) {
		o.cacheTTL = d
		o.noCache = d <= 0
	}
}

// WithWatch drops cached sources when files change on disk.
func WithWatch(enabled bool) Option {
	return func(o *storeOptions) { o.watch = enabled }
}

// Open creates dir if needed and returns a store rooted there.
func Open(dir string, opts ...Option) (*Store, error) {
	o := storeOptions{lockTimeout: DefaultLockTimeout, cacheTTL: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating code store %s: %w", formula.ErrStorage, dir, err)
	}

	s := &Store{dir: dir, lockTimeout: o.lockTimeout, watch: o.watch}
	s.cache = cachemanager.NewReadThrough[string, string](
		cachemanager.NewInMemory[string, string]("codestore", o.cacheTTL, cachemanager.DefaultCleanupInterval),
		s.read,
		o.cacheTTL,
		o.noCache,
	)
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file a formula's source lives in.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, strings.ToLower(name)+ext)
}

// Start begins watching the directory if the store was opened WithWatch. The
// watch ends when ctx is cancelled.
func (s *Store) Start(ctx context.Context) error {
	if !s.watch {
		return nil
	}
	w, err := watcher.New(watcher.Config{
		Dir:         s.dir,
		Match:       isSourceFile,
		DebounceDur: watcher.DefaultConfig(s.dir).DebounceDur,
	})
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case files, ok := <-changes:
				if !ok {
					return
				}
				keys := make([]string, 0, len(files))
				for _, f := range files {
					keys = append(keys, strings.TrimSuffix(f, ext))
				}
				s.cache.Invalidate(ctx, keys...)
				log.Debug(log.CatStore, "Invalidated cached sources", "files", strings.Join(files, ","))
			}
		}
	}()
	return nil
}

// Close stops the directory watcher, if any.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Stop()
	s.watcher = nil
	return err
}

// Save writes source atomically, replacing any previous version.
func (s *Store) Save(ctx context.Context, name, source string) (Saved, error) {
	if err := checkName(name); err != nil {
		return Saved{}, err
	}
	path := s.Path(name)

	unlock, err := s.lock(ctx)
	if err != nil {
		return Saved{}, err
	}
	defer unlock()

	if err := renameio.WriteFile(path, []byte(source), 0o644); err != nil {
		return Saved{}, fmt.Errorf("%w: writing %s: %w", formula.ErrStorage, path, err)
	}
	s.cache.Invalidate(ctx, strings.ToLower(name))

	log.Info(log.CatStore, "Saved formula source", "name", name, "path", path, "bytes", len(source))
	return Saved{Name: name, Path: path, SavedAt: time.Now().UTC()}, nil
}

// Get returns the saved source or formula.ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return s.cache.Get(ctx, strings.ToLower(name))
}

// Delete removes the saved source. Deleting a name with no source succeeds.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	path := s.Path(name)

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	err = os.Remove(path)
	s.cache.Invalidate(ctx, strings.ToLower(name))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("%w: deleting %s: %w", formula.ErrStorage, path, err)
	}
	log.Info(log.CatStore, "Deleted formula source", "name", name)
	return nil
}

// List returns every saved formula name, upper-cased and sorted.
func (s *Store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: listing %s: %w", formula.ErrStorage, s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isSourceFile(e.Name()) {
			continue
		}
		names = append(names, strings.ToUpper(strings.TrimSuffix(e.Name(), ext)))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) read(_ context.Context, key string) (string, error) {
	path := filepath.Join(s.dir, key+ext)
	data, err := os.ReadFile(path) //nolint:gosec // key is validated by checkName
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: no code saved for formula %s", formula.ErrNotFound, strings.ToUpper(key))
		}
		return "", fmt.Errorf("%w: reading %s: %w", formula.ErrStorage, path, err)
	}
	return string(data), nil
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	lock := flock.New(filepath.Join(s.dir, lockFile))
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring code store lock: %w", formula.ErrStorage, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: timeout waiting for code store lock", formula.ErrStorage)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			log.ErrorErr(log.CatStore, "Releasing code store lock", err)
		}
	}, nil
}

// isSourceFile skips the lock file and renameio temp files, which start with a dot.
func isSourceFile(name string) bool {
	return strings.HasSuffix(name, ext) && !strings.HasPrefix(name, ".")
}

func checkName(name string) error {
	return formula.CheckSourceName(name)
}
