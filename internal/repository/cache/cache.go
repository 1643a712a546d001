package cache

import (
	"context"
	"crypto/sha1" //nolint:gosec // SHA-1 names cache entries, it is not used for integrity.
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/repository/atomicfile"
)

const (
	// EntryFileMode is the permission of resolved filename entries.
	EntryFileMode os.FileMode = 0o644

	// artifactsDir is the cache subdirectory holding downloaded artifacts.
	artifactsDir = "artifacts"

	// defaultStaleLockAge is how old a lock file must be before it is broken.
	defaultStaleLockAge = 10 * time.Minute
)

var (
	errEmptyFilename   = errors.New("resolved filename is empty")
	errInvalidFilename = errors.New("resolved filename must be a single path segment")
)

// Cache stores resolved artifact filenames keyed by index URL digest,
// together with downloaded artifacts and rendered installer configs.
type Cache struct {
	// root is the cache directory.
	root string
	// now returns the current time; replaced in tests.
	now func() time.Time
	// staleLockAge is the age after which a lock file left by a dead process is removed.
	staleLockAge time.Duration

	// mu protects keyLocks.
	mu sync.Mutex
	// keyLocks serializes writers of the same entry inside this process.
	keyLocks map[string]*sync.Mutex
}

// Option configures the cache.
type Option func(*Cache)

// WithClock replaces the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStaleLockAge sets the age after which lock files are considered abandoned.
func WithStaleLockAge(age time.Duration) Option {
	return func(c *Cache) {
		if age > 0 {
			c.staleLockAge = age
		}
	}
}

// New creates a cache rooted at the provided directory.
func New(root string, opts ...Option) *Cache {
	c := &Cache{
		root:         filepath.Clean(root),
		now:          time.Now,
		staleLockAge: defaultStaleLockAge,
		keyLocks:     make(map[string]*sync.Mutex),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Key returns the cache key for a release index URL.
func Key(indexURL string) string {
	sum := sha1.Sum([]byte(indexURL)) //nolint:gosec // See import comment.

	return hex.EncodeToString(sum[:])
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// Get returns the cached filename for key when the entry exists, is non-empty
// and was written within splay. A zero splay accepts an entry of any age.
func (c *Cache) Get(key string, splay time.Duration) (string, bool) {
	path := c.entryPath(key)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return "", false
	}

	if splay > 0 && !info.ModTime().After(c.now().Add(-splay)) {
		return "", false
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	filename := strings.TrimSpace(string(contents))
	if filename == "" {
		return "", false
	}

	return filename, true
}

// Put atomically replaces the entry for key with filename.
// Concurrent writers of the same key are serialized, across processes too.
func (c *Cache) Put(ctx context.Context, key, filename string) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return errEmptyFilename
	}

	if strings.ContainsAny(filename, "/\\\n") || filename == "." || filename == ".." {
		return fmt.Errorf("%w: %q", errInvalidFilename, filename)
	}

	unlock, err := c.Lock(ctx, key)
	if err != nil {
		return err
	}

	defer unlock()

	if err = atomicfile.Write(c.entryPath(key), []byte(filename), EntryFileMode); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}

	return nil
}

// Lock serializes work on name (a cache key or an artifact filename) inside this
// process and across processes sharing the cache directory.
// The returned function releases the lock.
func (c *Cache) Lock(ctx context.Context, name string) (func(), error) {
	if err := os.MkdirAll(c.root, config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("prepare cache root: %w", err)
	}

	keyLock := c.keyLock(name)
	keyLock.Lock()

	release, err := acquireLockFile(ctx, filepath.Join(c.root, name+".lock"), c.staleLockAge)
	if err != nil {
		keyLock.Unlock()

		return nil, err
	}

	return func() {
		release()
		keyLock.Unlock()
	}, nil
}

// ArtifactPath returns where a downloaded artifact with the given name is kept.
func (c *Cache) ArtifactPath(filename string) string {
	return filepath.Join(c.root, artifactsDir, filepath.Base(filename))
}

// InstallerConfigPath returns where the rendered installer config for a version is kept.
func (c *Cache) InstallerConfigPath(version string) string {
	return filepath.Join(c.root, "firefox-"+filepath.Base(version)+".ini")
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.root, filepath.Base(key))
}

func (c *Cache) keyLock(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, found := c.keyLocks[name]
	if !found {
		lock = new(sync.Mutex)
		c.keyLocks[name] = lock
	}

	return lock
}
