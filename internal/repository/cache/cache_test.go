package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestKey ensures keys are the SHA-1 hex digest of the index URL.
func TestKey(t *testing.T) {
	t.Parallel()

	key := Key("https://example.com/37.0/linux-x86_64/en-US/")
	require.Len(t, key, 40)
	require.Equal(t, key, Key("https://example.com/37.0/linux-x86_64/en-US/"))
	require.NotEqual(t, key, Key("https://example.com/37.0/linux-x86_64/de/"))
	require.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", Key(""))
}

// TestCache_PutGet verifies a written entry is returned and a missing one is not.
func TestCache_PutGet(t *testing.T) {
	t.Parallel()

	c := New(filepath.Join(t.TempDir(), "cache"))
	key := Key("https://example.com/37.0/linux-x86_64/en-US/")

	_, found := c.Get(key, 0)
	require.False(t, found)

	require.NoError(t, c.Put(context.Background(), key, "firefox-37.0.tar.bz2"))

	filename, found := c.Get(key, 0)
	require.True(t, found)
	require.Equal(t, "firefox-37.0.tar.bz2", filename)

	require.NoError(t, c.Put(context.Background(), key, "firefox-37.0.1.tar.bz2"))

	filename, found = c.Get(key, time.Hour)
	require.True(t, found)
	require.Equal(t, "firefox-37.0.1.tar.bz2", filename)

	// Lock files are released.
	_, err := os.Stat(filepath.Join(c.Root(), key+".lock"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestCache_Splay checks the staleness window against the entry mtime.
func TestCache_Splay(t *testing.T) {
	t.Parallel()

	now := time.Date(2015, time.April, 1, 12, 0, 0, 0, time.UTC)
	c := New(t.TempDir(), WithClock(func() time.Time { return now }))
	key := Key("https://example.com/latest/win32/en-US/")

	require.NoError(t, c.Put(context.Background(), key, "Firefox Setup 37.0.exe"))
	require.NoError(t, os.Chtimes(c.entryPath(key), now.Add(-2*time.Hour), now.Add(-2*time.Hour)))

	_, found := c.Get(key, time.Hour)
	require.False(t, found, "entry older than splay must be stale")

	filename, found := c.Get(key, 3*time.Hour)
	require.True(t, found)
	require.Equal(t, "Firefox Setup 37.0.exe", filename)

	// Zero splay accepts any age.
	_, found = c.Get(key, 0)
	require.True(t, found)
}

// TestCache_EmptyEntryIsMiss treats zero-length entries as absent.
func TestCache_EmptyEntryIsMiss(t *testing.T) {
	t.Parallel()

	c := New(t.TempDir())
	key := Key("https://example.com/")

	require.NoError(t, os.WriteFile(c.entryPath(key), nil, EntryFileMode))

	_, found := c.Get(key, 0)
	require.False(t, found)
}

// TestCache_PutRejectsBadNames refuses empty and path-like filenames.
func TestCache_PutRejectsBadNames(t *testing.T) {
	t.Parallel()

	c := New(t.TempDir())

	require.Error(t, c.Put(context.Background(), "k", "  "))
	require.Error(t, c.Put(context.Background(), "k", "../firefox.tar.bz2"))
	require.Error(t, c.Put(context.Background(), "k", ".."))
}

// TestCache_ConcurrentPut ensures parallel writers of one key leave a complete entry.
func TestCache_ConcurrentPut(t *testing.T) {
	t.Parallel()

	c := New(t.TempDir())
	key := Key("https://example.com/latest/linux-x86_64/en-US/")
	names := []string{"firefox-37.0.tar.bz2", "firefox-38.0.tar.bz2", "firefox-38.0.5.tar.bz2"}

	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)

		go func() {
			defer wg.Done()

			require.NoError(t, c.Put(context.Background(), key, name))
		}()
	}

	wg.Wait()

	filename, found := c.Get(key, 0)
	require.True(t, found)
	require.Contains(t, names, filename)
}

// TestCache_LockHonoursContext gives up waiting when the context ends.
func TestCache_LockHonoursContext(t *testing.T) {
	t.Parallel()

	c := New(t.TempDir())

	// Another process holds the lock.
	require.NoError(t, os.WriteFile(filepath.Join(c.Root(), "busy.lock"), []byte("1\n"), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	_, err := c.Lock(ctx, "busy")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A stale lock is broken.
	stale := New(c.Root(), WithStaleLockAge(time.Millisecond))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(c.Root(), "busy.lock"), old, old))

	unlock, err := stale.Lock(context.Background(), "busy")
	require.NoError(t, err)
	unlock()
}

// TestCache_Paths verifies artifact and installer config locations.
func TestCache_Paths(t *testing.T) {
	t.Parallel()

	c := New("/var/cache/firefox-package")

	require.Equal(t, filepath.Join("/var/cache/firefox-package", "artifacts", "firefox-37.0.tar.bz2"),
		c.ArtifactPath("firefox-37.0.tar.bz2"))
	require.Equal(t, filepath.Join("/var/cache/firefox-package", "firefox-37.0.ini"),
		c.InstallerConfigPath("37.0"))
}
