package atomicfile

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWrite_CreatesMissingFile creates parent directories and the target.
func TestWrite_CreatesMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	require.NoError(t, Write(path, []byte("records: {}\n"), 0o600))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "records: {}\n", string(contents))

	if runtime.GOOS != "windows" {
		info, statErr := os.Stat(path)
		require.NoError(t, statErr)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

// TestWrite_ReplacesContents swaps the contents and leaves no side files behind.
func TestWrite_ReplacesContents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "installer.ini")

	require.NoError(t, Write(path, []byte("first, and longer\n"), 0o644))
	require.NoError(t, Write(path, []byte("second\n"), 0o644))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second\n", string(contents))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestWrite_RequiresPath rejects an empty target.
func TestWrite_RequiresPath(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Write("", []byte("x"), 0o644), errPathRequired)
}
