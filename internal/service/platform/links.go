package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/oshokin/firefox-package/internal/config"
)

var errLinkOccupied = errors.New("link location holds a file that is not a symlink")

// EnsureLink makes link a symlink to target and reports whether anything changed.
// An existing symlink is repointed atomically; any other file at link is an error.
func EnsureLink(link, target string) (bool, error) {
	info, err := os.Lstat(link)

	switch {
	case errors.Is(err, os.ErrNotExist):
		if err = os.MkdirAll(filepath.Dir(link), config.DefaultDirPermissions); err != nil {
			return false, fmt.Errorf("create link directory: %w", err)
		}

		if err = os.Symlink(target, link); err != nil {
			return false, fmt.Errorf("create link %s: %w", link, err)
		}

		return true, nil
	case err != nil:
		return false, fmt.Errorf("inspect link %s: %w", link, err)
	case info.Mode()&os.ModeSymlink == 0:
		return false, fmt.Errorf("%w: %s", errLinkOccupied, link)
	}

	current, err := os.Readlink(link)
	if err != nil {
		return false, fmt.Errorf("read link %s: %w", link, err)
	}

	if current == target {
		return false, nil
	}

	suffix := strconv.Itoa(os.Getpid()) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	tmp := filepath.Join(filepath.Dir(link), "."+filepath.Base(link)+"."+suffix+".tmp")
	_ = os.Remove(tmp)

	if err = os.Symlink(target, tmp); err != nil {
		return false, fmt.Errorf("create link %s: %w", tmp, err)
	}

	if err = os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)

		return false, fmt.Errorf("replace link %s: %w", link, err)
	}

	return true, nil
}

// RemoveLinksInto deletes the symlinks among links that point inside dir.
// Links elsewhere, and files that are not symlinks, are left alone.
func RemoveLinksInto(links []string, dir string) ([]string, error) {
	var removed []string

	for _, link := range links {
		info, err := os.Lstat(link)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}

		target, err := os.Readlink(link)
		if err != nil {
			return removed, fmt.Errorf("read link %s: %w", link, err)
		}

		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(link), target)
		}

		relative, err := filepath.Rel(dir, target)
		if err != nil || !filepath.IsLocal(relative) {
			continue
		}

		if err = os.Remove(link); err != nil {
			return removed, fmt.Errorf("remove link %s: %w", link, err)
		}

		removed = append(removed, link)
	}

	return removed, nil
}
