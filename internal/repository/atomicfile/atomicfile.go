package atomicfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/firefox-package/internal/config"
)

// errPathRequired is returned when no target path is given.
var errPathRequired = errors.New("target path must be provided")

// Write replaces path with data and sets its mode, creating the parent directory when needed.
func Write(path string, data []byte, mode os.FileMode) error {
	if path == "" {
		return errPathRequired
	}

	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	// go-update swaps files with renames, so the target has to exist first.
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, mode)
		if createErr != nil {
			return fmt.Errorf("create %s: %w", path, createErr)
		}

		if createErr = placeholder.Close(); createErr != nil {
			return fmt.Errorf("create %s: %w", path, createErr)
		}
	}

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: mode,
	}

	if err := goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}
