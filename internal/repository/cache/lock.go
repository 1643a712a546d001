package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// lockPollInterval is how often a busy lock file is retried.
const lockPollInterval = 100 * time.Millisecond

// acquireLockFile creates path exclusively, waiting while another holder owns it.
// A lock file older than staleAfter is assumed to be left by a dead process and removed.
func acquireLockFile(ctx context.Context, path string, staleAfter time.Duration) (func(), error) {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = f.Close()

			return func() { _ = os.Remove(path) }, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}

		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleAfter {
			_ = os.Remove(path)

			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}
}
