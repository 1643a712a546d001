package fetch

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/logger"
)

const (
	// defaultBackoff is the delay before the first retry; it doubles on every attempt.
	defaultBackoff = time.Second
	// maxBackoff caps the delay between two attempts.
	maxBackoff = time.Minute
	// defaultStallTimeout is how long a download may go without receiving data.
	defaultStallTimeout = config.DefaultStallTimeout
)

var (
	// errTransport marks failures of the connection itself, the only ones retried.
	errTransport = errors.New("transport failure")
	// errStalled marks a download that received no data within the stall timeout.
	errStalled = errors.New("download stalled")
)

// Opener starts a streaming download.
type Opener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Locker serializes work on a named resource across processes.
type Locker interface {
	Lock(ctx context.Context, name string) (func(), error)
}

// Fetcher downloads artifacts with optional checksum verification.
type Fetcher struct {
	// client opens artifact streams.
	client Opener
	// locker guards a destination while it is checked and written; nil disables locking.
	locker Locker
	// retries is how many extra attempts a transport failure gets.
	retries int
	// backoff is the delay before the first retry.
	backoff time.Duration
	// stallTimeout aborts an attempt that receives no data for this long.
	stallTimeout time.Duration
}

// Option configures the fetcher.
type Option func(*Fetcher)

// WithRetries sets the number of retries after transport failures.
func WithRetries(retries int) Option {
	return func(f *Fetcher) {
		if retries >= 0 {
			f.retries = retries
		}
	}
}

// WithBackoff sets the delay before the first retry.
func WithBackoff(delay time.Duration) Option {
	return func(f *Fetcher) {
		if delay > 0 {
			f.backoff = delay
		}
	}
}

// WithStallTimeout aborts an attempt when no data arrives for timeout.
// The aborted attempt counts as a transport failure.
func WithStallTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.stallTimeout = timeout
		}
	}
}

// WithLocker serializes fetches of the same destination through locker.
func WithLocker(locker Locker) Option {
	return func(f *Fetcher) {
		f.locker = locker
	}
}

// New creates a fetcher streaming through client.
func New(client Opener, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       client,
		backoff:      defaultBackoff,
		stallTimeout: defaultStallTimeout,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch makes sure dest holds the artifact published at url.
// An existing non-empty file is trusted when checksum is empty and verified otherwise.
// It reports whether a download happened.
func (f *Fetcher) Fetch(ctx context.Context, url, dest, checksum string) (bool, error) {
	checksum = normalizeChecksum(checksum)

	var digest crypto.Hash

	if checksum != "" {
		var err error

		if digest, err = checksumHash(checksum); err != nil {
			return false, err
		}
	}

	if f.locker != nil {
		unlock, err := f.locker.Lock(ctx, "artifact-"+filepath.Base(dest))
		if err != nil {
			return false, err
		}

		defer unlock()
	}

	if f.acceptExisting(ctx, dest, checksum, digest) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), config.DefaultDirPermissions); err != nil {
		return false, fmt.Errorf("create artifact directory: %w", err)
	}

	if err := f.downloadWithRetries(ctx, url, dest, checksum, digest); err != nil {
		return false, err
	}

	return true, nil
}

// acceptExisting reports whether the file already at dest can be used as is.
func (f *Fetcher) acceptExisting(ctx context.Context, dest, checksum string, digest crypto.Hash) bool {
	info, err := os.Stat(dest)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false
	}

	if checksum == "" {
		logger.DebugKV(ctx, "Using cached artifact", "path", dest)

		return true
	}

	actual, err := FileChecksum(dest, digest)
	if err != nil {
		logger.WarnKV(ctx, "Unable to verify cached artifact", "path", dest, "error", err)

		return false
	}

	if actual != checksum {
		logger.WarnKV(ctx, "Cached artifact does not match checksum, downloading again",
			"path", dest, "expected", checksum, "actual", actual)

		return false
	}

	logger.DebugKV(ctx, "Cached artifact matches checksum", "path", dest)

	return true
}

func (f *Fetcher) downloadWithRetries(
	ctx context.Context,
	url, dest, checksum string,
	digest crypto.Hash,
) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.backoff
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = maxBackoff

	attempt := 0

	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			attempt++

			downloadErr := f.downloadOnce(ctx, url, dest, checksum, digest)
			if downloadErr != nil && !retryable(ctx, downloadErr) {
				return struct{}{}, backoff.Permanent(downloadErr)
			}

			return struct{}{}, downloadErr
		},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(f.retries)+1), //nolint:gosec // Retries are validated as non-negative.
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			logger.WarnKV(ctx, "Retrying artifact download",
				"url", url, "attempt", attempt, "delay", delay, "error", err)
		}),
	)

	// The last attempt is returned as is, even when marked permanent.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	if err != nil && f.retries > 0 && retryable(ctx, err) {
		return fmt.Errorf("download %s failed after %d retries: %w", url, f.retries, err)
	}

	return err
}

// downloadOnce streams url into a temporary file beside dest and renames it
// into place once the checksum, if any, has matched.
func (f *Fetcher) downloadOnce(
	ctx context.Context,
	url, dest, checksum string,
	digest crypto.Hash,
) error {
	logger.InfoKV(ctx, "Downloading artifact", "url", url, "path", dest)

	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stall := time.AfterFunc(f.stallTimeout, func() {
		cancel(errStalled)
	})
	defer stall.Stop()

	opened, err := f.client.Open(attemptCtx, url)
	if err != nil {
		var httpErr *firefox.UpstreamHTTPError
		if errors.As(err, &httpErr) {
			return err
		}

		return f.transportError(attemptCtx, url, err)
	}

	defer func() {
		_ = opened.Close()
	}()

	body := &stallReader{
		reader:  opened,
		timer:   stall,
		timeout: f.stallTimeout,
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("create temporary artifact: %w", err)
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		_ = tmp.Close()

		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	var (
		hasher hash.Hash
		writer io.Writer = tmp
	)

	if checksum != "" {
		hasher = digest.New()
		writer = io.MultiWriter(tmp, hasher)
	}

	written, err := io.Copy(writer, body)
	if err != nil {
		return f.transportError(attemptCtx, url, err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temporary artifact: %w", err)
	}

	if hasher != nil {
		if actual := hex.EncodeToString(hasher.Sum(nil)); actual != checksum {
			return &firefox.ChecksumMismatchError{
				URL:      url,
				Path:     dest,
				Expected: checksum,
				Actual:   actual,
			}
		}
	}

	if err = os.Chmod(tmpPath, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("chmod temporary artifact: %w", err)
	}

	if err = os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("commit artifact: %w", err)
	}

	committed = true

	logger.InfoKV(ctx, "Artifact downloaded", "path", dest, "bytes", written)

	return nil
}

// transportError marks err as a transport failure. A stalled attempt is reported
// without the cancellation it caused, so it stays retryable.
func (f *Fetcher) transportError(attemptCtx context.Context, url string, err error) error {
	if errors.Is(context.Cause(attemptCtx), errStalled) {
		return fmt.Errorf("%w: %w: no data from %s for %s", errTransport, errStalled, url, f.stallTimeout)
	}

	return fmt.Errorf("%w: download %s: %w", errTransport, url, err)
}

// stallReader pushes the stall deadline back whenever data arrives.
type stallReader struct {
	// reader is the response body.
	reader io.Reader
	// timer cancels the attempt when it fires.
	timer *time.Timer
	// timeout is the allowed gap between two reads returning data.
	timeout time.Duration
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if n > 0 {
		s.timer.Reset(s.timeout)
	}

	return n, err
}

// retryable reports whether err is a transport failure worth another attempt.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	return errors.Is(err, errTransport) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
