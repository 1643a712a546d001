package probe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/logger"
	"github.com/oshokin/firefox-package/internal/service/host"
)

// versionCommandTimeout bounds a single `--version` invocation.
const versionCommandTimeout = 10 * time.Second

// Prober reports the version of an installed Firefox binary.
type Prober struct {
	// runner executes the binary.
	runner host.Runner
	// timeout bounds each probe.
	timeout time.Duration
}

// Option configures the prober.
type Option func(*Prober)

// WithTimeout overrides the probe timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// New creates a prober that runs binaries through runner.
func New(runner host.Runner, opts ...Option) *Prober {
	p := &Prober{
		runner:  runner,
		timeout: versionCommandTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Version runs `executable --version` and parses the output.
// A missing or non-executable file reports the "0.0" sentinel without error;
// output that carries no version is a *firefox.VersionParseError.
func (p *Prober) Version(ctx context.Context, executable string) (Version, error) {
	if !isExecutable(executable) {
		logger.DebugKV(ctx, "No executable to probe", "path", executable)

		return Zero(), nil
	}

	cmdCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := p.runner.Run(cmdCtx, executable, "--version")
	if err != nil {
		return Zero(), fmt.Errorf("probe %s: %w", executable, err)
	}

	output := result.Output()
	if output == "" {
		logger.WarnKV(ctx, "Executable printed no version", "path", executable, "exit_code", result.ExitCode)

		return Zero(), nil
	}

	version, found := find(output)
	if !found {
		return Zero(), &firefox.VersionParseError{
			Executable: executable,
			Output:     output,
		}
	}

	logger.DebugKV(ctx, "Probed installed version", "path", executable, "version", version.String())

	return version, nil
}

// isExecutable reports whether path is a regular file the current platform can run.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	if runtime.GOOS == "windows" {
		return strings.EqualFold(filepath.Ext(path), ".exe")
	}

	return info.Mode().Perm()&0o111 != 0
}
