package reconciler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/logger"
	"github.com/oshokin/firefox-package/internal/repository/cache"
	"github.com/oshokin/firefox-package/internal/repository/state"
	"github.com/oshokin/firefox-package/internal/service/common"
	"github.com/oshokin/firefox-package/internal/service/fetch"
	"github.com/oshokin/firefox-package/internal/service/host"
	"github.com/oshokin/firefox-package/internal/service/platform"
	"github.com/oshokin/firefox-package/internal/service/probe"
	"github.com/oshokin/firefox-package/internal/service/resolver"
)

// Options contains inputs for the command line entry points.
type Options struct {
	// ConfigPath is the settings file. A missing file means defaults.
	ConfigPath string
	// LogLevel overrides the configured log level.
	LogLevel string
	// Policy overrides the configured upgrade policy.
	Policy string
	// SplaySeconds overrides the splay of every package when set.
	SplaySeconds *int
	// Request is the package for single package commands.
	Request *firefox.Request
}

var (
	// errNoPackages is returned by Apply when the settings list no packages.
	errNoPackages = errors.New("no packages configured")
	// errDuplicatePath is returned by Apply when two packages resolve to one destination.
	errDuplicatePath = errors.New("packages share a destination path")
)

// Run converges the single package in opts.Request.
func Run(ctx context.Context, opts *Options) (*Outcome, error) {
	ctx = logger.WithName(ctx, "firefox-package")

	cfg, err := loadSettings(ctx, opts)
	if err != nil {
		return nil, err
	}

	if opts.Request == nil {
		return nil, errRequestRequired
	}

	rec, err := Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize reconciler: %w", err)
	}

	return rec.Reconcile(ctx, packageRequest(cfg, opts.Request, opts.SplaySeconds))
}

// Resolve returns the artifact filename and URL for opts.Request.
func Resolve(ctx context.Context, opts *Options) (string, string, error) {
	ctx = logger.WithName(ctx, "firefox-package")

	cfg, err := loadSettings(ctx, opts)
	if err != nil {
		return "", "", err
	}

	if opts.Request == nil {
		return "", "", errRequestRequired
	}

	rec, err := Build(cfg)
	if err != nil {
		return "", "", fmt.Errorf("initialize reconciler: %w", err)
	}

	return rec.Resolve(ctx, packageRequest(cfg, opts.Request, opts.SplaySeconds))
}

// Apply converges every configured package, at most cfg.Concurrency at once.
// A failing package does not stop the others; all failures are joined.
func Apply(ctx context.Context, opts *Options) ([]*Outcome, error) {
	ctx = logger.WithName(ctx, "firefox-package")

	cfg, err := loadSettings(ctx, opts)
	if err != nil {
		return nil, err
	}

	if len(cfg.Packages) == 0 {
		return nil, errNoPackages
	}

	rec, err := Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize reconciler: %w", err)
	}

	requests := make([]*firefox.Request, 0, len(cfg.Packages))
	for _, pkg := range cfg.Packages {
		requests = append(requests, packageRequest(cfg, pkg, opts.SplaySeconds))
	}

	if err = rec.checkDestinations(ctx, requests); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Applying packages", "count", len(requests), "concurrency", cfg.Concurrency)

	outcomes := make([]*Outcome, len(requests))
	failures := make([]error, len(requests))

	var group errgroup.Group

	group.SetLimit(cfg.Concurrency)

	for i, req := range requests {
		group.Go(func() error {
			outcome, reconcileErr := rec.Reconcile(ctx, req)
			outcomes[i] = outcome

			if reconcileErr != nil {
				logger.ErrorKV(ctx, "Package failed", "package", i+1, "version", req.Version, "error", reconcileErr)

				failures[i] = fmt.Errorf("package #%d (%s): %w", i+1, req.Version, reconcileErr)
			}

			return nil
		})
	}

	// Failures are collected per package.
	_ = group.Wait()

	return outcomes, errors.Join(failures...)
}

// Build wires the reconciler and its components from settings.
func Build(cfg *config.Config, opts ...Option) (*Reconciler, error) {
	client, err := common.NewClient(
		common.WithCallTimeout(cfg.Timeout),
		common.WithCABundle(cfg.CABundle),
		common.WithUserAgent(cfg.UserAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("create HTTP client: %w", err)
	}

	store := cache.New(cfg.CacheDir)
	records := state.NewFileRepository(cfg.StateFile)
	runner := host.NewRunner()
	detector := host.NewDetector()

	targetDeps := platform.Dependencies{
		Runner:     runner,
		Prober:     probe.New(runner),
		Packages:   host.NewSystemPackages(runner, detector),
		Records:    records,
		Installers: store,
	}

	fetcher := fetch.New(client,
		fetch.WithRetries(cfg.Retries),
		fetch.WithStallTimeout(cfg.StallTimeout),
		fetch.WithLocker(store),
	)

	deps := Dependencies{
		Resolver:  resolver.New(client, store),
		Fetcher:   fetcher,
		Artifacts: store,
		Records:   records,
		Targets: func(normalized firefox.Platform) (platform.Target, error) {
			return platform.Select(normalized, targetDeps)
		},
		Guard:    host.NewProcessGuard(),
		Detector: detector,
	}

	return New(deps, append([]Option{WithPolicy(cfg.UpgradePolicy)}, opts...)...)
}

// checkDestinations rejects requests that would install into the same directory.
func (r *Reconciler) checkDestinations(ctx context.Context, requests []*firefox.Request) error {
	paths := make(map[string]int, len(requests))

	for i, req := range requests {
		if err := req.Validate(); err != nil {
			return fmt.Errorf("package #%d: %w", i+1, err)
		}

		normalized, err := r.Platform(ctx, req.Platform)
		if err != nil {
			return err
		}

		path := filepath.Clean(req.WithDefaults(normalized).Path)

		if previous, found := paths[path]; found {
			return fmt.Errorf("packages #%d and #%d (%s): %w", previous, i+1, path, errDuplicatePath)
		}

		paths[path] = i + 1
	}

	return nil
}

// loadSettings reads the settings file and applies command line overrides.
func loadSettings(ctx context.Context, opts *Options) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	if parsed, ok := logger.ParseLogLevel(level); ok {
		logger.SetLevel(parsed)
	} else {
		logger.WarnKV(ctx, "Unknown log level, keeping the current one", "log_level", level)
	}

	if opts.Policy != "" {
		if cfg.UpgradePolicy, err = config.ParseUpgradePolicy(opts.Policy); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// packageRequest fills the settings-wide defaults into a copy of req.
func packageRequest(cfg *config.Config, req *firefox.Request, splay *int) *firefox.Request {
	if req == nil {
		return nil
	}

	cloned := *req

	if cloned.BaseURI == "" {
		cloned.BaseURI = cfg.BaseURI
	}

	switch {
	case splay != nil:
		cloned.SplaySeconds = *splay
	case cloned.SplaySeconds == 0:
		cloned.SplaySeconds = cfg.SplaySeconds
	}

	return &cloned
}
