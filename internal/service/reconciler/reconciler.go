package reconciler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/logger"
	"github.com/oshokin/firefox-package/internal/repository/state"
	"github.com/oshokin/firefox-package/internal/service/host"
	"github.com/oshokin/firefox-package/internal/service/platform"
)

// Resolver finds the artifact filename published for a request.
type Resolver interface {
	Resolve(ctx context.Context, req *firefox.Request, platform firefox.Platform) (string, error)
}

// Fetcher downloads an artifact to a local path and reports whether it downloaded.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest, checksum string) (bool, error)
}

// ArtifactStore maps artifact filenames to local paths.
type ArtifactStore interface {
	ArtifactPath(filename string) string
}

// TargetSelector returns the install variant for a platform.
type TargetSelector func(firefox.Platform) (platform.Target, error)

// ProcessGuard finds and stops running browsers.
type ProcessGuard interface {
	Running() ([]host.Process, error)
	Terminate(ctx context.Context) (int, error)
}

// PlatformDetector reports the running host.
type PlatformDetector interface {
	Detect(ctx context.Context) (*host.Info, error)
}

// Dependencies are the components a reconciler drives.
type Dependencies struct {
	// Resolver turns requests into artifact filenames.
	Resolver Resolver
	// Fetcher downloads artifacts.
	Fetcher Fetcher
	// Artifacts decides where artifacts are stored.
	Artifacts ArtifactStore
	// Records holds install records.
	Records state.Repository
	// Targets selects the platform variant.
	Targets TargetSelector
	// Guard checks for running browsers. Optional.
	Guard ProcessGuard
	// Detector supplies the platform when a request has none. Defaults to the host detector.
	Detector PlatformDetector
	// Now stamps transitions. Defaults to time.Now.
	Now func() time.Time
}

// Reconciler drives a request to its desired state.
type Reconciler struct {
	// deps are the driven components.
	deps Dependencies
	// policy decides what happens to previous versions on upgrade.
	policy config.UpgradePolicy
}

// Option configures the reconciler.
type Option func(*Reconciler)

// WithPolicy sets the upgrade policy.
func WithPolicy(policy config.UpgradePolicy) Option {
	return func(r *Reconciler) {
		if policy != "" {
			r.policy = policy
		}
	}
}

var (
	errDependencyRequired = errors.New("reconciler dependency is not set")
	errRequestRequired    = errors.New("request is not set")
)

// New creates a reconciler.
func New(deps Dependencies, opts ...Option) (*Reconciler, error) {
	switch {
	case deps.Resolver == nil:
		return nil, fmt.Errorf("%w: resolver", errDependencyRequired)
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher", errDependencyRequired)
	case deps.Artifacts == nil:
		return nil, fmt.Errorf("%w: artifact store", errDependencyRequired)
	case deps.Records == nil:
		return nil, fmt.Errorf("%w: records", errDependencyRequired)
	case deps.Targets == nil:
		return nil, fmt.Errorf("%w: targets", errDependencyRequired)
	}

	if deps.Detector == nil {
		deps.Detector = host.NewDetector()
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := &Reconciler{
		deps:   deps,
		policy: config.PolicySideBySide,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Reconcile converges the host on req. The returned outcome is non-nil
// whenever the request passed validation, including on failure.
func (r *Reconciler) Reconcile(ctx context.Context, req *firefox.Request) (*Outcome, error) {
	defaulted, normalized, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx = scope(ctx, defaulted)

	if defaulted.Action == firefox.ActionRemove {
		return r.remove(ctx, defaulted, normalized)
	}

	return r.install(ctx, defaulted, normalized)
}

// Resolve returns the artifact filename and download URL for req without touching the host.
func (r *Reconciler) Resolve(ctx context.Context, req *firefox.Request) (string, string, error) {
	defaulted, normalized, err := r.prepare(ctx, req)
	if err != nil {
		return "", "", err
	}

	ctx = scope(ctx, defaulted)

	if _, err = platform.FileExtension(normalized); err != nil {
		return "", "", err
	}

	filename, err := r.deps.Resolver.Resolve(ctx, defaulted, normalized)
	if err != nil {
		return "", "", err
	}

	return filename, firefox.ArtifactURL(defaulted.IndexURL(normalized), filename), nil
}

// Platform returns the normalized platform for raw, detecting the host when raw is empty.
func (r *Reconciler) Platform(ctx context.Context, raw string) (firefox.Platform, error) {
	if raw == "" {
		info, err := r.deps.Detector.Detect(ctx)
		if err != nil {
			return "", fmt.Errorf("detect platform: %w", err)
		}

		raw = info.RawPlatform()
	}

	return platform.Normalize(raw), nil
}

func (r *Reconciler) prepare(ctx context.Context, req *firefox.Request) (*firefox.Request, firefox.Platform, error) {
	if req == nil {
		return nil, "", errRequestRequired
	}

	if err := req.Validate(); err != nil {
		return nil, "", err
	}

	normalized, err := r.Platform(ctx, req.Platform)
	if err != nil {
		return nil, "", err
	}

	defaulted := req.WithDefaults(normalized)

	// Validate has already accepted the action.
	defaulted.Action, _ = firefox.ParseAction(string(defaulted.Action))

	return defaulted, normalized, nil
}

func (r *Reconciler) install(ctx context.Context, req *firefox.Request, normalized firefox.Platform) (*Outcome, error) {
	outcome := newOutcome(req, normalized, r.initialState(ctx, req), r.deps.Now)

	r.enter(ctx, outcome, StateResolving)

	target, err := r.target(normalized)
	if err != nil {
		return outcome, fail(outcome, err)
	}

	filename, err := r.deps.Resolver.Resolve(ctx, req, normalized)
	if err != nil {
		return outcome, fail(outcome, err)
	}

	outcome.Filename = filename

	r.enter(ctx, outcome, StateFetching)

	artifact := r.deps.Artifacts.ArtifactPath(filename)

	downloaded, err := r.deps.Fetcher.Fetch(ctx, firefox.ArtifactURL(req.IndexURL(normalized), filename), artifact, req.Checksum)
	if err != nil {
		return outcome, fail(outcome, err)
	}

	outcome.Artifact = artifact
	outcome.Downloaded = downloaded

	r.enter(ctx, outcome, StateVerifying)

	verification, err := target.Verify(ctx, artifact, req)
	if err != nil {
		return outcome, fail(outcome, err)
	}

	upgrading := req.Action == firefox.ActionUpgrade

	if upgrading && r.policy == config.PolicyRemoveBefore {
		if err = r.replacePrevious(ctx, target, req, outcome); err != nil {
			return outcome, fail(outcome, err)
		}
	}

	r.enter(ctx, outcome, StateApplying)

	if !verification.Satisfied {
		if err = r.guardProcesses(ctx, req); err != nil {
			return outcome, fail(outcome, err)
		}
	}

	result, err := target.Apply(ctx, artifact, req, verification)
	if err != nil {
		return outcome, fail(outcome, err)
	}

	outcome.Changed = result.Changed
	outcome.Record = result.Record

	if upgrading && r.policy == config.PolicyRemoveAfter {
		if err = r.replacePrevious(ctx, target, req, outcome); err != nil {
			return outcome, fail(outcome, err)
		}
	}

	r.enter(ctx, outcome, StateInstalled)

	logger.InfoKV(ctx, "Firefox is installed",
		"path", req.Path,
		"filename", filename,
		"changed", outcome.Changed,
		"downloaded", downloaded,
	)

	return outcome, nil
}

func (r *Reconciler) remove(ctx context.Context, req *firefox.Request, normalized firefox.Platform) (*Outcome, error) {
	outcome := newOutcome(req, normalized, StateInstalled, r.deps.Now)

	r.enter(ctx, outcome, StateRemoving)

	target, err := r.target(normalized)
	if err != nil {
		return outcome, fail(outcome, err)
	}

	record, err := r.deps.Records.Get(ctx, req.Version, req.Language)
	if err == nil {
		outcome.Record = record
	} else if !errors.Is(err, state.ErrNotFound) {
		return outcome, fail(outcome, fmt.Errorf("read install record: %w", err))
	}

	// Only Windows installs live outside the records; the target checks the registry there.
	if record == nil && normalized != firefox.PlatformWindows {
		return outcome, fail(outcome, &firefox.NotInstalledError{Version: req.Version, Language: req.Language})
	}

	if err = r.guardProcesses(ctx, req); err != nil {
		return outcome, fail(outcome, err)
	}

	if err = target.Remove(ctx, req, r.artifactName(ctx, req, normalized, record)); err != nil {
		return outcome, fail(outcome, err)
	}

	outcome.Changed = true

	r.enter(ctx, outcome, StateAbsent)

	logger.InfoKV(ctx, "Firefox is removed", "path", req.Path)

	return outcome, nil
}

// artifactName returns the artifact a version was installed from, when it can be known.
// Windows needs it to build the registered package name.
func (r *Reconciler) artifactName(
	ctx context.Context,
	req *firefox.Request,
	normalized firefox.Platform,
	record *firefox.Record,
) string {
	if record != nil && record.Filename != "" {
		return record.Filename
	}

	if normalized != firefox.PlatformWindows || req.DisplayVersion != "" {
		return ""
	}

	filename, err := r.deps.Resolver.Resolve(ctx, req, normalized)
	if err != nil {
		logger.DebugKV(ctx, "Unable to resolve artifact for removal", "error", err)

		return ""
	}

	return filename
}

// replacePrevious removes other recorded versions of the same language and platform.
// A previous version recorded at the requested path only loses its record.
func (r *Reconciler) replacePrevious(
	ctx context.Context,
	target platform.Target,
	req *firefox.Request,
	outcome *Outcome,
) error {
	records, err := r.deps.Records.List(ctx)
	if err != nil {
		return fmt.Errorf("list install records: %w", err)
	}

	for _, record := range records {
		if record.Language != req.Language || record.Version == req.Version || record.Platform != target.Platform() {
			continue
		}

		if filepath.Clean(record.Path) == filepath.Clean(req.Path) {
			logger.InfoKV(ctx, "Forgetting previous version installed at the same path",
				"previous_version", record.Version,
				"path", record.Path,
			)

			if err = r.deps.Records.Delete(ctx, record.Version, record.Language); err != nil {
				return fmt.Errorf("forget %s: %w", record.Version, err)
			}

			outcome.Replaced = append(outcome.Replaced, record)

			continue
		}

		logger.InfoKV(ctx, "Removing previous version", "previous_version", record.Version, "path", record.Path)

		previous := &firefox.Request{
			Version:  record.Version,
			Language: record.Language,
			Platform: req.Platform,
			Path:     record.Path,
			Links:    req.Links,
		}

		if err = target.Remove(ctx, previous, record.Filename); err != nil {
			return fmt.Errorf("remove previous version %s: %w", record.Version, err)
		}

		outcome.Replaced = append(outcome.Replaced, record)
	}

	return nil
}

// guardProcesses warns about running browsers, or stops them when the request asks to.
func (r *Reconciler) guardProcesses(ctx context.Context, req *firefox.Request) error {
	if r.deps.Guard == nil {
		return nil
	}

	running, err := r.deps.Guard.Running()
	if err != nil {
		logger.WarnKV(ctx, "Unable to list running processes", "error", err)

		return nil
	}

	if len(running) == 0 {
		return nil
	}

	if !req.StopRunning {
		logger.WarnKV(ctx, "Firefox is running, files in use may not be replaced", "processes", len(running))

		return nil
	}

	stopped, err := r.deps.Guard.Terminate(ctx)
	if err != nil {
		return fmt.Errorf("stop running browsers: %w", err)
	}

	logger.InfoKV(ctx, "Stopped running browsers", "count", stopped)

	return nil
}

func (r *Reconciler) initialState(ctx context.Context, req *firefox.Request) State {
	if _, err := r.deps.Records.Get(ctx, req.Version, req.Language); err == nil {
		return StateInstalled
	}

	return StateAbsent
}

func (r *Reconciler) target(normalized firefox.Platform) (platform.Target, error) {
	if _, err := platform.FileExtension(normalized); err != nil {
		return nil, err
	}

	return r.deps.Targets(normalized)
}

func (r *Reconciler) enter(ctx context.Context, outcome *Outcome, next State) {
	transition := outcome.enter(next)

	logger.InfoKV(ctx, "State changed", "from", transition.From, "to", transition.To)
}

// fail wraps err with the state it happened in. Typed errors stay reachable through errors.As.
func fail(outcome *Outcome, err error) error {
	return fmt.Errorf("%s %s: %w", outcome.Final, outcome.Request.Version, err)
}

// scope names the logger and adds the package fields, raising verbosity when the package asks to.
func scope(ctx context.Context, req *firefox.Request) context.Context {
	ctx = logger.WithName(ctx, "reconciler")
	ctx = logger.WithKV(ctx, "version", req.Version, "language", req.Language, "platform", req.Platform)

	if req.LogLevel == "" {
		return ctx
	}

	level, ok := logger.ParseLogLevel(req.LogLevel)
	if !ok {
		logger.WarnKV(ctx, "Ignoring unknown package log level", "log_level", req.LogLevel)

		return ctx
	}

	return logger.WithLevelOverride(ctx, level)
}
