package reconciler

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/repository/state"
	"github.com/oshokin/firefox-package/internal/service/host"
	"github.com/oshokin/firefox-package/internal/service/platform"
	"github.com/oshokin/firefox-package/internal/service/probe"
)

const testBaseURI = "https://releases.example.test/pub/firefox/releases"

// fakeResolver answers every request with the same filename.
type fakeResolver struct {
	mu       sync.Mutex
	filename string
	err      error
	calls    int
}

func (r *fakeResolver) Resolve(context.Context, *firefox.Request, firefox.Platform) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++

	return r.filename, r.err
}

func (r *fakeResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

// fakeFetcher records the URLs it was asked for.
type fakeFetcher struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, url, _, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.urls = append(f.urls, url)

	return f.err == nil, f.err
}

// fakeArtifacts keeps artifacts under one directory.
type fakeArtifacts struct {
	dir string
}

func (a fakeArtifacts) ArtifactPath(filename string) string {
	return filepath.Join(a.dir, filename)
}

// fakeTarget records calls in order and keeps install records like the Linux target.
type fakeTarget struct {
	mu        sync.Mutex
	platform  firefox.Platform
	records   state.Repository
	satisfied bool
	applyErr  error
	events    []string
	removed   map[string]string
}

func (t *fakeTarget) Platform() firefox.Platform {
	return t.platform
}

func (t *fakeTarget) Verify(context.Context, string, *firefox.Request) (*platform.Verification, error) {
	return &platform.Verification{Satisfied: t.satisfied, Installed: probe.Zero(), Wanted: probe.Zero()}, nil
}

func (t *fakeTarget) Apply(
	ctx context.Context,
	artifact string,
	req *firefox.Request,
	verification *platform.Verification,
) (*platform.Result, error) {
	t.record("apply " + req.Version)

	if t.applyErr != nil {
		return nil, t.applyErr
	}

	record := &firefox.Record{
		Version:  req.Version,
		Language: req.Language,
		Path:     req.Path,
		Platform: t.platform,
		Filename: filepath.Base(artifact),
	}

	if err := t.records.Put(ctx, record); err != nil {
		return nil, err
	}

	return &platform.Result{Changed: !verification.Satisfied, Record: record}, nil
}

func (t *fakeTarget) Remove(ctx context.Context, req *firefox.Request, artifactName string) error {
	t.record("remove " + req.Version)

	t.mu.Lock()
	if t.removed == nil {
		t.removed = make(map[string]string)
	}

	t.removed[req.Version] = artifactName
	t.mu.Unlock()

	if t.platform == firefox.PlatformWindows {
		return nil
	}

	if _, err := t.records.Get(ctx, req.Version, req.Language); err != nil {
		return &firefox.NotInstalledError{Version: req.Version, Language: req.Language}
	}

	return t.records.Delete(ctx, req.Version, req.Language)
}

func (t *fakeTarget) record(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, event)
}

// fakeGuard reports a fixed set of running processes.
type fakeGuard struct {
	running    []host.Process
	terminated int
}

func (g *fakeGuard) Running() ([]host.Process, error) {
	return g.running, nil
}

func (g *fakeGuard) Terminate(context.Context) (int, error) {
	g.terminated += len(g.running)

	return len(g.running), nil
}

// fakeDetector reports a 64-bit Linux host.
type fakeDetector struct {
	calls int
}

func (d *fakeDetector) Detect(context.Context) (*host.Info, error) {
	d.calls++

	return &host.Info{OS: "linux", Arch: "amd64", Family: host.FamilyDebian}, nil
}

type fixture struct {
	reconciler *Reconciler
	resolver   *fakeResolver
	fetcher    *fakeFetcher
	target     *fakeTarget
	guard      *fakeGuard
	detector   *fakeDetector
	records    *state.FileRepository
	selected   []firefox.Platform
}

func newFixture(t *testing.T, policy config.UpgradePolicy) *fixture {
	t.Helper()

	dir := t.TempDir()
	records := state.NewFileRepository(filepath.Join(dir, "state.yaml"))

	f := &fixture{
		resolver: &fakeResolver{filename: "firefox-37.0.tar.bz2"},
		fetcher:  new(fakeFetcher),
		target:   &fakeTarget{platform: firefox.PlatformLinux, records: records},
		guard:    new(fakeGuard),
		detector: new(fakeDetector),
		records:  records,
	}

	clock := time.Date(2015, time.March, 31, 16, 27, 0, 0, time.UTC)

	rec, err := New(Dependencies{
		Resolver:  f.resolver,
		Fetcher:   f.fetcher,
		Artifacts: fakeArtifacts{dir: filepath.Join(dir, "artifacts")},
		Records:   records,
		Targets: func(normalized firefox.Platform) (platform.Target, error) {
			f.selected = append(f.selected, normalized)
			f.target.platform = normalized

			return f.target, nil
		},
		Guard:    f.guard,
		Detector: f.detector,
		Now:      func() time.Time { return clock },
	}, WithPolicy(policy))
	require.NoError(t, err)

	f.reconciler = rec

	return f
}

func request(version string) *firefox.Request {
	return &firefox.Request{Version: version, BaseURI: testBaseURI}
}

// TestNew_RequiresDependencies rejects a reconciler without its core components.
func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Dependencies{})
	require.ErrorIs(t, err, errDependencyRequired)

	_, err = New(Dependencies{Resolver: new(fakeResolver), Fetcher: new(fakeFetcher)})
	require.ErrorIs(t, err, errDependencyRequired)
}

// TestReconciler_InstallTransitions walks every install state and emits the record.
func TestReconciler_InstallTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicySideBySide)
	req := request("37.0")
	req.LogLevel = "debug"

	outcome, err := f.reconciler.Reconcile(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, []State{
		StateAbsent,
		StateResolving,
		StateFetching,
		StateVerifying,
		StateApplying,
		StateInstalled,
	}, outcome.Path())
	require.Equal(t, StateInstalled, outcome.Final)
	require.Equal(t, firefox.PlatformLinux, outcome.Platform)
	require.Equal(t, 1, f.detector.calls)
	require.True(t, outcome.Changed)
	require.True(t, outcome.Downloaded)
	require.Equal(t, "firefox-37.0.tar.bz2", outcome.Filename)
	require.Equal(t, "firefox-37.0.tar.bz2", filepath.Base(outcome.Artifact))

	require.Equal(t, []string{testBaseURI + "/37.0/linux-x86_64/en-US/firefox-37.0.tar.bz2"}, f.fetcher.urls)

	require.NotNil(t, outcome.Record)
	require.Equal(t, "/opt/firefox/37.0_en-US", outcome.Record.Path)
	require.Equal(t, "en-US", outcome.Request.Language)

	// The caller's request is not modified.
	require.Empty(t, req.Language)
	require.Empty(t, req.Path)

	// A second run starts from the installed state.
	f.target.satisfied = true

	outcome, err = f.reconciler.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StateInstalled, outcome.Path()[0])
	require.False(t, outcome.Changed)
}

// TestReconciler_UnsupportedPlatform fails before any network access.
func TestReconciler_UnsupportedPlatform(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicySideBySide)
	req := request("37.0")
	req.Platform = "aarch64-linux"

	outcome, err := f.reconciler.Reconcile(context.Background(), req)
	require.ErrorIs(t, err, firefox.ErrPlatform)
	require.Equal(t, firefox.ExitUnsupportedPlatform, firefox.ExitCode(err))
	require.Equal(t, StateResolving, outcome.Final)
	require.Zero(t, f.resolver.count())
	require.Empty(t, f.fetcher.urls)
	require.Empty(t, f.selected)

	_, _, err = f.reconciler.Resolve(context.Background(), req)
	require.ErrorIs(t, err, firefox.ErrPlatform)
	require.Zero(t, f.resolver.count())
}

// TestReconciler_ChecksumMismatch never reaches the installed state.
func TestReconciler_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicySideBySide)
	f.fetcher.err = &firefox.ChecksumMismatchError{
		URL:      "https://example.test/firefox-37.0.tar.bz2",
		Expected: "aa",
		Actual:   "bb",
	}

	outcome, err := f.reconciler.Reconcile(context.Background(), request("37.0"))
	require.ErrorIs(t, err, firefox.ErrIntegrity)
	require.Equal(t, StateFetching, outcome.Final)
	require.Nil(t, outcome.Record)
	require.Empty(t, f.target.events)
	require.NotContains(t, outcome.Path(), StateInstalled)

	_, err = f.records.Get(context.Background(), "37.0", firefox.DefaultLanguage)
	require.ErrorIs(t, err, state.ErrNotFound)
}

// TestReconciler_KeepsTypedErrors passes upstream errors through with context.
func TestReconciler_KeepsTypedErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicySideBySide)
	f.resolver.err = &firefox.UpstreamHTTPError{URL: testBaseURI + "/99.0/linux-x86_64/en-US/", StatusCode: http.StatusNotFound}

	outcome, err := f.reconciler.Reconcile(context.Background(), request("99.0"))
	require.ErrorIs(t, err, firefox.ErrResolution)
	require.Contains(t, err.Error(), "resolving 99.0")

	var httpErr *firefox.UpstreamHTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	require.Equal(t, StateResolving, outcome.Final)

	f.resolver.err = nil
	f.target.applyErr = errors.New("disk full")

	outcome, err = f.reconciler.Reconcile(context.Background(), request("37.0"))
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, StateApplying, outcome.Final)
}

// TestReconciler_InvalidRequest validates before doing anything.
func TestReconciler_InvalidRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicySideBySide)

	outcome, err := f.reconciler.Reconcile(context.Background(), &firefox.Request{Language: "en-US"})
	require.Error(t, err)
	require.Nil(t, outcome)

	_, err = f.reconciler.Reconcile(context.Background(), nil)
	require.ErrorIs(t, err, errRequestRequired)
	require.Zero(t, f.detector.calls)
}

// TestReconciler_Remove walks Installed, Removing, Absent and reports the old record.
func TestReconciler_Remove(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicySideBySide)
	ctx := context.Background()

	_, err := f.reconciler.Reconcile(ctx, request("37.0"))
	require.NoError(t, err)

	req := request("37.0")
	req.Action = firefox.ActionRemove

	outcome, err := f.reconciler.Reconcile(ctx, req)
	require.NoError(t, err)
	require.Equal(t, []State{StateInstalled, StateRemoving, StateAbsent}, outcome.Path())
	require.Equal(t, "firefox-37.0.tar.bz2", outcome.Record.Filename)
	require.Equal(t, "firefox-37.0.tar.bz2", f.target.removed["37.0"])

	outcome, err = f.reconciler.Reconcile(ctx, req)
	require.ErrorIs(t, err, firefox.ErrState)
	require.Equal(t, firefox.ExitNotInstalled, firefox.ExitCode(err))
	require.Equal(t, StateRemoving, outcome.Final)
}

// TestReconciler_RemoveWindowsResolvesArtifact looks the artifact up to name the package.
func TestReconciler_RemoveWindowsResolvesArtifact(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicySideBySide)
	f.resolver.filename = "Firefox Setup 38.0.1esr.exe"

	req := request("latest-esr")
	req.Platform = "windows"
	req.Action = firefox.ActionRemove

	outcome, err := f.reconciler.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, firefox.PlatformWindows, outcome.Platform)
	require.Equal(t, "Firefox Setup 38.0.1esr.exe", f.target.removed["latest-esr"])

	// An explicit display version needs no lookup.
	req.DisplayVersion = "38.0.1 ESR"

	_, err = f.reconciler.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, f.resolver.count())
	require.Empty(t, f.target.removed["latest-esr"])
}

// TestReconciler_UpgradePolicies removes older versions of the same language in the configured order.
func TestReconciler_UpgradePolicies(t *testing.T) {
	t.Parallel()

	cases := map[config.UpgradePolicy][]string{
		config.PolicySideBySide:   {"apply 37.0"},
		config.PolicyRemoveBefore: {"remove 36.0", "apply 37.0"},
		config.PolicyRemoveAfter:  {"apply 37.0", "remove 36.0"},
	}

	for policy, expected := range cases {
		t.Run(string(policy), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, policy)
			ctx := context.Background()

			for _, record := range []*firefox.Record{
				{Version: "36.0", Language: "en-US", Path: "/opt/firefox/36.0_en-US", Platform: firefox.PlatformLinux},
				{Version: "36.0", Language: "de", Path: "/opt/firefox/36.0_de", Platform: firefox.PlatformLinux},
				{Version: "35.0", Language: "en-US", Path: `C:\Firefox\35.0`, Platform: firefox.PlatformWindows},
			} {
				require.NoError(t, f.records.Put(ctx, record))
			}

			req := request("37.0")
			req.Action = firefox.ActionUpgrade

			outcome, err := f.reconciler.Reconcile(ctx, req)
			require.NoError(t, err)
			require.Equal(t, expected, f.target.events)

			records, err := f.records.List(ctx)
			require.NoError(t, err)

			if policy == config.PolicySideBySide {
				require.Empty(t, outcome.Replaced)
				require.Len(t, records, 4)

				return
			}

			require.Len(t, outcome.Replaced, 1)
			require.Equal(t, "36.0", outcome.Replaced[0].Version)
			require.Len(t, records, 3)
		})
	}
}

// TestReconciler_UpgradeSamePathForgetsRecord keeps the directory shared with the new version.
func TestReconciler_UpgradeSamePathForgetsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicyRemoveAfter)
	ctx := context.Background()

	require.NoError(t, f.records.Put(ctx, &firefox.Record{
		Version:  "36.0",
		Language: "en-US",
		Path:     "/opt/firefox/current",
		Platform: firefox.PlatformLinux,
	}))

	req := request("37.0")
	req.Action = firefox.ActionUpgrade
	req.Path = "/opt/firefox/current/"

	outcome, err := f.reconciler.Reconcile(ctx, req)
	require.NoError(t, err)
	require.Equal(t, []string{"apply 37.0"}, f.target.events)
	require.Len(t, outcome.Replaced, 1)

	_, err = f.records.Get(ctx, "36.0", "en-US")
	require.ErrorIs(t, err, state.ErrNotFound)
}

// TestReconciler_ProcessGuard warns by default and stops browsers on request.
func TestReconciler_ProcessGuard(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicySideBySide)
	f.guard.running = []host.Process{{PID: 4242, Name: "firefox"}}

	_, err := f.reconciler.Reconcile(context.Background(), request("37.0"))
	require.NoError(t, err)
	require.Zero(t, f.guard.terminated)

	req := request("38.0")
	req.StopRunning = true

	_, err = f.reconciler.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, f.guard.terminated)

	// Nothing is stopped when the installed build already satisfies the request.
	f.target.satisfied = true

	_, err = f.reconciler.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, f.guard.terminated)
}

// TestReconciler_RemoveMissingKeepsBrowsersRunning reports a missing install before stopping anything.
func TestReconciler_RemoveMissingKeepsBrowsersRunning(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.PolicySideBySide)
	f.guard.running = []host.Process{{PID: 4242, Name: "firefox"}}

	req := request("37.0")
	req.Action = firefox.ActionRemove
	req.StopRunning = true

	outcome, err := f.reconciler.Reconcile(context.Background(), req)
	require.ErrorIs(t, err, firefox.ErrState)
	require.Equal(t, firefox.ExitNotInstalled, firefox.ExitCode(err))
	require.Equal(t, StateRemoving, outcome.Final)
	require.Zero(t, f.guard.terminated)
	require.Empty(t, f.target.events)

	// An installed version is removed after the browsers are stopped.
	install := request("37.0")
	install.StopRunning = true

	_, err = f.reconciler.Reconcile(context.Background(), install)
	require.NoError(t, err)
	require.Equal(t, 1, f.guard.terminated)

	_, err = f.reconciler.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, f.guard.terminated)
}
