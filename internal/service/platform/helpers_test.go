package platform

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/service/host"
	"github.com/oshokin/firefox-package/internal/service/probe"
)

// tarEntry describes one member of a test archive.
type tarEntry struct {
	name     string
	body     string
	mode     int64
	typeflag byte
	linkname string
}

// writeTarball builds an archive at path, compressed according to its suffix.
func writeTarball(t *testing.T, path string, entries []tarEntry) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, file.Close())
	}()

	var stream io.WriteCloser

	switch {
	case strings.HasSuffix(path, ".tar.xz"):
		stream, err = xz.NewWriter(file)
		require.NoError(t, err)
	case strings.HasSuffix(path, ".tar.gz"):
		stream = gzip.NewWriter(file)
	default:
		stream = nopWriteCloser{file}
	}

	writer := tar.NewWriter(stream)

	for _, entry := range entries {
		header := &tar.Header{
			Name:     entry.name,
			Mode:     entry.mode,
			Typeflag: entry.typeflag,
			Linkname: entry.linkname,
			ModTime:  time.Unix(1_427_800_000, 0),
		}

		if header.Typeflag == 0 {
			header.Typeflag = tar.TypeReg
		}

		if header.Mode == 0 {
			header.Mode = 0o644
		}

		if header.Typeflag == tar.TypeReg {
			header.Size = int64(len(entry.body))
		}

		require.NoError(t, writer.WriteHeader(header))

		if header.Typeflag == tar.TypeReg {
			_, err = io.WriteString(writer, entry.body)
			require.NoError(t, err)
		}
	}

	require.NoError(t, writer.Close())
	require.NoError(t, stream.Close())
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// firefoxTarball returns a release-like archive with a top-level firefox/ directory.
func firefoxTarball(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	writeTarball(t, path, []tarEntry{
		{name: "firefox/", typeflag: tar.TypeDir, mode: 0o755},
		{name: "firefox/firefox", body: "#!/bin/sh\necho 'Mozilla Firefox 37.0'\n", mode: 0o755},
		{name: "firefox/application.ini", body: "[App]\nVersion=37.0\n"},
		{name: "firefox/browser/", typeflag: tar.TypeDir, mode: 0o755},
		{name: "firefox/browser/omni.ja", body: "omni"},
	})

	return path
}

// fakeProber returns versions by binary path.
type fakeProber struct {
	mu       sync.Mutex
	versions map[string]probe.Version
	err      error
}

func (p *fakeProber) Version(_ context.Context, executable string) (probe.Version, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return probe.Zero(), p.err
	}

	return p.versions[executable], nil
}

func (p *fakeProber) set(executable, version string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.versions == nil {
		p.versions = make(map[string]probe.Version)
	}

	p.versions[executable] = probe.MustParse(version)
}

// fakePackages records installed packages.
type fakePackages struct {
	defaults  []string
	installed [][]string
}

func (p *fakePackages) DefaultPackages(context.Context) []string {
	return p.defaults
}

func (p *fakePackages) Install(_ context.Context, packages []string) error {
	p.installed = append(p.installed, packages)

	return nil
}

// scriptedRunner records invocations and answers through handle.
type scriptedRunner struct {
	calls  [][]string
	handle func(name string, args []string) (*host.Result, error)
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (*host.Result, error) {
	r.calls = append(r.calls, append([]string{name}, args...))

	if r.handle == nil {
		return &host.Result{}, nil
	}

	return r.handle(name, args)
}

// fakeRegistry lists installed programs by display name.
type fakeRegistry struct {
	entries map[string]*UninstallEntry
}

func (r *fakeRegistry) Find(_ context.Context, displayName string) (*UninstallEntry, bool, error) {
	entry, found := r.entries[displayName]

	return entry, found, nil
}

func fixedActor() (*firefox.Actor, error) {
	return &firefox.Actor{Hostname: "build-01", Username: "deploy"}, nil
}

func fixedClock() time.Time {
	return time.Date(2015, time.March, 31, 16, 27, 0, 0, time.UTC)
}
