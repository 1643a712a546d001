package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/logger"
	"github.com/oshokin/firefox-package/internal/repository/state"
	"github.com/oshokin/firefox-package/internal/service/probe"
)

// archiveStrip drops the top-level "firefox/" directory of release tarballs.
const archiveStrip = 1

var errUnsafeRemoval = errors.New("refusing to remove install directory")

// unixTarget holds the install flow shared by Linux and macOS: unpack into
// Path, install runtime packages, record the install and maintain links.
type unixTarget struct {
	// deps are the host capabilities.
	deps Dependencies
	// platform is the normalized platform served.
	platform firefox.Platform
	// installDependencies is false where the OS has no runtime packages to add.
	installDependencies bool
	// binary returns the executable for an install made from artifact.
	binary func(req *firefox.Request, artifact string) string
	// unpack places the artifact contents into req.Path.
	unpack func(ctx context.Context, artifact string, req *firefox.Request) error
}

// Platform returns the platform served by the target.
func (t *unixTarget) Platform() firefox.Platform {
	return t.platform
}

// Verify probes the installed binary and compares it with the artifact version.
// An equal or newer installed build satisfies the request.
func (t *unixTarget) Verify(ctx context.Context, artifact string, req *firefox.Request) (*Verification, error) {
	binary := t.binary(req, artifact)
	wanted := probe.Extract(filepath.Base(artifact))

	installed, err := t.deps.Prober.Version(ctx, binary)
	if err != nil {
		return nil, err
	}

	verification := &Verification{
		Satisfied: !installed.IsZero() && installed.AtLeast(wanted),
		Binary:    binary,
		Installed: installed,
		Wanted:    wanted,
	}

	logger.DebugKV(ctx, "Verified installed build",
		"binary", binary,
		"installed", installed.String(),
		"wanted", wanted.String(),
		"satisfied", verification.Satisfied)

	return verification, nil
}

// Apply unpacks the artifact when needed, then installs runtime packages,
// writes the install record and points every link at the binary.
func (t *unixTarget) Apply(
	ctx context.Context,
	artifact string,
	req *firefox.Request,
	verification *Verification,
) (*Result, error) {
	if verification == nil {
		var err error

		if verification, err = t.Verify(ctx, artifact, req); err != nil {
			return nil, err
		}
	}

	result := new(Result)

	if verification.Satisfied {
		logger.InfoKV(ctx, "Installed build is current, skipping extraction",
			"path", req.Path, "installed", verification.Installed.String())
	} else {
		logger.InfoKV(ctx, "Unpacking artifact", "artifact", artifact, "path", req.Path)

		if err := t.unpack(ctx, artifact, req); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", filepath.Base(artifact), err)
		}

		result.Extracted = true
		result.Changed = true
	}

	if err := t.installPackages(ctx, req); err != nil {
		return nil, err
	}

	record, err := t.writeRecord(ctx, artifact, req, verification.Binary)
	if err != nil {
		return nil, err
	}

	result.Record = record

	for _, link := range req.Links {
		changed, err := EnsureLink(link, verification.Binary)
		if err != nil {
			return nil, err
		}

		if changed {
			logger.InfoKV(ctx, "Link updated", "link", link, "target", verification.Binary)

			result.Links = append(result.Links, link)
			result.Changed = true
		}
	}

	return result, nil
}

// Remove deletes the recorded install directory, the links into it and the record.
func (t *unixTarget) Remove(ctx context.Context, req *firefox.Request, _ string) error {
	record, err := t.deps.Records.Get(ctx, req.Version, req.Language)
	if errors.Is(err, state.ErrNotFound) {
		return &firefox.NotInstalledError{Version: req.Version, Language: req.Language}
	}

	if err != nil {
		return fmt.Errorf("read install record: %w", err)
	}

	dir := filepath.Clean(record.Path)
	if !safeToRemove(dir) {
		return fmt.Errorf("%w: %q", errUnsafeRemoval, record.Path)
	}

	logger.InfoKV(ctx, "Removing install directory", "path", dir)

	if err = os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}

	removed, err := RemoveLinksInto(req.Links, dir)
	if err != nil {
		return err
	}

	for _, link := range removed {
		logger.InfoKV(ctx, "Link removed", "link", link)
	}

	if err = t.deps.Records.Delete(ctx, req.Version, req.Language); err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("delete install record: %w", err)
	}

	return nil
}

func (t *unixTarget) installPackages(ctx context.Context, req *firefox.Request) error {
	if !t.installDependencies || req.SkipDependencies || t.deps.Packages == nil {
		return nil
	}

	packages := req.Dependencies
	if len(packages) == 0 {
		packages = t.deps.Packages.DefaultPackages(ctx)
	}

	if len(packages) == 0 {
		return nil
	}

	logger.InfoKV(ctx, "Installing runtime dependencies", "packages", packages)

	if err := t.deps.Packages.Install(ctx, packages); err != nil {
		return fmt.Errorf("install dependencies: %w", err)
	}

	return nil
}

func (t *unixTarget) writeRecord(
	ctx context.Context,
	artifact string,
	req *firefox.Request,
	binary string,
) (*firefox.Record, error) {
	record := &firefox.Record{
		Version:     req.Version,
		Language:    req.Language,
		Path:        req.Path,
		Platform:    t.platform,
		Filename:    filepath.Base(artifact),
		Binary:      binary,
		InstalledAt: t.deps.Now().UTC(),
	}

	actor, err := t.deps.Actor()
	if err != nil {
		logger.WarnKV(ctx, "Unable to detect install actor", "error", err)
	} else {
		record.InstalledBy = actor
	}

	if err = t.deps.Records.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("write install record: %w", err)
	}

	return record, nil
}

// safeToRemove rejects empty, relative and root paths.
func safeToRemove(dir string) bool {
	if dir == "" || dir == "." || !filepath.IsAbs(dir) {
		return false
	}

	return filepath.Dir(dir) != dir
}

// LinuxTarget installs release tarballs on Linux.
type LinuxTarget struct {
	*unixTarget
}

func newLinuxTarget(deps Dependencies) *LinuxTarget {
	return &LinuxTarget{
		unixTarget: &unixTarget{
			deps:                deps,
			platform:            firefox.PlatformLinux,
			installDependencies: true,
			binary: func(req *firefox.Request, _ string) string {
				return filepath.Join(req.Path, "firefox")
			},
			unpack: func(ctx context.Context, artifact string, req *firefox.Request) error {
				return ExtractArchive(ctx, artifact, req.Path, archiveStrip)
			},
		},
	}
}
