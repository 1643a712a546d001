package platform

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/repository/state"
	"github.com/oshokin/firefox-package/internal/service/common"
	"github.com/oshokin/firefox-package/internal/service/host"
	"github.com/oshokin/firefox-package/internal/service/probe"
)

// universalDarwin matches Ruby-style universal macOS identifiers such as "universal.x86_64-darwin14".
var universalDarwin = regexp.MustCompile(`^universal.x86_64-darwin\d{2}$`)

//nolint:gochecknoglobals // Read-only lookup tables.
var (
	aliases = map[string]firefox.Platform{
		"x86_64-linux": firefox.PlatformLinux,
		"linux":        firefox.PlatformLinux,
		"i386-mingw32": firefox.PlatformWindows,
		"windows":      firefox.PlatformWindows,
		"darwin":       firefox.PlatformMac,
	}

	extensions = map[firefox.Platform]string{
		firefox.PlatformLinux:   ".tar.bz2",
		firefox.PlatformMac:     ".dmg",
		firefox.PlatformWindows: ".exe",
	}
)

var (
	errRecordsRequired = errors.New("install record repository is not set")
	errProberRequired  = errors.New("version prober is not set")
	errRunnerRequired  = errors.New("process runner is not set")
	errPathsRequired   = errors.New("installer config locations are not set")
)

// Normalize maps a raw platform identifier to the name used in release index paths.
// Unknown values are returned unchanged.
func Normalize(raw string) firefox.Platform {
	if platform, found := aliases[raw]; found {
		return platform
	}

	if universalDarwin.MatchString(raw) {
		return firefox.PlatformMac
	}

	return firefox.Platform(raw)
}

// FileExtension returns the artifact suffix published for platform.
func FileExtension(platform firefox.Platform) (string, error) {
	extension, found := extensions[platform]
	if !found {
		return "", &firefox.UnsupportedPlatformError{Platform: platform.String()}
	}

	return extension, nil
}

// VersionProber reports the version of an installed binary.
type VersionProber interface {
	Version(ctx context.Context, executable string) (probe.Version, error)
}

// InstallerPaths tells where rendered installer configs are written.
type InstallerPaths interface {
	InstallerConfigPath(version string) string
}

// Dependencies are the host capabilities targets work with.
type Dependencies struct {
	// Runner starts installers, uninstallers and disk image tools.
	Runner host.Runner
	// Prober reads the version of an installed binary.
	Prober VersionProber
	// Packages installs OS runtime libraries; nil skips them.
	Packages host.PackageInstaller
	// Records stores install records.
	Records state.Repository
	// Renderer writes the Windows installer config.
	Renderer host.Renderer
	// Installers locates rendered installer configs.
	Installers InstallerPaths
	// Registry lists installed Windows programs.
	Registry UninstallRegistry
	// Actor identifies who runs the install.
	Actor func() (*firefox.Actor, error)
	// Now stamps install records.
	Now func() time.Time
}

// Verification is the outcome of the idempotency guard.
type Verification struct {
	// Satisfied is true when the requested build is already in place.
	Satisfied bool
	// Binary is the executable links point at.
	Binary string
	// Installed is the probed version, "0.0" when nothing is installed.
	Installed probe.Version
	// Wanted is the version carried by the artifact filename.
	Wanted probe.Version
	// PackageName is the Windows display name looked up in the registry.
	PackageName string
}

// Result describes what Apply changed.
type Result struct {
	// Changed is true when anything on disk was modified.
	Changed bool
	// Extracted is true when the artifact was unpacked or run.
	Extracted bool
	// Links lists the links that were created or repointed.
	Links []string
	// Record is the install record for the converged version.
	Record *firefox.Record
}

// Target installs and removes Firefox on one platform family.
type Target interface {
	// Platform returns the normalized platform served by the target.
	Platform() firefox.Platform
	// Verify checks whether artifact is already installed as requested.
	Verify(ctx context.Context, artifact string, req *firefox.Request) (*Verification, error)
	// Apply installs artifact unless the verification says it is in place.
	Apply(ctx context.Context, artifact string, req *firefox.Request, verification *Verification) (*Result, error)
	// Remove uninstalls the requested version. artifactName may be empty.
	Remove(ctx context.Context, req *firefox.Request, artifactName string) error
}

// Select returns the target for platform.
func Select(platform firefox.Platform, deps Dependencies) (Target, error) {
	if _, err := FileExtension(platform); err != nil {
		return nil, err
	}

	if deps.Actor == nil {
		deps.Actor = common.DetectActor
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}

	if deps.Registry == nil {
		deps.Registry = NewSystemRegistry()
	}

	if deps.Runner == nil {
		return nil, errRunnerRequired
	}

	switch platform {
	case firefox.PlatformWindows:
		if deps.Installers == nil {
			return nil, errPathsRequired
		}

		if deps.Renderer == nil {
			deps.Renderer = host.NewRenderer()
		}

		return newWindowsTarget(deps), nil
	case firefox.PlatformMac:
		if err := checkUnixDependencies(deps); err != nil {
			return nil, err
		}

		return newMacTarget(deps), nil
	default:
		if err := checkUnixDependencies(deps); err != nil {
			return nil, err
		}

		return newLinuxTarget(deps), nil
	}
}

// Install runs the guard and then applies the artifact.
func Install(ctx context.Context, target Target, artifact string, req *firefox.Request) (*Result, error) {
	verification, err := target.Verify(ctx, artifact, req)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", req.Version, err)
	}

	return target.Apply(ctx, artifact, req, verification)
}

func checkUnixDependencies(deps Dependencies) error {
	switch {
	case deps.Records == nil:
		return errRecordsRequired
	case deps.Prober == nil:
		return errProberRequired
	default:
		return nil
	}
}
