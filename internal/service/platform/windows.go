package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/logger"
	"github.com/oshokin/firefox-package/internal/service/probe"
)

// silentFlag makes the NSIS installer and uninstaller run unattended.
const silentFlag = "/S"

var errInstallerFailed = errors.New("installer exited with a non-zero status")

// installerData is exposed to the installer INI template.
type installerData struct {
	// InstallPath is the destination directory.
	InstallPath string
	// Version is the requested release label.
	Version string
	// Language is the requested locale.
	Language string
	// Variables are the user supplied extra values.
	Variables map[string]string
}

// WindowsTarget runs the silent NSIS installer and relies on the uninstall
// registry to tell whether a build is present.
type WindowsTarget struct {
	// deps are the host capabilities.
	deps Dependencies
}

func newWindowsTarget(deps Dependencies) *WindowsTarget {
	return &WindowsTarget{deps: deps}
}

// Platform returns win32.
func (t *WindowsTarget) Platform() firefox.Platform {
	return firefox.PlatformWindows
}

// Verify looks the package name up in the uninstall registry.
func (t *WindowsTarget) Verify(ctx context.Context, artifact string, req *firefox.Request) (*Verification, error) {
	name := PackageName(req, filepath.Base(artifact))

	_, found, err := t.deps.Registry.Find(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("look up %q: %w", name, err)
	}

	logger.DebugKV(ctx, "Checked uninstall registry", "package", name, "installed", found)

	return &Verification{
		Satisfied:   found,
		Binary:      filepath.Join(req.Path, "firefox.exe"),
		Installed:   probe.Zero(),
		Wanted:      probe.Extract(filepath.Base(artifact)),
		PackageName: name,
	}, nil
}

// Apply renders the installer INI and runs the installer unless the package is registered.
func (t *WindowsTarget) Apply(
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

	result := &Result{Record: t.record(artifact, req, verification.Binary)}

	if verification.Satisfied {
		logger.InfoKV(ctx, "Package is already installed", "package", verification.PackageName)

		return result, nil
	}

	ini, err := t.renderConfig(req)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Running installer", "package", verification.PackageName, "installer", artifact, "config", ini)

	execution, err := t.deps.Runner.Run(ctx, artifact, silentFlag, "/INI="+ini)
	if err != nil {
		return nil, fmt.Errorf("run installer: %w", err)
	}

	if execution.ExitCode != 0 {
		return nil, fmt.Errorf("%w (%d): %s", errInstallerFailed, execution.ExitCode, execution.Output())
	}

	result.Changed = true
	result.Extracted = true

	return result, nil
}

// Remove runs the registered uninstaller, or the helper shipped in the install directory.
func (t *WindowsTarget) Remove(ctx context.Context, req *firefox.Request, artifactName string) error {
	if _, err := t.renderConfig(req); err != nil {
		return err
	}

	name := PackageName(req, artifactName)

	uninstaller, err := t.uninstaller(ctx, name, req.Path)
	if err != nil {
		return err
	}

	if uninstaller == "" {
		return &firefox.NotInstalledError{Version: req.Version, Language: req.Language}
	}

	logger.InfoKV(ctx, "Running uninstaller", "package", name, "uninstaller", uninstaller)

	execution, err := t.deps.Runner.Run(ctx, uninstaller, silentFlag)
	if err != nil {
		return fmt.Errorf("run uninstaller: %w", err)
	}

	if execution.ExitCode != 0 {
		return fmt.Errorf("%w (%d): %s", errInstallerFailed, execution.ExitCode, execution.Output())
	}

	return nil
}

// uninstaller returns the registry uninstall command for name, falling back to
// the helper under path. Empty means neither exists.
func (t *WindowsTarget) uninstaller(ctx context.Context, name, path string) (string, error) {
	entry, found, err := t.deps.Registry.Find(ctx, name)
	if err != nil {
		return "", fmt.Errorf("look up %q: %w", name, err)
	}

	if found {
		if command := uninstallCommand(entry.UninstallString); command != "" {
			return command, nil
		}
	}

	helper := filepath.Join(path, "uninstall", "helper.exe")
	if info, statErr := os.Stat(helper); statErr == nil && info.Mode().IsRegular() {
		return helper, nil
	}

	return "", nil
}

func (t *WindowsTarget) renderConfig(req *firefox.Request) (string, error) {
	ini := t.deps.Installers.InstallerConfigPath(req.Version)

	data := installerData{
		InstallPath: req.Path,
		Version:     req.Version,
		Language:    req.Language,
		Variables:   req.InstallerVariables,
	}

	if err := t.deps.Renderer.Render(req.InstallerTemplate, data, ini); err != nil {
		return "", fmt.Errorf("render installer config: %w", err)
	}

	return ini, nil
}

func (t *WindowsTarget) record(artifact string, req *firefox.Request, binary string) *firefox.Record {
	record := &firefox.Record{
		Version:     req.Version,
		Language:    req.Language,
		Path:        req.Path,
		Platform:    firefox.PlatformWindows,
		Filename:    filepath.Base(artifact),
		Binary:      binary,
		InstalledAt: t.deps.Now().UTC(),
	}

	if actor, err := t.deps.Actor(); err == nil {
		record.InstalledBy = actor
	}

	return record
}

// LongVersion is the version part of the Windows package name: the explicit
// display version, or the version in the artifact name with " ESR" for
// extended support builds, or the requested label when neither is known.
// The installer registers the real build number, so labels such as latest-esr
// or 38.0esr never match the registry; DisplayVersion is the verbatim override.
func LongVersion(req *firefox.Request, artifactName string) string {
	if req.DisplayVersion != "" {
		return req.DisplayVersion
	}

	parsed := probe.Extract(artifactName)
	if parsed.IsZero() {
		return req.Version
	}

	if strings.Contains(strings.ToLower(artifactName), "esr") {
		return parsed.String() + " ESR"
	}

	return parsed.String()
}

// PackageName is the display name the Firefox installer registers.
func PackageName(req *firefox.Request, artifactName string) string {
	return fmt.Sprintf("Mozilla Firefox %s (x86 %s)", LongVersion(req, artifactName), req.Language)
}

// uninstallCommand extracts the executable from an UninstallString, which may be quoted.
func uninstallCommand(uninstall string) string {
	uninstall = strings.TrimSpace(uninstall)

	if rest, quoted := strings.CutPrefix(uninstall, `"`); quoted {
		if executable, _, closed := strings.Cut(rest, `"`); closed {
			return executable
		}

		return rest
	}

	return uninstall
}
