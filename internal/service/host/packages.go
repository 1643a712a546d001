package host

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/oshokin/firefox-package/internal/logger"
)

var (
	errUnsupportedFamily = errors.New("no package manager known for distribution family")
	errPackageInstall    = errors.New("package installation failed")
)

// PackageInstaller installs OS-level runtime dependencies.
type PackageInstaller interface {
	// DefaultPackages returns the runtime libraries Firefox needs on this host.
	DefaultPackages(ctx context.Context) []string
	// Install installs packages with the host package manager.
	Install(ctx context.Context, packages []string) error
}

// packageManager is the install command of a distribution family.
type packageManager struct {
	// command is the package manager binary.
	command string
	// args precede the package names.
	args []string
	// defaults are the Firefox runtime libraries for the family.
	defaults []string
}

//nolint:gochecknoglobals // Read-only lookup table.
var packageManagers = map[string]packageManager{
	FamilyDebian: {
		command:  "apt-get",
		args:     []string{"install", "-y", "--no-install-recommends"},
		defaults: []string{"libasound2", "libgtk2.0-0", "libdbus-glib-1-2", "libxt6"},
	},
	FamilyRHEL: {
		command:  "yum",
		args:     []string{"install", "-y"},
		defaults: []string{"alsa-lib", "gtk2", "dbus-glib", "libXt"},
	},
	FamilyFedora: {
		command:  "dnf",
		args:     []string{"install", "-y"},
		defaults: []string{"alsa-lib", "gtk2", "dbus-glib", "libXt"},
	},
	FamilySUSE: {
		command:  "zypper",
		args:     []string{"--non-interactive", "install"},
		defaults: []string{"libasound2", "gtk2", "dbus-1-glib", "libXt6"},
	},
	FamilyArch: {
		command:  "pacman",
		args:     []string{"-S", "--noconfirm", "--needed"},
		defaults: []string{"alsa-lib", "gtk2", "dbus-glib", "libxt"},
	},
	FamilyAlpine: {
		command:  "apk",
		args:     []string{"add", "--no-cache"},
		defaults: []string{"alsa-lib", "gtk+2.0", "dbus-glib", "libxt"},
	},
}

// SystemPackages installs packages with the package manager of the detected distribution.
type SystemPackages struct {
	// runner starts the package manager.
	runner Runner
	// detector reports the distribution family.
	detector *Detector
}

// NewSystemPackages creates an installer backed by the host package manager.
func NewSystemPackages(runner Runner, detector *Detector) *SystemPackages {
	return &SystemPackages{
		runner:   runner,
		detector: detector,
	}
}

// DefaultPackages returns the family defaults, or nothing for unknown families.
func (p *SystemPackages) DefaultPackages(ctx context.Context) []string {
	manager, err := p.manager(ctx)
	if err != nil {
		logger.DebugKV(ctx, "No default dependencies", "error", err)

		return nil
	}

	return slices.Clone(manager.defaults)
}

// Install runs the package manager once for all packages.
func (p *SystemPackages) Install(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	manager, err := p.manager(ctx)
	if err != nil {
		return err
	}

	args := append(slices.Clone(manager.args), packages...)

	logger.InfoKV(ctx, "Installing OS dependencies", "manager", manager.command, "packages", packages)

	result, err := p.runner.Run(ctx, manager.command, args...)
	if err != nil {
		return err
	}

	if result.ExitCode != 0 {
		return fmt.Errorf("%s exited with %d: %s: %w",
			manager.command, result.ExitCode, result.Output(), errPackageInstall)
	}

	return nil
}

func (p *SystemPackages) manager(ctx context.Context) (packageManager, error) {
	info, err := p.detector.Detect(ctx)
	if err != nil {
		return packageManager{}, err
	}

	manager, found := packageManagers[info.Family]
	if !found {
		return packageManager{}, fmt.Errorf("%s %q: %w", info.OS, info.Family, errUnsupportedFamily)
	}

	return manager, nil
}
