package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:   "firefox-package",
		Short: "Install, upgrade and remove Mozilla Firefox releases.",
		Long: `Converges a host on a requested Firefox release.

The release label (for example 37.0, latest or latest-esr) is resolved to the real
artifact through the public release index, the artifact is downloaded into a local
cache and verified, and the browser is installed side by side with other versions:
tarballs on Linux, disk images on macOS and the silent installer on Windows.

Settings are read from a YAML file; command line flags override them.
Exit codes: 2 upstream HTTP error, 3 unparsable release index, 4 checksum mismatch,
5 unparsable installed version, 6 not installed, 7 unsupported platform.`,
		SilenceUsage: true,
	}
)

// Execute runs the firefox-package CLI and exits with the code matching the error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(firefox.ExitCode(err))
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides the configuration)")

	rootCmd.AddCommand(
		newPackageCommand(firefox.ActionInstall),
		newPackageCommand(firefox.ActionUpgrade),
		newPackageCommand(firefox.ActionRemove),
		newResolveCommand(),
		newApplyCommand(),
	)
}
