package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/service/reconciler"
)

// packageFlags holds the per-package command line overrides.
type packageFlags struct {
	// language is the build locale.
	language string
	// platform is the raw platform identifier.
	platform string
	// uri is the release tree root.
	uri string
	// checksum is the expected artifact digest.
	checksum string
	// splay is the resolution cache window in seconds.
	splay int
	// path is the install directory.
	path string
	// links are symlinks pointed at the installed binary.
	links []string
	// displayVersion overrides the Windows package name version.
	displayVersion string
	// skipDependencies disables OS package installation.
	skipDependencies bool
	// stopRunning terminates running browsers first.
	stopRunning bool
	// policy overrides the upgrade policy.
	policy string
}

// shortDescriptions are the help lines of the package commands.
//
//nolint:gochecknoglobals // Read-only lookup table.
var shortDescriptions = map[firefox.Action]string{
	firefox.ActionInstall: "Install a Firefox release unless it is already in place.",
	firefox.ActionUpgrade: "Install a Firefox release and apply the upgrade policy to older versions.",
	firefox.ActionRemove:  "Remove an installed Firefox release and its links.",
}

// newPackageCommand builds the install, upgrade and remove commands.
func newPackageCommand(action firefox.Action) *cobra.Command {
	flags := new(packageFlags)

	command := &cobra.Command{
		Use:   string(action) + " <version>",
		Short: shortDescriptions[action],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			outcome, err := reconciler.Run(ctx, flags.options(cmd, args[0], action))
			if err != nil {
				return err
			}

			printOutcome(cmd.OutOrStdout(), outcome)

			return nil
		},
	}

	flags.register(command, action == firefox.ActionUpgrade)

	return command
}

// newResolveCommand prints the artifact a release label resolves to.
func newResolveCommand() *cobra.Command {
	flags := new(packageFlags)

	command := &cobra.Command{
		Use:   "resolve <version>",
		Short: "Print the artifact filename a release label resolves to.",
		Long: `Resolves the release label through the release index and prints the artifact filename.
The resolution is cached for the splay window; nothing is downloaded or installed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			filename, url, err := reconciler.Resolve(ctx, flags.options(cmd, args[0], firefox.ActionInstall))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), filename)
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), url)

			return nil
		},
	}

	flags.register(command, false)

	return command
}

// newApplyCommand converges every package listed in the configuration.
func newApplyCommand() *cobra.Command {
	var (
		policy string
		splay  int
	)

	command := &cobra.Command{
		Use:   "apply",
		Short: "Converge every package listed in the configuration file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			opts := &reconciler.Options{
				ConfigPath: configPath,
				LogLevel:   logLevel,
				Policy:     policy,
			}

			if cmd.Flags().Changed("splay") {
				opts.SplaySeconds = &splay
			}

			outcomes, err := reconciler.Apply(ctx, opts)
			// Failed packages are printed too; their state is where they stopped.
			for _, outcome := range outcomes {
				if outcome != nil {
					printOutcome(cmd.OutOrStdout(), outcome)
				}
			}

			return err
		},
	}

	command.Flags().StringVar(&policy, "policy", "", "upgrade policy: side-by-side, remove-before or remove-after")
	command.Flags().IntVar(&splay, "splay", 0, "seconds a resolved filename stays fresh for every package")

	return command
}

func (f *packageFlags) register(command *cobra.Command, withPolicy bool) {
	flags := command.Flags()

	flags.StringVarP(&f.language, "language", "l", "", "build locale (default "+firefox.DefaultLanguage+")")
	flags.StringVarP(&f.platform, "platform", "p", "", "platform, e.g. x86_64-linux, darwin or windows (default: this host)")
	flags.StringVar(&f.uri, "uri", "", "release tree root (default from configuration)")
	flags.StringVar(&f.checksum, "checksum", "", "expected SHA-256 or SHA-512 hex digest of the artifact")
	flags.IntVar(&f.splay, "splay", 0, "seconds a resolved filename stays fresh, 0 trusts any cached value")
	flags.StringVar(&f.path, "path", "", "install directory (default: per version and language)")
	flags.StringArrayVar(&f.links, "link", nil, "symlink to point at the installed binary (repeatable)")
	flags.StringVar(&f.displayVersion, "display-version", "", "version shown in the Windows package name")
	flags.BoolVar(&f.skipDependencies, "skip-dependencies", false, "do not install OS runtime packages")
	flags.BoolVar(&f.stopRunning, "stop-running", false, "terminate running Firefox processes first")

	if withPolicy {
		flags.StringVar(&f.policy, "policy", "", "upgrade policy: side-by-side, remove-before or remove-after")
	}
}

func (f *packageFlags) options(cmd *cobra.Command, release string, action firefox.Action) *reconciler.Options {
	opts := &reconciler.Options{
		ConfigPath: configPath,
		LogLevel:   logLevel,
		Policy:     f.policy,
		Request: &firefox.Request{
			Version:          release,
			Language:         f.language,
			Platform:         f.platform,
			BaseURI:          f.uri,
			Checksum:         f.checksum,
			Path:             f.path,
			Links:            f.links,
			DisplayVersion:   f.displayVersion,
			SkipDependencies: f.skipDependencies,
			StopRunning:      f.stopRunning,
			Action:           action,
		},
	}

	if cmd.Flags().Changed("splay") {
		splay := f.splay
		opts.SplaySeconds = &splay
	}

	return opts
}

// printOutcome writes a one-line summary of a reconciliation.
func printOutcome(out io.Writer, outcome *reconciler.Outcome) {
	_, _ = fmt.Fprintf(out, "firefox %s (%s, %s): %s changed=%t downloaded=%t path=%s\n",
		outcome.Request.Version,
		outcome.Request.Language,
		outcome.Platform,
		outcome.Final,
		outcome.Changed,
		outcome.Downloaded,
		outcome.Request.Path,
	)
}
