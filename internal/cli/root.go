package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/config"
	"github.com/roach88/progsync/internal/failsafe"
	"github.com/roach88/progsync/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config and Logger are resolved before any subcommand runs.
	Config *config.Config
	Logger *slog.Logger

	// NewRemote builds the remote service. Defaults to the HTTP client.
	NewRemote RemoteFactory

	// Clock drives the failsafe timers. Defaults to the wall clock.
	Clock failsafe.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the progsync CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{})
}

// NewRootCommandWith creates the root command around opts. Tests use it to
// inject a fake remote service and clock.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	if opts.NewRemote == nil {
		opts.NewRemote = dialRemote
	}
	if opts.Clock == nil {
		opts.Clock = failsafe.RealClock{}
	}

	cmd := &cobra.Command{
		Use:   "progsync",
		Short: "progsync - local-first lesson progress sync",
		Long: `progsync boots a learner session from the local cache, reconciles the
enrollment with the remote service and records activity submissions with a
bounded-time guarantee, whether or not the network answers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}

			cfg, err := config.Load(opts.ConfigPath, cmd.Flags())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format, opts.Verbose)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to configure logging", err)
			}
			slog.SetDefault(logger)

			opts.Config = cfg
			opts.Logger = logger
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigPath, "config", "", "config file (default ./progsync.yaml if present)")
	pf.String("db", "", "path to the local SQLite store")
	pf.String("remote-url", "", "base URL of the remote state service")
	pf.String("token", "", "remote access token")
	pf.String("catalog", "", "lesson catalog (.yaml or .cue)")

	// Add subcommands
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewLessonCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewSignOutCommand(opts))
	cmd.AddCommand(NewOnboardCommand(opts))
	cmd.AddCommand(NewAdvanceCommand(opts))
	cmd.AddCommand(NewSignInCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
