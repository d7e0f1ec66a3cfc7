// Package main provides the CLI entry point of pimsync.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pimsync/runtime/internal/cli"
	"github.com/pimsync/runtime/internal/config"
	"github.com/pimsync/runtime/internal/logger"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// exitError carries the process exit code of a failed command. Its message
// has already been printed when err is nil.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// app holds the global flags and the output streams of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool
	quiet      bool
	logFormat  string
	logFile    string
	jsonOutput bool
}

func (a *app) outputOptions() cli.OutputOptions {
	return cli.OutputOptions{Verbose: a.verbose, Quiet: a.quiet, JSON: a.jsonOutput}
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line args and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer logger.CloseLogFile()

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintf(stderr, "✗ %v\n", exit.err)
		}
		return exit.code
	}
	fmt.Fprintf(stderr, "✗ %v\n", err)
	return ExitRuntimeError
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "pimsync",
		Short: "pimsync - PIM catalog synchronizer",
		Long: `pimsync pulls the product catalog of a remote PIM into a local
transactional store: attributes, options, families, categories, association
types, product models, products and their associations.

Each entity class runs its own pipeline: fetch (optionally narrowed by the
stored filter rule set), exclude, build values, reconcile with the local store
and apply the changes in one transaction.

Examples:
  # Import every class in dependency order
  pimsync import all

  # Import products without writing anything
  pimsync import products --dry-run

  # Store a filter rule set
  pimsync rules set rules.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// Flags first; the settings file may refine them once loaded.
			logger.SetLevelAndFormat(a.logLevel(""), logger.ParseFormat(a.logFormat))
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Settings file (default $XDG_CONFIG_HOME/pimsync/config.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-error output")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: json or human")
	flags.StringVar(&a.logFile, "log-file", "", "Also write JSON logs to this rotating file")

	root.AddCommand(
		newValidateCmd(a),
		newImportCmd(a),
		newRulesCmd(a),
		newStatusCmd(a),
		newVersionCmd(a),
	)
	return root
}

// logLevel resolves the log level: --verbose and --quiet win over the
// settings file.
func (a *app) logLevel(configured string) slog.Level {
	switch {
	case a.verbose:
		return slog.LevelDebug
	case a.quiet:
		return slog.LevelError
	case configured != "":
		return logger.ParseLevel(configured)
	default:
		return slog.LevelInfo
	}
}

func (a *app) settingsPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.DefaultConfigPath()
}

// loadSettings loads .env files, parses and validates the settings file and
// applies its logging section. Errors are printed and mapped to exit codes.
func (a *app) loadSettings() (*config.Settings, error) {
	path := a.settingsPath()
	if err := config.LoadEnv(path); err != nil {
		return nil, exitWith(ExitParseError, fmt.Errorf("loading .env: %w", err))
	}

	result := config.ParseConfig(path)
	if len(result.ParseErrors) > 0 {
		cli.PrintParseErrors(a.stderr, result.ParseErrors, a.verbose)
		return nil, exitWith(ExitParseError, nil)
	}
	if len(result.ValidationErrors) > 0 {
		cli.PrintValidationErrors(a.stderr, result.ValidationErrors, a.verbose, a.quiet)
		return nil, exitWith(ExitValidationError, nil)
	}

	settings, err := config.ConvertToSettings(result.Data)
	if err != nil {
		return nil, exitWith(ExitValidationError, err)
	}
	if err := a.configureLogging(settings.Logging); err != nil {
		return nil, exitWith(ExitRuntimeError, err)
	}
	return settings, nil
}

func (a *app) configureLogging(s config.LoggingSettings) error {
	format := s.Format
	if a.logFormat != "" {
		format = a.logFormat
	}
	level := a.logLevel(s.Level)
	logger.SetLevelAndFormat(level, logger.ParseFormat(format))

	file := s.File
	if a.logFile != "" {
		file = a.logFile
	}
	if file == "" {
		return nil
	}
	return logger.SetLogFile(file, level, logger.ParseFormat(format), logger.FileOptions{
		MaxSizeMB:  s.MaxSizeMB,
		MaxBackups: s.MaxBackups,
		MaxAgeDays: s.MaxAgeDays,
	})
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "Version: %s\n", version)
			fmt.Fprintf(a.stdout, "Commit: %s\n", commit)
			fmt.Fprintf(a.stdout, "Build Date: %s\n", buildDate)
		},
	}
}
