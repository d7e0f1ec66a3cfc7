package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pimsync/runtime/internal/catalogsync"
	"github.com/pimsync/runtime/internal/cli"
	"github.com/pimsync/runtime/internal/config"
	"github.com/pimsync/runtime/internal/filter"
	"github.com/pimsync/runtime/internal/logger"
	"github.com/pimsync/runtime/internal/persistence"
	"github.com/pimsync/runtime/internal/registry"
	"github.com/pimsync/runtime/internal/remote"
	"github.com/pimsync/runtime/internal/store"
	"github.com/pimsync/runtime/pkg/catalog"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [settings-file]",
		Short: "Validate a settings file",
		Long: `Validate a settings file against the schema and compile its exclusion
expressions. Without an argument the --config file (or the default path) is
validated.

Exit codes:
  0 - Settings are valid
  1 - Validation errors (schema violations, bad expressions)
  2 - Parse errors (invalid JSON/YAML syntax)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.configPath = args[0]
			}
			if !a.quiet {
				fmt.Fprintf(a.stdout, "Validating settings: %s\n", a.settingsPath())
			}
			settings, err := a.loadSettings()
			if err != nil {
				return err
			}
			for class, src := range settings.Exclude {
				if _, err := catalogsync.CompileExclusion(src); err != nil {
					return exitWith(ExitValidationError, fmt.Errorf("exclude.%s: %w", class, err))
				}
			}
			if _, err := settings.ValueRegistry(); err != nil {
				return exitWith(ExitValidationError, err)
			}

			if !a.quiet {
				fmt.Fprintln(a.stdout, "✓ Settings are valid")
				if a.verbose {
					printSettingsSummary(a, settings)
				}
			}
			return nil
		},
	}
}

func printSettingsSummary(a *app, s *config.Settings) {
	if s.Remote != nil {
		fmt.Fprintf(a.stdout, "  Remote: %s (page size %d)\n", s.Remote.BaseURL, s.Remote.PageSize)
	} else {
		fmt.Fprintln(a.stdout, "  Remote: not configured")
	}
	driver := s.Store.Driver
	if driver == "" {
		driver = "auto"
	}
	fmt.Fprintf(a.stdout, "  Store: %s (scope %s, locales %v)\n", driver, s.Store.Scope, s.Store.Locales)
	for _, class := range catalog.Classes() {
		if src, ok := s.Exclude[class]; ok {
			fmt.Fprintf(a.stdout, "  Exclude %s: %s\n", class, src)
		}
	}
	if len(s.Values.Passthrough) > 0 {
		fmt.Fprintf(a.stdout, "  Passthrough kinds: %v\n", s.Values.Passthrough)
	}
	fmt.Fprintf(a.stdout, "  State: %s\n", s.StatePath)
}

func newImportCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <class|all>",
		Short: "Synchronize an entity class from the remote catalog",
		Long: fmt.Sprintf(`Synchronize one entity class, or every class in dependency order with "all".

Classes: %v

A filtered pull (products and product models narrowed by the stored rule set)
never deletes local entities. Entities still referenced are kept.

Flags:
  --dry-run   Compute and report the changes, then roll the transaction back

Exit codes:
  0 - Import completed (possibly with warnings)
  1 - Validation errors
  2 - Parse errors
  3 - Runtime errors`, catalog.Classes()),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), a, args[0], dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Roll back instead of committing")
	cmd.Flags().BoolVar(&a.jsonOutput, "json", false, "Print the run summary as JSON")
	return cmd
}

func runImport(parent context.Context, a *app, target string, dryRun bool) error {
	classes, err := importTargets(target)
	if err != nil {
		return exitWith(ExitValidationError, err)
	}

	settings, err := a.loadSettings()
	if err != nil {
		return err
	}
	remoteCfg, err := settings.RemoteConfig()
	if err != nil {
		return exitWith(ExitValidationError, err)
	}
	client, err := remote.New(remoteCfg)
	if err != nil {
		return exitWith(ExitValidationError, err)
	}
	valueRegistry, err := settings.ValueRegistry()
	if err != nil {
		return exitWith(ExitValidationError, err)
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, settings.DatabaseConfig())
	if err != nil {
		return exitWith(ExitRuntimeError, fmt.Errorf("opening local store: %w", err))
	}
	defer st.Close()

	deps := catalogsync.Deps{
		Remote: client,
		Store:  st,
		Compiler: &filter.Compiler{
			Remote:       client,
			StoreLocales: settings.Store.Locales,
			Scope:        settings.Store.Scope,
		},
		Values:  valueRegistry,
		Exclude: settings.Exclude,
	}
	opts := catalogsync.Options{DryRun: dryRun}

	results, runErr := catalogsync.RunAll(ctx, deps, classes, registry.Get, opts)

	states := persistence.NewStateStore(settings.StatePath)
	for _, r := range results {
		if err := states.Record(r); err != nil {
			logger.Warn("failed to record run state", "class", r.Class, "error", err.Error())
		}
	}

	if len(results) == 1 {
		cli.PrintRunResult(a.stdout, results[0], a.outputOptions())
	} else if len(results) > 1 {
		cli.PrintRunResults(a.stdout, results, a.outputOptions())
	}

	if runErr != nil {
		logger.LogError("import failed", logger.ErrorContext{Class: target, Err: runErr})
		if len(results) > 0 {
			// The failed run is already in the summary.
			return exitWith(ExitRuntimeError, nil)
		}
		return exitWith(ExitRuntimeError, runErr)
	}
	return nil
}

// importTargets resolves the import argument: "all" or one class name.
func importTargets(target string) ([]catalog.EntityClass, error) {
	if target == "all" {
		return registry.Classes(), nil
	}
	class, err := catalog.ParseEntityClass(target)
	if err != nil {
		return nil, err
	}
	if _, err := registry.Get(class); err != nil {
		return nil, err
	}
	return []catalog.EntityClass{class}, nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the product filter rule set",
		Long: `The rule set narrows the product and product model pulls. It is stored
in the local store; without one the full catalog is pulled.`,
	}

	set := &cobra.Command{
		Use:   "set <rules-file>",
		Short: "Validate a rule set file and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := config.ParseRuleSetFile(args[0])
			if len(result.ParseErrors) > 0 {
				cli.PrintParseErrors(a.stderr, result.ParseErrors, a.verbose)
				return exitWith(ExitParseError, nil)
			}
			if len(result.ValidationErrors) > 0 {
				cli.PrintValidationErrors(a.stderr, result.ValidationErrors, a.verbose, a.quiet)
				return exitWith(ExitValidationError, nil)
			}
			rs, err := config.ConvertToRuleSet(result.Data)
			if err != nil {
				return exitWith(ExitValidationError, err)
			}
			return withStore(cmd.Context(), a, func(ctx context.Context, st *store.Store) error {
				if err := st.SaveRuleSet(ctx, rs); err != nil {
					return err
				}
				if !a.quiet {
					fmt.Fprintf(a.stdout, "✓ Rule set stored (mode: %s)\n", rs.Mode)
				}
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored rule set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), a, func(ctx context.Context, st *store.Store) error {
				rs, err := st.LoadRuleSet(ctx)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				cli.PrintRuleSet(a.stdout, rs)
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored rule set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), a, func(ctx context.Context, st *store.Store) error {
				if err := st.SaveRuleSet(ctx, nil); err != nil {
					return err
				}
				if !a.quiet {
					fmt.Fprintln(a.stdout, "✓ Rule set removed")
				}
				return nil
			})
		},
	}

	cmd.AddCommand(set, show, clearCmd)
	return cmd
}

// withStore loads the settings, opens the local store and runs fn. Store
// failures exit with ExitRuntimeError.
func withStore(parent context.Context, a *app, fn func(context.Context, *store.Store) error) error {
	settings, err := a.loadSettings()
	if err != nil {
		return err
	}
	ctx := contextOrBackground(parent)
	st, err := store.Open(ctx, settings.DatabaseConfig())
	if err != nil {
		return exitWith(ExitRuntimeError, fmt.Errorf("opening local store: %w", err))
	}
	defer st.Close()

	if err := fn(ctx, st); err != nil {
		return exitWith(ExitRuntimeError, err)
	}
	return nil
}

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last run of every entity class",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			settings, err := a.loadSettings()
			if err != nil {
				return err
			}
			states, err := persistence.NewStateStore(settings.StatePath).List()
			if err != nil {
				return exitWith(ExitRuntimeError, err)
			}
			cli.PrintStatus(a.stdout, states, a.outputOptions())
			return nil
		},
	}
	cmd.Flags().BoolVar(&a.jsonOutput, "json", false, "Print the status as JSON")
	return cmd
}
