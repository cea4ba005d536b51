package cmd

import (
	"fmt"

	"bill-reconciliation-service/internal/reporter"
	"bill-reconciliation-service/internal/storage"
	"bill-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	runsFormat string
	runsLimit  int
	runsOffset int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the reconciliation run history",
	Long: `Runs reads the history kept by 'reconciler reconcile --db'.

Examples:
  reconciler runs list --db history.db
  reconciler runs show 0b6f4c1e-... --db history.db --output-format json
  reconciler runs delete 0b6f4c1e-... --db history.db`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunStore(cmd, func(store storage.Repository, rr *reporter.RunReporter) error {
			runs, err := store.ListRuns(commandContext(cmd), storage.RunFilters{Limit: runsLimit, Offset: runsOffset})
			if err != nil {
				return err
			}
			return rr.WriteRuns(runs, cmd.OutOrStdout())
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show one run with its per-bill matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunStore(cmd, func(store storage.Repository, rr *reporter.RunReporter) error {
			run, err := store.GetRun(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return rr.WriteRun(run, cmd.OutOrStdout())
		})
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete RUN_ID",
	Short: "Delete one run and its matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunStore(cmd, func(store storage.Repository, _ *reporter.RunReporter) error {
			if err := store.DeleteRun(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)

	runsCmd.PersistentFlags().StringVarP(&runsFormat, "output-format", "f", "console", "output format: console, json")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	runsListCmd.Flags().IntVar(&runsOffset, "offset", 0, "number of runs to skip")
}

// withRunStore opens the history database named by --db for the duration of fn
func withRunStore(cmd *cobra.Command, fn func(storage.Repository, *reporter.RunReporter) error) error {
	dbPath := viper.GetString("db")
	if dbPath == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "db", "", nil).
			WithSuggestion("Pass the history database with --db or RECONCILER_DB")
	}

	rr, err := reporter.NewRunReporter(reporter.OutputFormat(runsFormat))
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", runsFormat, err)
	}

	store, err := storage.NewStorage(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store, rr)
}
