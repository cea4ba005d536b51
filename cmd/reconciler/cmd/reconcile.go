package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bill-reconciliation-service/cmd/reconciler/config"
	"bill-reconciliation-service/internal/brands"
	"bill-reconciliation-service/internal/reconciler"
	"bill-reconciliation-service/internal/reporter"
	"bill-reconciliation-service/internal/storage"
	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	billsFile      string
	operationFiles []string
	outputFormat   string
	outputFile     string
	startDate      string
	endDate        string
	brandsFile     string
	showProgress   bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match bills against bank operations",
	Long: `Reconcile decides, for every bill, which bank operation is the original debit
and which, if any, is the later credit that reimbursed it.

This command requires:
- A bills file (JSON array or YAML list)
- One or more bank operation files (CSV, OFX or QFX)

Bills without matchingCriterias get the configured defaults
(defaults.amount_lower_delta, defaults.amount_higher_delta,
defaults.date_lower_delta, defaults.date_upper_delta).

Examples:
  # Basic reconciliation
  reconciler reconcile --bills bills.json --operations account.csv

  # Several exports, restricted to a date range
  reconciler reconcile --bills bills.json --operations jan.csv,feb.ofx \
    --start-date 2018-01-01 --end-date 2018-02-28

  # Wider reimbursement window, vendor must agree with the label
  reconciler reconcile --bills bills.json --operations account.csv \
    --date-upper-delta 45 --require-vendor --brands brands.yaml

  # JSON report saved to a file, run kept in the history database
  reconciler reconcile --bills bills.json --operations account.csv \
    --output-format json --output-file report.json --db history.db

  # With progress indicators
  reconciler reconcile --bills bills.json --operations account.csv --progress`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringVarP(&billsFile, "bills", "b", "", "path to the bills file, JSON or YAML (required)")
	reconcileCmd.Flags().StringSliceVar(&operationFiles, "operations", []string{}, "comma-separated paths to bank operation files, CSV or OFX (required)")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	// Date filtering flags
	reconcileCmd.Flags().StringVar(&startDate, "start-date", "", "filter start date (YYYY-MM-DD)")
	reconcileCmd.Flags().StringVar(&endDate, "end-date", "", "filter end date (YYYY-MM-DD)")

	// Matching configuration flags
	reconcileCmd.Flags().String("preset", "default", "matching preset: default, strict, relaxed")
	reconcileCmd.Flags().Int("date-lower-delta", 0, "days a debit may precede the bill date when the bill sets none (default from preset)")
	reconcileCmd.Flags().Int("date-upper-delta", 0, "days an operation may follow the bill date when the bill sets none (default from preset)")
	reconcileCmd.Flags().Bool("require-vendor", false, "reject operations whose label does not agree with the bill vendor")
	reconcileCmd.Flags().StringVar(&brandsFile, "brands", "", "YAML brand dictionary replacing the built-in one")
	reconcileCmd.Flags().Int("parallelism", 0, "goroutines generating match candidates (default from preset)")
	reconcileCmd.Flags().String("timezone", "", "date comparison mode: ignore, utc, local, business")

	// Input flags
	reconcileCmd.Flags().String("format", "auto", "CSV layout: auto, standard, european, split")

	// UI flags
	reconcileCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")

	// Mark required flags
	reconcileCmd.MarkFlagRequired("bills")
	reconcileCmd.MarkFlagRequired("operations")

	// Bind flags to viper
	viper.BindPFlag("bills", reconcileCmd.Flags().Lookup("bills"))
	viper.BindPFlag("operations", reconcileCmd.Flags().Lookup("operations"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("start-date", reconcileCmd.Flags().Lookup("start-date"))
	viper.BindPFlag("end-date", reconcileCmd.Flags().Lookup("end-date"))
	viper.BindPFlag("preset", reconcileCmd.Flags().Lookup("preset"))
	viper.BindPFlag("date-lower-delta", reconcileCmd.Flags().Lookup("date-lower-delta"))
	viper.BindPFlag("date-upper-delta", reconcileCmd.Flags().Lookup("date-upper-delta"))
	viper.BindPFlag("require-vendor", reconcileCmd.Flags().Lookup("require-vendor"))
	viper.BindPFlag("brands", reconcileCmd.Flags().Lookup("brands"))
	viper.BindPFlag("parallelism", reconcileCmd.Flags().Lookup("parallelism"))
	viper.BindPFlag("timezone", reconcileCmd.Flags().Lookup("timezone"))
	viper.BindPFlag("format", reconcileCmd.Flags().Lookup("format"))
	viper.BindPFlag("progress", reconcileCmd.Flags().Lookup("progress"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	billsFile = viper.GetString("bills")
	operationFiles = viper.GetStringSlice("operations")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	startDate = viper.GetString("start-date")
	endDate = viper.GetString("end-date")
	brandsFile = viper.GetString("brands")
	showProgress = viper.GetBool("progress")

	// Validate required flags
	if billsFile == "" {
		return fmt.Errorf("bills is required")
	}
	if len(operationFiles) == 0 {
		return fmt.Errorf("at least one operations file is required")
	}

	var problems []error

	// Validate file existence
	if err := validateFileExists(billsFile, "bills file"); err != nil {
		problems = append(problems, err)
	}
	for i, path := range operationFiles {
		if err := validateFileExists(path, fmt.Sprintf("operations file %d", i+1)); err != nil {
			problems = append(problems, err)
		}
	}
	if brandsFile != "" {
		if err := validateFileExists(brandsFile, "brands file"); err != nil {
			problems = append(problems, err)
		}
	}

	// Validate output format
	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[outputFormat] {
		problems = append(problems, fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat))
	}

	// Validate dates
	start, startErr := parseDateFlag(startDate)
	if startErr != nil {
		problems = append(problems, fmt.Errorf("invalid start date format. Use YYYY-MM-DD: %w", startErr))
	}
	end, endErr := parseDateFlag(endDate)
	if endErr != nil {
		problems = append(problems, fmt.Errorf("invalid end date format. Use YYYY-MM-DD: %w", endErr))
	}
	if start != nil && end != nil && start.After(*end) {
		problems = append(problems, fmt.Errorf("start date cannot be after end date"))
	}

	// Validate deltas
	for _, key := range []string{"date-lower-delta", "date-upper-delta"} {
		if viper.IsSet(key) && viper.GetInt(key) < 0 {
			problems = append(problems, fmt.Errorf("%s cannot be negative", key))
		}
	}
	if viper.GetInt("parallelism") < 0 {
		problems = append(problems, fmt.Errorf("parallelism cannot be negative"))
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				problems = append(problems, fmt.Errorf("output directory does not exist: %s", dir))
			}
		}
	}

	if len(problems) > 0 {
		return errors.New(errors.CategoryConfiguration, errors.CodeInvalidConfig, FormatValidationErrors(problems)).
			WithSuggestion("Use 'reconciler reconcile --help' to see all available options")
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

// parseDateFlag returns nil for an empty flag
func parseDateFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// matchingOptionsFromFlags collects the engine overrides; unset deltas keep the preset
func matchingOptionsFromFlags() config.MatchingOptions {
	opts := config.MatchingOptions{
		Preset:        viper.GetString("preset"),
		RequireVendor: viper.GetBool("require-vendor"),
		Parallelism:   viper.GetInt("parallelism"),
		Timezone:      viper.GetString("timezone"),
	}
	if viper.IsSet("date-lower-delta") {
		days := viper.GetInt("date-lower-delta")
		opts.DateLowerDelta = &days
	}
	if viper.IsSet("date-upper-delta") {
		days := viper.GetInt("date-upper-delta")
		opts.DateUpperDelta = &days
	}
	return opts
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	log := logger.GetGlobalLogger().WithComponent("cli")

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting reconciliation...\n")
		fmt.Fprintf(os.Stderr, "Bills file: %s\n", billsFile)
		fmt.Fprintf(os.Stderr, "Operation files: %s\n", strings.Join(operationFiles, ", "))
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(os.Stderr, "Output file: %s\n", outputFile)
		}
	}

	// Create configurations
	matchingConfig, err := config.CreateMatchingConfig(matchingOptionsFromFlags())
	if err != nil {
		return err
	}

	criterias, err := config.CreateDefaultCriterias(viper.GetViper())
	if err != nil {
		return err
	}

	format, err := config.CreateOperationFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	reconcilerConfig := config.CreateReconcilerConfig(showProgress, criterias, format)

	service, err := reconciler.NewReconciliationService(matchingConfig, reconcilerConfig)
	if err != nil {
		return err
	}

	if brandsFile != "" {
		dictionary, err := brands.Load(brandsFile)
		if err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryConfiguration, errors.CodeInvalidConfig,
				fmt.Sprintf("failed to load brands from %s", brandsFile))
		}
		log.WithField("brands", dictionary.Len()).Debug("Loaded brand dictionary")
		service.WithBrands(dictionary)
	}

	if dbPath := viper.GetString("db"); dbPath != "" {
		store, err := storage.NewStorage(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		service.WithRepository(store)
	}

	if showProgress {
		bar := newStageProgressBar(os.Stderr)
		service.WithProgress(func(stage reconciler.Stage, completed, total int) {
			bar.Describe(string(stage))
			if err := bar.Set(completed); err != nil {
				log.WithError(err).Warn("Failed to update progress bar")
			}
		})
	}

	start, _ := parseDateFlag(startDate)
	end, _ := parseDateFlag(endDate)

	request := &reconciler.ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: operationFiles,
		StartDate:      start,
		EndDate:        end,
	}

	result, err := service.ProcessReconciliation(ctx, request)
	if err != nil {
		return err
	}

	// Generate report
	reportConfig := config.CreateReportConfig(outputFormat)
	reportGenerator, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat, err)
	}

	// Determine output destination
	var output io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, outputFile, err)
		}
		defer file.Close()
		output = file
	}

	if err := reportGenerator.GenerateReport(result, output); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "generate report", err)
	}

	// Show completion message
	if viper.GetBool("verbose") {
		summary := result.Summary
		fmt.Fprintf(os.Stderr, "\nReconciliation completed successfully.\n")
		if result.RunID != "" {
			fmt.Fprintf(os.Stderr, "Run ID: %s\n", result.RunID)
		}
		fmt.Fprintf(os.Stderr, "Processed %d bills and %d operations.\n",
			summary.TotalBills, summary.TotalOperations)
		fmt.Fprintf(os.Stderr, "Matched %d debits and %d credits, %d bills unmatched, %d operations unused.\n",
			summary.DebitsMatched, summary.CreditsMatched, summary.UnmatchedBills, summary.UnusedOperations)
		if len(result.Discrepancies) > 0 {
			fmt.Fprintf(os.Stderr, "Detected %d discrepancies.\n", len(result.Discrepancies))
		}
		fmt.Fprintf(os.Stderr, "Processing time: %v\n", summary.ProcessingDuration)
	}

	return nil
}

// newStageProgressBar counts completed reconciliation stages
func newStageProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(len(reconciler.Stages),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription("reconciling"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}
