package config

import (
	"fmt"
	"strings"

	"bill-reconciliation-service/internal/matcher"
	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/internal/parsers"
	"bill-reconciliation-service/internal/reconciler"
	"bill-reconciliation-service/internal/reporter"
	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Configuration keys for the criterias given to bills without their own
const (
	KeyDefaultsDisabled          = "defaults.disabled"
	KeyDefaultsAmountLowerDelta  = "defaults.amount_lower_delta"
	KeyDefaultsAmountHigherDelta = "defaults.amount_higher_delta"
	KeyDefaultsDateLowerDelta    = "defaults.date_lower_delta"
	KeyDefaultsDateUpperDelta    = "defaults.date_upper_delta"
)

// MatchingOptions are the CLI overrides applied on top of a preset.
// Nil deltas keep the preset value.
type MatchingOptions struct {
	Preset         string
	DateLowerDelta *int
	DateUpperDelta *int
	RequireVendor  bool
	Parallelism    int
	Timezone       string
}

// MatchingPreset returns a fresh engine configuration by preset name
func MatchingPreset(name string) (*matcher.MatchingConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return matcher.DefaultMatchingConfig(), nil
	case "strict":
		return matcher.StrictMatchingConfig(), nil
	case "relaxed":
		return matcher.RelaxedMatchingConfig(), nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "preset", name, nil).
			WithSuggestion("Use one of: default, strict, relaxed")
	}
}

// CreateMatchingConfig creates a matching configuration from a preset and the CLI overrides
func CreateMatchingConfig(opts MatchingOptions) (*matcher.MatchingConfig, error) {
	config, err := MatchingPreset(opts.Preset)
	if err != nil {
		return nil, err
	}

	if opts.DateLowerDelta != nil {
		config.DateLowerDeltaDays = *opts.DateLowerDelta
	}
	if opts.DateUpperDelta != nil {
		config.DateUpperDeltaDays = *opts.DateUpperDelta
	}
	if opts.RequireVendor {
		config.RequireVendorMatch = true
	}
	if opts.Parallelism > 0 {
		config.Parallelism = opts.Parallelism
	}
	if opts.Timezone != "" {
		mode, err := matcher.ParseTimezoneMode(opts.Timezone)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "timezone", opts.Timezone, err)
		}
		config.TimezoneHandling = mode
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", opts.Preset, err)
	}

	return config, nil
}

// CreateDefaultCriterias reads the criterias applied to bills loaded without
// matchingCriterias. It returns nil when defaults are disabled, in which case
// such bills are rejected.
func CreateDefaultCriterias(v *viper.Viper) (*models.MatchingCriterias, error) {
	if v.GetBool(KeyDefaultsDisabled) {
		return nil, nil
	}

	criterias := &models.MatchingCriterias{}

	var err error
	if criterias.AmountLowerDelta, err = readDecimal(v, KeyDefaultsAmountLowerDelta); err != nil {
		return nil, err
	}
	if criterias.AmountHigherDelta, err = readDecimal(v, KeyDefaultsAmountHigherDelta); err != nil {
		return nil, err
	}

	if v.IsSet(KeyDefaultsDateLowerDelta) {
		days := v.GetInt(KeyDefaultsDateLowerDelta)
		criterias.DateLowerDelta = &days
	}
	if v.IsSet(KeyDefaultsDateUpperDelta) {
		days := v.GetInt(KeyDefaultsDateUpperDelta)
		criterias.DateUpperDelta = &days
	}

	if err := criterias.Validate(); err != nil {
		return nil, err
	}

	return criterias, nil
}

func readDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return decimal.Zero, nil
	}
	amount, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return decimal.Zero, errors.ConfigurationError(errors.CodeInvalidConfig, key, raw, err)
	}
	return amount, nil
}

// CreateOperationFormat resolves a named bank export layout. "auto" and the
// empty string leave detection to the parser.
func CreateOperationFormat(name string) (*parsers.OperationFormat, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "auto") {
		return nil, nil
	}

	format := parsers.GetOperationFormat(name)
	if format == nil {
		var names []string
		for _, f := range parsers.ListOperationFormats() {
			names = append(names, f.Name)
		}
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "format", name, nil).
			WithSuggestion(fmt.Sprintf("Use auto or one of: %s", strings.Join(names, ", ")))
	}

	return format, nil
}

// CreateReconcilerConfig creates a reconciler configuration
func CreateReconcilerConfig(showProgress bool, criterias *models.MatchingCriterias, format *parsers.OperationFormat) *reconciler.Config {
	config := reconciler.DefaultConfig()

	config.DefaultCriterias = criterias
	config.OperationFormat = format
	config.ProgressReporting = showProgress
	config.IncludeStatistics = true
	config.DetailedBreakdown = true

	return config
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()

	switch format {
	case "console":
		config.Format = reporter.FormatConsole
		config.IncludeUnmatchedBills = true
		config.IncludeUnusedOperations = true
		config.IncludeDiscrepancies = true
		config.IncludeProcessingStats = true
	case "json":
		config.Format = reporter.FormatJSON
		config.IncludeMatchedBills = true
		config.IncludeUnmatchedBills = true
		config.IncludeUnusedOperations = true
		config.IncludeDiscrepancies = true
		config.IncludeProcessingStats = true
	case "csv":
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		config.IncludeMatchedBills = true
		config.IncludeUnmatchedBills = true
		config.IncludeUnusedOperations = true
		config.IncludeDiscrepancies = false // CSV is for bill data
		config.IncludeProcessingStats = false
	}

	return config
}

// CreateLoggerConfig builds the logger configuration from the log.* keys.
// Verbose forces the debug level.
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	config := logger.DefaultConfig()
	if v.GetBool("verbose") {
		config = logger.DebugConfig()
	}

	if level := v.GetString("log.level"); level != "" {
		config.Level = logger.Level(strings.ToLower(level))
	}
	if format := v.GetString("log.format"); format != "" {
		config.Format = logger.Format(strings.ToLower(format))
	}
	if file := v.GetString("log.file"); file != "" {
		config.Output = logger.FileOutput
		config.File = file
	}
	if v.GetBool("verbose") {
		config.Level = logger.DebugLevel
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", string(config.Level), err)
	}

	return config, nil
}
