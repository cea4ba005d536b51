package config

import (
	"testing"

	"bill-reconciliation-service/internal/matcher"
	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/internal/parsers"
	"bill-reconciliation-service/internal/reporter"
	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestMatchingPreset(t *testing.T) {
	tests := []struct {
		name      string
		preset    string
		wantLower int
		wantUpper int
		wantErr   bool
	}{
		{"empty is default", "", 15, 29, false},
		{"default", "default", 15, 29, false},
		{"strict", "Strict", 3, 15, false},
		{"relaxed", "relaxed", 30, 60, false},
		{"unknown", "loose", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := MatchingPreset(tt.preset)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLower, config.DateLowerDeltaDays)
			assert.Equal(t, tt.wantUpper, config.DateUpperDeltaDays)
		})
	}
}

func TestMatchingPresetReturnsFreshCopy(t *testing.T) {
	first, err := MatchingPreset("default")
	require.NoError(t, err)
	first.DateUpperDeltaDays = 99

	second, err := MatchingPreset("default")
	require.NoError(t, err)
	assert.Equal(t, 29, second.DateUpperDeltaDays)
}

func TestCreateMatchingConfig(t *testing.T) {
	config, err := CreateMatchingConfig(MatchingOptions{
		DateLowerDelta: intPtr(0),
		DateUpperDelta: intPtr(40),
		RequireVendor:  true,
		Parallelism:    4,
		Timezone:       "utc",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, config.DateLowerDeltaDays)
	assert.Equal(t, 40, config.DateUpperDeltaDays)
	assert.True(t, config.RequireVendorMatch)
	assert.Equal(t, 4, config.Parallelism)
	assert.Equal(t, matcher.TimezoneUTC, config.TimezoneHandling)
}

func TestCreateMatchingConfigKeepsPresetValues(t *testing.T) {
	config, err := CreateMatchingConfig(MatchingOptions{Preset: "strict"})
	require.NoError(t, err)

	assert.Equal(t, 3, config.DateLowerDeltaDays)
	assert.Equal(t, 15, config.DateUpperDeltaDays)
	assert.True(t, config.RequireVendorMatch)
	assert.Equal(t, 1, config.Parallelism)
}

func TestCreateMatchingConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		opts MatchingOptions
	}{
		{"negative lower delta", MatchingOptions{DateLowerDelta: intPtr(-1)}},
		{"negative upper delta", MatchingOptions{DateUpperDelta: intPtr(-5)}},
		{"unknown timezone mode", MatchingOptions{Timezone: "mars"}},
		{"unknown preset", MatchingOptions{Preset: "fuzzy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateMatchingConfig(tt.opts)
			require.Error(t, err)

			re, ok := errors.AsReconcilerError(err)
			require.True(t, ok)
			assert.Equal(t, errors.CategoryConfiguration, re.Category)
			assert.Equal(t, 4, re.GetExitCode())
		})
	}
}

func TestCreateDefaultCriterias(t *testing.T) {
	t.Run("zero defaults", func(t *testing.T) {
		criterias, err := CreateDefaultCriterias(viper.New())
		require.NoError(t, err)
		require.NotNil(t, criterias)

		assert.True(t, criterias.AmountLowerDelta.IsZero())
		assert.True(t, criterias.AmountHigherDelta.IsZero())
		assert.Nil(t, criterias.DateLowerDelta)
		assert.Nil(t, criterias.DateUpperDelta)
	})

	t.Run("configured defaults", func(t *testing.T) {
		v := viper.New()
		v.Set(KeyDefaultsAmountLowerDelta, "2")
		v.Set(KeyDefaultsAmountHigherDelta, "0.5")
		v.Set(KeyDefaultsDateLowerDelta, 3)
		v.Set(KeyDefaultsDateUpperDelta, 45)

		criterias, err := CreateDefaultCriterias(v)
		require.NoError(t, err)

		assert.True(t, criterias.AmountLowerDelta.Equal(decimal.NewFromInt(2)))
		assert.True(t, criterias.AmountHigherDelta.Equal(decimal.RequireFromString("0.5")))
		require.NotNil(t, criterias.DateLowerDelta)
		assert.Equal(t, 3, *criterias.DateLowerDelta)
		require.NotNil(t, criterias.DateUpperDelta)
		assert.Equal(t, 45, *criterias.DateUpperDelta)
	})

	t.Run("disabled", func(t *testing.T) {
		v := viper.New()
		v.Set(KeyDefaultsDisabled, true)
		v.Set(KeyDefaultsAmountLowerDelta, "2")

		criterias, err := CreateDefaultCriterias(v)
		require.NoError(t, err)
		assert.Nil(t, criterias)
	})

	t.Run("negative delta", func(t *testing.T) {
		v := viper.New()
		v.Set(KeyDefaultsAmountHigherDelta, "-1")

		_, err := CreateDefaultCriterias(v)
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))
	})

	t.Run("not a number", func(t *testing.T) {
		v := viper.New()
		v.Set(KeyDefaultsAmountLowerDelta, "two")

		_, err := CreateDefaultCriterias(v)
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))
	})
}

func TestCreateOperationFormat(t *testing.T) {
	for _, name := range []string{"", "auto", "AUTO"} {
		format, err := CreateOperationFormat(name)
		require.NoError(t, err)
		assert.Nil(t, format, "format %q should leave detection to the parser", name)
	}

	format, err := CreateOperationFormat("european")
	require.NoError(t, err)
	assert.Same(t, parsers.EuropeanFormat, format)

	_, err = CreateOperationFormat("mt940")
	require.Error(t, err)
	re, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Contains(t, re.Suggestion, "standard")
}

func TestCreateReconcilerConfig(t *testing.T) {
	criterias := &models.MatchingCriterias{AmountLowerDelta: decimal.NewFromInt(1)}
	config := CreateReconcilerConfig(true, criterias, parsers.SplitFormat)

	assert.True(t, config.ProgressReporting)
	assert.True(t, config.IncludeStatistics)
	assert.True(t, config.DetailedBreakdown)
	assert.Same(t, criterias, config.DefaultCriterias)
	assert.Same(t, parsers.SplitFormat, config.OperationFormat)
	assert.NoError(t, config.Validate())

	config = CreateReconcilerConfig(false, nil, nil)
	assert.False(t, config.ProgressReporting)
	assert.Nil(t, config.DefaultCriterias)
	assert.NoError(t, config.Validate())
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format         string
		expectedFormat reporter.OutputFormat
		matched        bool
		discrepancies  bool
	}{
		{"console", reporter.FormatConsole, false, true},
		{"json", reporter.FormatJSON, true, true},
		{"csv", reporter.FormatCSV, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config := CreateReportConfig(tt.format)

			assert.Equal(t, tt.expectedFormat, config.Format)
			assert.Equal(t, tt.matched, config.IncludeMatchedBills)
			assert.Equal(t, tt.discrepancies, config.IncludeDiscrepancies)
			assert.True(t, config.IncludeUnmatchedBills)
			assert.NoError(t, config.Validate())
		})
	}
}

func TestCreateLoggerConfig(t *testing.T) {
	config, err := CreateLoggerConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, logger.WarnLevel, config.Level)
	assert.Equal(t, logger.StderrOutput, config.Output)

	v := viper.New()
	v.Set("log.level", "INFO")
	v.Set("log.format", "json")
	v.Set("log.file", "/tmp/reconciler.log")
	config, err = CreateLoggerConfig(v)
	require.NoError(t, err)
	assert.Equal(t, logger.InfoLevel, config.Level)
	assert.Equal(t, logger.JSONFormat, config.Format)
	assert.Equal(t, logger.FileOutput, config.Output)

	v.Set("verbose", true)
	config, err = CreateLoggerConfig(v)
	require.NoError(t, err)
	assert.Equal(t, logger.DebugLevel, config.Level)
	assert.True(t, config.CallerInfo)
	assert.Equal(t, logger.JSONFormat, config.Format)

	v = viper.New()
	v.Set("log.level", "trace")
	_, err = CreateLoggerConfig(v)
	assert.Error(t, err)
}
