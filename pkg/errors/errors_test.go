package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "parse error",
			category:   CategoryParse,
			code:       CodeInvalidFormat,
			message:    "invalid format",
			expectCode: 3,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeMissingConfig,
			message:    "missing matching criterias",
			expectCode: 4,
		},
		{
			name:       "storage error",
			category:   CategoryStorage,
			code:       CodeQueryFailed,
			message:    "query failed",
			cause:      errors.New("no such table"),
			expectCode: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.message, err.Error())
			assert.Equal(t, tt.expectCode, err.GetExitCode())
			assert.NotEmpty(t, err.StackTrace)
			if tt.cause != nil {
				assert.Same(t, tt.cause, err.Unwrap())
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CategoryFile, CodeFileNotFound, "nothing"))
	assert.Nil(t, WrapIfNeeded(nil, CategoryFile, CodeFileNotFound, "nothing"))
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryFile, CodeFileNotFound, "test error").
		WithContext("file", "/path/to/file").
		WithContext("line", 42).
		WithSuggestion("check file path")

	assert.Equal(t, "/path/to/file", err.Context["file"])
	assert.Equal(t, 42, err.Context["line"])
	assert.Equal(t, "test error (suggestion: check file path)", err.Error())
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("FileError", func(t *testing.T) {
		cause := errors.New("permission denied")
		err := FileError(CodeFilePermission, "/test/bills.json", cause)

		assert.Equal(t, CategoryFile, err.Category)
		assert.Equal(t, "/test/bills.json", err.Context["file_path"])
		assert.NotEmpty(t, err.Suggestion)
		assert.Same(t, cause, err.Cause)
	})

	t.Run("ParseError", func(t *testing.T) {
		err := ParseError(CodeInvalidFormat, "operations.csv", 10, "amount", "12.3.4", nil)

		assert.Equal(t, CategoryParse, err.Category)
		assert.Equal(t, "operations.csv", err.Context["file"])
		assert.Equal(t, 10, err.Context["line"])
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError(CodeDuplicateID, "bill.id", "b1", nil)

		assert.Equal(t, CategoryValidation, err.Category)
		assert.Equal(t, "bill.id", err.Context["field"])
		assert.Contains(t, err.Error(), "duplicate identifier")
	})

	t.Run("ConfigurationError", func(t *testing.T) {
		err := ConfigurationError(CodeInvalidConfig, "matchingCriterias.amountLowerDelta", "-1", nil)

		assert.Equal(t, CategoryConfiguration, err.Category)
		assert.Equal(t, 4, err.GetExitCode())
	})

	t.Run("StorageError", func(t *testing.T) {
		err := StorageError(CodeRecordNotFound, "get_run", nil)

		assert.Equal(t, CategoryStorage, err.Category)
		assert.Equal(t, "get_run", err.Context["operation"])
	})
}

func TestAsReconcilerErrorThroughWrapping(t *testing.T) {
	base := ConfigurationError(CodeMissingConfig, "matchingCriterias", nil, nil)
	wrapped := fmt.Errorf("reconcile: %w", base)

	re, ok := AsReconcilerError(wrapped)
	require.True(t, ok)
	assert.Same(t, base, re)
	assert.True(t, HasCategory(wrapped, CategoryConfiguration))
	assert.False(t, HasCategory(wrapped, CategoryValidation))
	assert.Equal(t, "reconcile: "+base.Error(), wrapped.Error())
}

func TestErrorSummary(t *testing.T) {
	summary := NewErrorSummary()
	summary.Add(ParseError(CodeInvalidData, "ops.csv", 4, "date", "x", nil))
	summary.Add(ParseError(CodeInvalidData, "ops.csv", 7, "amount", "abc", nil))
	summary.Add(ParseError(CodeMissingColumn, "ops.csv", 1, "label", "", nil))
	summary.Add(nil)

	assert.False(t, summary.Empty())
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.ByCode[CodeInvalidData])
	assert.Equal(t, "3 errors (invalid_data: 2, missing_column: 1)", summary.Error())
	require.Len(t, summary.Samples, 3)
	assert.Equal(t, "invalid data in file ops.csv at line 4, column 'date': 'x'", summary.Samples[0])
}

func TestErrorSummarySampleLimit(t *testing.T) {
	summary := NewErrorSummary()
	for i := 0; i < 25; i++ {
		summary.Add(New(CategoryParse, CodeInvalidData, fmt.Sprintf("row %d", i)))
	}

	assert.Equal(t, 25, summary.Total)
	assert.Len(t, summary.Samples, maxSummarySamples)
	assert.Equal(t, "row 0", summary.Samples[0])
}

func TestEmptyErrorSummary(t *testing.T) {
	var missing *ErrorSummary
	assert.True(t, missing.Empty())
	assert.True(t, NewErrorSummary().Empty())
	assert.Equal(t, "no errors", NewErrorSummary().Error())
}
