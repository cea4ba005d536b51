package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err for the operator and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	// Handle ReconcilerError with detailed information
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}

	return h.handleGenericError(err)
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	// Show underlying error in verbose mode
	if h.verbose {
		if err.Cause != nil {
			fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
		}
		h.suggestRecoveryActions(err.Category)
	}

	return err.GetExitCode()
}

// handleGenericError handles non-ReconcilerError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)

	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more details\n")
	}

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure you have proper permissions to access the file`

	case errors.CategoryParse:
		return `Parse error help:
• Bills must be a JSON array or a YAML list of objects
• Operation CSV files need id, date, label and amount columns (or use --format)
• OFX and QFX files must contain a bank or credit card statement
• Use 'reconciler reconcile --help' for examples of correct file formats`

	case errors.CategoryValidation:
		return `Validation error help:
• Every bill needs an _id, an amount and a date
• Bill and operation IDs must be unique
• Check that dates use YYYY-MM-DD or DD/MM/YYYY`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Bills without matchingCriterias need defaults.* to be enabled
• Use 'reconciler reconcile --help' to see all available options`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Check data quality in your input files
• Try widening the windows (--date-lower-delta, --date-upper-delta, --preset relaxed)
• Verify that the operations cover the bill dates`

	case errors.CategoryStorage:
		return `Storage error help:
• Check that the --db path is writable
• Make sure no other process holds the database
• List recorded runs with 'reconciler runs list'`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler reconcile --help' for command-specific help`
	}
}

// suggestRecoveryActions suggests actions the user can take to recover from errors
func (h *CLIErrorHandler) suggestRecoveryActions(category errors.ErrorCategory) {
	fmt.Fprintf(h.out, "\nRecovery suggestions:\n")

	switch category {
	case errors.CategoryFile:
		fmt.Fprintf(h.out, "• Verify file paths and permissions\n")
		fmt.Fprintf(h.out, "• Check available disk space\n")

	case errors.CategoryParse:
		fmt.Fprintf(h.out, "• Fix or remove the rows named above\n")
		fmt.Fprintf(h.out, "• Save files in UTF-8 or Windows-1252 encoding\n")

	case errors.CategoryValidation:
		fmt.Fprintf(h.out, "• Correct the invalid data values\n")
		fmt.Fprintf(h.out, "• Remove duplicated IDs\n")

	case errors.CategoryConfiguration:
		fmt.Fprintf(h.out, "• Review command-line arguments\n")
		fmt.Fprintf(h.out, "• Try with default settings first\n")

	case errors.CategoryStorage:
		fmt.Fprintf(h.out, "• Point --db at a fresh file to start a new history\n")
	}

	fmt.Fprintf(h.out, "• Check the documentation for examples and troubleshooting\n")
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if err == syscall.ENOSPC {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}

// FormatValidationErrors formats validation errors in a user-friendly way
func FormatValidationErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}

	if len(errs) == 1 {
		return fmt.Sprintf("Validation error: %v", errs[0])
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Found %d validation errors:", len(errs)))

	for i, err := range errs {
		lines = append(lines, fmt.Sprintf("  %d. %v", i+1, err))
		// Limit the number of errors shown
		if i >= 9 && len(errs) > 10 {
			lines = append(lines, fmt.Sprintf("  ... and %d more errors", len(errs)-10))
			break
		}
	}

	return strings.Join(lines, "\n")
}
