// Package reporter renders reconciliation results and run history.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per bill and per unused operation, for spreadsheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/internal/reconciler"

	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeMatchedBills     bool `json:"include_matched_bills"`
	IncludeUnmatchedBills   bool `json:"include_unmatched_bills"`
	IncludeUnusedOperations bool `json:"include_unused_operations"`
	IncludeDiscrepancies    bool `json:"include_discrepancies"`
	IncludeProcessingStats  bool `json:"include_processing_stats"`

	// Console formatting options
	TableMaxWidth int `json:"table_max_width"`
	MaxListItems  int `json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	SortByAmount bool `json:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                  FormatConsole,
		IncludeMatchedBills:     false,
		IncludeUnmatchedBills:   true,
		IncludeUnusedOperations: true,
		IncludeDiscrepancies:    true,
		IncludeProcessingStats:  true,
		TableMaxWidth:           120,
		MaxListItems:            10,
		CSVDelimiter:            ',',
		CSVHeaders:              true,
		SortByAmount:            false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes a report of result to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	summary := result.Summary
	if summary == nil {
		summary = &reconciler.ResultSummary{}
	}

	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	if result.RunID != "" {
		fmt.Fprintf(writer, "Run: %s\n", result.RunID)
	}
	fmt.Fprintf(writer, "Generated: %s\n", result.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", summary.ProcessingDuration)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(summary, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== FINANCIAL SUMMARY ===\n")
	rg.printFinancialSummary(summary, writer)
	fmt.Fprintf(writer, "\n")

	matched, incomplete := splitOutcomes(result.Bills)

	if rg.config.IncludeMatchedBills && len(matched) > 0 {
		fmt.Fprintf(writer, "=== MATCHED BILLS ===\n")
		rg.printOutcomes(matched, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatchedBills && len(incomplete) > 0 {
		fmt.Fprintf(writer, "=== INCOMPLETE BILLS ===\n")
		rg.printOutcomes(incomplete, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnusedOperations && len(result.UnusedOperations) > 0 {
		fmt.Fprintf(writer, "=== UNUSED OPERATIONS ===\n")
		rg.printUnusedOperations(result.UnusedOperations, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDiscrepancies && len(result.Discrepancies) > 0 {
		fmt.Fprintf(writer, "=== DISCREPANCIES ===\n")
		rg.printDiscrepancies(result.Discrepancies, writer)
	}

	if rg.config.IncludeProcessingStats && result.ProcessingStats != nil {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		rg.printProcessingStats(result.ProcessingStats, writer)
	}

	return nil
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

var csvHeaders = []string{
	"Type",
	"ID",
	"Date",
	"Amount",
	"Status",
	"Vendor_Or_Label",
	"Debit_Operation",
	"Debit_Amount",
	"Debit_Distance",
	"Credit_Operation",
	"Credit_Amount",
	"Credit_Distance",
}

func (rg *ReportGenerator) generateCSVReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, outcome := range result.Bills {
		if outcome.Status == reconciler.OutcomeMatched && !rg.config.IncludeMatchedBills {
			continue
		}
		if outcome.Status != reconciler.OutcomeMatched && !rg.config.IncludeUnmatchedBills {
			continue
		}

		bill := outcome.Bill
		record := []string{
			"Bill",
			bill.ID,
			bill.Date.Format("2006-01-02"),
			bill.Amount.StringFixed(2),
			string(outcome.Status),
			bill.Vendor,
			"", "", "",
			"", "", "",
		}
		if outcome.Debit != nil {
			record[6] = outcome.Debit.ID
			record[7] = outcome.Debit.Amount.StringFixed(2)
			record[8] = fmt.Sprintf("%.4f", outcome.DebitDistance)
		}
		if outcome.Credit != nil {
			record[9] = outcome.Credit.ID
			record[10] = outcome.Credit.Amount.StringFixed(2)
			record[11] = fmt.Sprintf("%.4f", outcome.CreditDistance)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write bill record: %w", err)
		}
	}

	if rg.config.IncludeUnusedOperations {
		for _, op := range result.UnusedOperations {
			record := []string{
				"Unused Operation",
				op.ID,
				op.Date.Format("2006-01-02"),
				op.Amount.StringFixed(2),
				"unused",
				op.Label,
				"", "", "",
				"", "", "",
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write unused operation record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(summary *reconciler.ResultSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Bills:\n")
	fmt.Fprintf(writer, "  Total:            %d\n", summary.TotalBills)
	fmt.Fprintf(writer, "  Fully matched:    %d (%.1f%%)\n",
		summary.FullyMatchedBills,
		rg.calculatePercentage(summary.FullyMatchedBills, summary.TotalBills))
	fmt.Fprintf(writer, "  Partially:        %d (%.1f%%)\n",
		summary.PartiallyMatchedBills,
		rg.calculatePercentage(summary.PartiallyMatchedBills, summary.TotalBills))
	fmt.Fprintf(writer, "  Unmatched:        %d (%.1f%%)\n",
		summary.UnmatchedBills,
		rg.calculatePercentage(summary.UnmatchedBills, summary.TotalBills))

	fmt.Fprintf(writer, "\nOperations:\n")
	fmt.Fprintf(writer, "  Total:            %d\n", summary.TotalOperations)
	fmt.Fprintf(writer, "  Debits matched:   %d\n", summary.DebitsMatched)
	fmt.Fprintf(writer, "  Credits matched:  %d\n", summary.CreditsMatched)
	fmt.Fprintf(writer, "  Unused:           %d (%.1f%%)\n",
		summary.UnusedOperations,
		rg.calculatePercentage(summary.UnusedOperations, summary.TotalOperations))

	fmt.Fprintf(writer, "\nCandidates considered: %d, conflicts: %d\n",
		summary.CandidatesConsidered, summary.Conflicts)
}

func (rg *ReportGenerator) printFinancialSummary(summary *reconciler.ResultSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Total Claimed:        %s\n", summary.TotalBillAmount.StringFixed(2))
	fmt.Fprintf(writer, "Total Debit Matched:  %s\n", summary.TotalDebitMatched.StringFixed(2))
	fmt.Fprintf(writer, "Total Credit Matched: %s\n", summary.TotalCreditMatched.StringFixed(2))
	fmt.Fprintf(writer, "Outstanding:          %s\n", summary.OutstandingAmount.StringFixed(2))

	if !summary.TotalBillAmount.IsZero() && !summary.OutstandingAmount.IsZero() {
		pct := summary.OutstandingAmount.Div(summary.TotalBillAmount).Mul(decimal.NewFromInt(100))
		fmt.Fprintf(writer, "Outstanding Share:    %s%%\n", pct.StringFixed(2))
	}
}

func (rg *ReportGenerator) printOutcomes(outcomes []*reconciler.BillOutcome, writer io.Writer) {
	if rg.config.SortByAmount {
		outcomes = append([]*reconciler.BillOutcome(nil), outcomes...)
		sort.SliceStable(outcomes, func(i, j int) bool {
			return outcomes[i].Bill.Amount.GreaterThan(outcomes[j].Bill.Amount)
		})
	}

	fmt.Fprintf(writer, "Total: %d\n\n", len(outcomes))
	for i, outcome := range outcomes {
		bill := outcome.Bill
		line := fmt.Sprintf("  %d. %s  %s  %s  %-11s debit: %s  credit: %s",
			i+1,
			bill.ID,
			bill.Date.Format("2006-01-02"),
			bill.Amount.StringFixed(2),
			outcome.Status,
			operationRef(outcome.Debit),
			operationRef(outcome.Credit))
		if bill.Vendor != "" {
			line += "  (" + bill.Vendor + ")"
		}
		fmt.Fprintln(writer, rg.truncate(line))

		if rg.limitReached(i, len(outcomes), writer) {
			break
		}
	}
}

func (rg *ReportGenerator) printUnusedOperations(operations []*models.Operation, writer io.Writer) {
	if rg.config.SortByAmount {
		operations = append([]*models.Operation(nil), operations...)
		sort.SliceStable(operations, func(i, j int) bool {
			return operations[i].Amount.Abs().GreaterThan(operations[j].Amount.Abs())
		})
	}

	var debits, credits []*models.Operation
	for _, op := range operations {
		if op.IsCredit() {
			credits = append(credits, op)
		} else {
			debits = append(debits, op)
		}
	}

	fmt.Fprintf(writer, "Total Unused Operations: %d\n\n", len(operations))

	if len(debits) > 0 {
		fmt.Fprintf(writer, "Debits (%d):\n", len(debits))
		rg.printOperationList(debits, writer)
		fmt.Fprintf(writer, "\n")
	}

	if len(credits) > 0 {
		fmt.Fprintf(writer, "Credits (%d):\n", len(credits))
		rg.printOperationList(credits, writer)
	}
}

func (rg *ReportGenerator) printOperationList(operations []*models.Operation, writer io.Writer) {
	for i, op := range operations {
		fmt.Fprintln(writer, rg.truncate(fmt.Sprintf("  %d. ID: %s, Amount: %s, Date: %s, Label: %s",
			i+1,
			op.ID,
			op.Amount.StringFixed(2),
			op.Date.Format("2006-01-02"),
			op.Label)))

		if rg.limitReached(i, len(operations), writer) {
			break
		}
	}
}

func (rg *ReportGenerator) printDiscrepancies(discrepancies []*reconciler.Discrepancy, writer io.Writer) {
	fmt.Fprintf(writer, "Total Discrepancies Found: %d\n\n", len(discrepancies))

	severityGroups := make(map[reconciler.Severity][]*reconciler.Discrepancy)
	for _, disc := range discrepancies {
		severityGroups[disc.Severity] = append(severityGroups[disc.Severity], disc)
	}

	severities := []reconciler.Severity{
		reconciler.SeverityCritical,
		reconciler.SeverityHigh,
		reconciler.SeverityMedium,
		reconciler.SeverityLow,
		reconciler.SeverityInfo,
	}

	for _, severity := range severities {
		discs := severityGroups[severity]
		if len(discs) == 0 {
			continue
		}

		fmt.Fprintf(writer, "%s Severity (%d):\n", strings.ToUpper(string(severity)), len(discs))
		for _, disc := range discs {
			fmt.Fprintf(writer, "  - %s: %s", disc.Type, disc.Description)
			if !disc.Amount.IsZero() {
				fmt.Fprintf(writer, " (Amount: %s)", disc.Amount.StringFixed(2))
			}
			fmt.Fprintf(writer, "\n")
		}
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) printProcessingStats(stats *reconciler.ProcessingStats, writer io.Writer) {
	fmt.Fprintf(writer, "Files Processed:      %d\n", stats.FilesProcessed)
	fmt.Fprintf(writer, "Parse Errors:         %d\n", stats.ParseErrors)
	fmt.Fprintf(writer, "Filtered Out:         %d\n", stats.FilteredOut)
	fmt.Fprintf(writer, "Records/Second:       %.2f\n", stats.RecordsPerSecond)
	fmt.Fprintf(writer, "Total Processing:     %v\n", stats.TotalProcessingTime)
	fmt.Fprintf(writer, "Parsing Time:         %v\n", stats.ParsingTime)
	fmt.Fprintf(writer, "Matching Time:        %v\n", stats.MatchingTime)

	if !stats.SkippedRows.Empty() {
		fmt.Fprintf(writer, "Skipped Rows:         %s\n", stats.SkippedRows.Error())
		for _, sample := range stats.SkippedRows.Samples {
			fmt.Fprintln(writer, rg.truncate("  ! "+sample))
		}
	}
}

// limitReached prints the elided count once MaxListItems lines were written
func (rg *ReportGenerator) limitReached(i, total int, writer io.Writer) bool {
	limit := rg.config.MaxListItems
	if limit > 0 && i >= limit-1 && total > limit {
		fmt.Fprintf(writer, "  ... and %d more\n", total-limit)
		return true
	}
	return false
}

func (rg *ReportGenerator) truncate(line string) string {
	if rg.config.TableMaxWidth <= 0 {
		return line
	}
	runes := []rune(line)
	if len(runes) <= rg.config.TableMaxWidth {
		return line
	}
	return string(runes[:rg.config.TableMaxWidth-3]) + "..."
}

func operationRef(op *models.Operation) string {
	if op == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", op.ID, op.Amount.StringFixed(2))
}

// splitOutcomes separates fully matched bills from the rest
func splitOutcomes(outcomes []*reconciler.BillOutcome) (matched, incomplete []*reconciler.BillOutcome) {
	for _, outcome := range outcomes {
		if outcome.Status == reconciler.OutcomeMatched {
			matched = append(matched, outcome)
		} else {
			incomplete = append(incomplete, outcome)
		}
	}
	return matched, incomplete
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.ReconciliationResult) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":       result.RunID,
		"summary":      result.Summary,
		"matches":      result.Matches,
		"processed_at": result.ProcessedAt,
	}

	matched, incomplete := splitOutcomes(result.Bills)
	if rg.config.IncludeMatchedBills && matched != nil {
		output["matched_bills"] = matched
	}

	if rg.config.IncludeUnmatchedBills && incomplete != nil {
		output["incomplete_bills"] = incomplete
	}

	if rg.config.IncludeUnusedOperations && result.UnusedOperations != nil {
		output["unused_operations"] = result.UnusedOperations
	}

	if rg.config.IncludeDiscrepancies && result.Discrepancies != nil {
		output["discrepancies"] = result.Discrepancies
	}

	if rg.config.IncludeProcessingStats && result.ProcessingStats != nil {
		output["processing_stats"] = result.ProcessingStats
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
