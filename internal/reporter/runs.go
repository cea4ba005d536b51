package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"bill-reconciliation-service/internal/storage"
)

// RunReporter renders the stored run history
type RunReporter struct {
	format OutputFormat
}

// NewRunReporter creates a run reporter. CSV is not supported for history.
func NewRunReporter(format OutputFormat) (*RunReporter, error) {
	if format != FormatConsole && format != FormatJSON {
		return nil, fmt.Errorf("unsupported run history format: %s", format)
	}
	return &RunReporter{format: format}, nil
}

// WriteRuns lists runs one per line
func (rr *RunReporter) WriteRuns(runs []*storage.Run, writer io.Writer) error {
	if rr.format == FormatJSON {
		if runs == nil {
			runs = []*storage.Run{}
		}
		return writeJSON(runs, writer)
	}

	if len(runs) == 0 {
		_, err := fmt.Fprintln(writer, "No reconciliation runs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tBILLS\tDEBITS\tCREDITS\tUNMATCHED\tUNUSED OPS")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			run.TotalBills,
			run.DebitsMatched,
			run.CreditsMatched,
			run.UnmatchedBills,
			run.UnusedOperations)
	}
	return tw.Flush()
}

// WriteRun shows one run with its per-bill matches
func (rr *RunReporter) WriteRun(run *storage.Run, writer io.Writer) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if rr.format == FormatJSON {
		return writeJSON(run, writer)
	}

	fmt.Fprintf(writer, "Run:         %s\n", run.ID)
	fmt.Fprintf(writer, "Started:     %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(writer, "Duration:    %v\n", run.Duration())
	if run.BillsSource != "" {
		fmt.Fprintf(writer, "Bills:       %s\n", run.BillsSource)
	}
	for _, source := range run.OperationSources {
		fmt.Fprintf(writer, "Operations:  %s\n", source)
	}
	fmt.Fprintf(writer, "Matched:     %d debits (%s), %d credits (%s)\n",
		run.DebitsMatched, run.TotalDebit.StringFixed(2),
		run.CreditsMatched, run.TotalCredit.StringFixed(2))
	fmt.Fprintf(writer, "Unmatched:   %d bills, %d unused operations\n\n", run.UnmatchedBills, run.UnusedOperations)

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BILL\tDEBIT\tCREDIT")
	for _, m := range run.Matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.BillID, orDash(m.DebitOperationID), orDash(m.CreditOperationID))
	}
	return tw.Flush()
}

func writeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
