package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"bill-reconciliation-service/internal/matcher"
	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/internal/parsers"
	"bill-reconciliation-service/internal/storage"
	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/iter"
)

// dateShiftThresholdDays is how far from its reference date a matched
// operation may be booked before it is reported
const dateShiftThresholdDays = 7

var (
	onePercent = decimal.NewFromFloat(0.01)
	tenPercent = decimal.NewFromFloat(0.10)
)

func (rs *ReconciliationService) loadBills(request *ReconciliationRequest) ([]*models.Bill, error) {
	bills, err := rs.billParser.ParseFile(request.BillsFile)
	if err != nil {
		return nil, err
	}
	return bills, nil
}

type fileResult struct {
	operations []*models.Operation
	stats      *parsers.ParseStats
	err        error
}

// loadOperations parses the operation files concurrently and concatenates
// them in request order
func (rs *ReconciliationService) loadOperations(ctx context.Context, request *ReconciliationRequest) ([]*models.Operation, *parsers.ParseStats, error) {
	var tracker *logger.ProgressTracker
	if rs.config.ProgressReporting {
		tracker = logger.NewProgressTracker(logger.ProgressConfig{
			Operation: "load_operations",
			Total:     int64(len(request.OperationFiles)),
			Logger:    rs.logger,
		})
	}

	mapper := iter.Mapper[string, fileResult]{MaxGoroutines: rs.config.MaxConcurrentFiles}
	results := mapper.Map(request.OperationFiles, func(path *string) fileResult {
		ops, stats, err := parsers.ParseOperationFiles(ctx, []string{*path}, rs.config.OperationFormat)
		if tracker != nil {
			tracker.Increment()
		}
		return fileResult{operations: ops, stats: stats, err: err}
	})
	if tracker != nil {
		tracker.Complete()
	}

	total := parsers.NewParseStats(strings.Join(request.OperationFiles, ","))
	var operations []*models.Operation
	for i, res := range results {
		total.Merge(res.stats)
		if res.err != nil {
			return nil, total, res.err
		}
		if res.stats != nil && res.stats.HasErrors() {
			skipped := res.stats.ErrorSummary()
			rs.logger.WithFields(logger.Fields{
				"file":    request.OperationFiles[i],
				"skipped": skipped.Error(),
				"samples": skipped.Samples,
			}).Warn("Skipped malformed operation rows")
		}
		operations = append(operations, res.operations...)
	}

	return operations, total, nil
}

// applyDateRangeFiltering keeps the bills and operations dated within the request range
func applyDateRangeFiltering(bills []*models.Bill, operations []*models.Operation, request *ReconciliationRequest) ([]*models.Bill, []*models.Operation) {
	if request.StartDate == nil && request.EndDate == nil {
		return bills, operations
	}

	filteredBills := make([]*models.Bill, 0, len(bills))
	for _, bill := range bills {
		if isWithinDateRange(bill.Date, request.StartDate, request.EndDate) {
			filteredBills = append(filteredBills, bill)
		}
	}

	filteredOps := make([]*models.Operation, 0, len(operations))
	for _, op := range operations {
		if isWithinDateRange(op.Date, request.StartDate, request.EndDate) {
			filteredOps = append(filteredOps, op)
		}
	}

	return filteredBills, filteredOps
}

// isWithinDateRange compares calendar days, so an end date keeps every
// operation booked during that day
func isWithinDateRange(date time.Time, startDate, endDate *time.Time) bool {
	day := models.NormalizeDay(date)
	if startDate != nil && day.Before(models.NormalizeDay(*startDate)) {
		return false
	}
	if endDate != nil && day.After(models.NormalizeDay(*endDate)) {
		return false
	}
	return true
}

// reconcile runs the engine and builds the service level result
func (rs *ReconciliationService) reconcile(ctx context.Context, bills []*models.Bill, operations []*models.Operation, startTime time.Time) (*ReconciliationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.ReconciliationError(errors.CodeProcessingError, "reconcile", err)
	}

	matchingStart := time.Now()
	engineResult, err := rs.matchingEngine.Reconcile(bills, operations)
	if err != nil {
		return nil, err
	}
	matchingTime := time.Since(matchingStart)
	rs.reportProgress(StageMatching)

	result := &ReconciliationResult{
		RunID:            uuid.New().String(),
		Matches:          engineResult.Matches,
		UnmatchedBills:   engineResult.UnmatchedBills,
		UnusedOperations: engineResult.UnusedOperations,
		Committed:        engineResult.Committed,
		ProcessedAt:      startTime,
	}

	outcomes := buildOutcomes(bills, operations, engineResult)
	result.Discrepancies = rs.analyzeDiscrepancies(outcomes, operations)
	result.Summary = buildSummary(outcomes, engineResult.Summary)
	if rs.config.DetailedBreakdown {
		result.Bills = outcomes
	}
	rs.reportProgress(StageAnalysis)

	result.Summary.ProcessingDuration = time.Since(startTime)
	if rs.config.IncludeStatistics {
		stats := &ProcessingStats{
			MatchingTime:        matchingTime,
			TotalProcessingTime: result.Summary.ProcessingDuration,
		}
		if seconds := stats.TotalProcessingTime.Seconds(); seconds > 0 {
			stats.RecordsPerSecond = float64(len(bills)+len(operations)) / seconds
		}
		result.ProcessingStats = stats
	}

	return result, nil
}

// buildOutcomes pairs every bill with its committed operations, in input order
func buildOutcomes(bills []*models.Bill, operations []*models.Operation, engineResult *matcher.ReconciliationResult) []*BillOutcome {
	opsByID := make(map[string]*models.Operation, len(operations))
	for _, op := range operations {
		opsByID[op.ID] = op
	}

	type slot struct {
		billID string
		role   models.Role
	}
	distances := make(map[slot]float64, len(engineResult.Committed))
	for _, c := range engineResult.Committed {
		distances[slot{c.BillID, c.Role}] = c.Distance
	}

	outcomes := make([]*BillOutcome, 0, len(bills))
	for _, bill := range bills {
		match := engineResult.Matches[bill.ID]
		outcome := &BillOutcome{
			Bill:           bill,
			Debit:          opsByID[match.DebitOperation],
			Credit:         opsByID[match.CreditOperation],
			DebitDistance:  distances[slot{bill.ID, models.RoleDebit}],
			CreditDistance: distances[slot{bill.ID, models.RoleCredit}],
		}

		switch {
		case outcome.Debit != nil && outcome.Credit != nil:
			outcome.Status = OutcomeMatched
		case outcome.Debit != nil:
			outcome.Status = OutcomeDebitOnly
		case outcome.Credit != nil:
			outcome.Status = OutcomeCreditOnly
		default:
			outcome.Status = OutcomeUnmatched
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func buildSummary(outcomes []*BillOutcome, engineSummary matcher.ReconciliationSummary) *ResultSummary {
	summary := &ResultSummary{
		TotalBills:           engineSummary.TotalBills,
		FullyMatchedBills:    engineSummary.FullyMatchedBills,
		UnmatchedBills:       engineSummary.UnmatchedBills,
		TotalOperations:      engineSummary.TotalOperations,
		DebitsMatched:        engineSummary.DebitsMatched,
		CreditsMatched:       engineSummary.CreditsMatched,
		UnusedOperations:     engineSummary.UnusedOperations,
		CandidatesConsidered: engineSummary.CandidatesConsidered,
		Conflicts:            engineSummary.Conflicts,
		TotalBillAmount:      decimal.Zero,
		TotalDebitMatched:    engineSummary.TotalDebitMatched,
		TotalCreditMatched:   engineSummary.TotalCreditMatched,
		OutstandingAmount:    decimal.Zero,
	}

	for _, outcome := range outcomes {
		summary.TotalBillAmount = summary.TotalBillAmount.Add(outcome.Bill.Amount)
		if outcome.Credit == nil {
			summary.OutstandingAmount = summary.OutstandingAmount.Add(outcome.Bill.Amount)
		}
		if outcome.Status == OutcomeDebitOnly || outcome.Status == OutcomeCreditOnly {
			summary.PartiallyMatchedBills++
		}
	}

	return summary
}

// analyzeDiscrepancies flags matches that are accepted but imperfect, bills
// missing a role and operations that look duplicated
func (rs *ReconciliationService) analyzeDiscrepancies(outcomes []*BillOutcome, operations []*models.Operation) []*Discrepancy {
	evaluator := rs.matchingEngine.Evaluator()
	config := rs.matchingEngine.GetConfiguration()

	var discrepancies []*Discrepancy
	for _, outcome := range outcomes {
		bill := outcome.Bill

		for _, role := range models.Roles {
			op := outcome.Debit
			if role == models.RoleCredit {
				op = outcome.Credit
			}

			if op == nil {
				discrepancies = append(discrepancies, missingRole(bill, role))
				continue
			}

			expected := bill.ExpectedAmount(role)
			if diff := op.Amount.Sub(expected).Abs(); !diff.IsZero() {
				discrepancies = append(discrepancies, &Discrepancy{
					Type:        DiscrepancyAmountDifference,
					BillID:      bill.ID,
					OperationID: op.ID,
					Description: fmt.Sprintf("%s %s is %s, expected %s",
						role, op.ID, op.Amount.StringFixed(2), expected.StringFixed(2)),
					Amount:   diff,
					Severity: determineSeverity(diff, bill.ReferenceAmount(role)),
				})
			}

			days := config.DaysBetween(bill.ReferenceDate(role), op.Date)
			if days < 0 {
				days = -days
			}
			if days > dateShiftThresholdDays {
				discrepancies = append(discrepancies, &Discrepancy{
					Type:        DiscrepancyDateShift,
					BillID:      bill.ID,
					OperationID: op.ID,
					Description: fmt.Sprintf("%s %s booked %d days from %s",
						role, op.ID, days, bill.ReferenceDate(role).Format("2006-01-02")),
					Severity: SeverityLow,
				})
			}

			if bill.Vendor != "" && !evaluator.LabelAgrees(bill, op) {
				discrepancies = append(discrepancies, &Discrepancy{
					Type:        DiscrepancyVendorMismatch,
					BillID:      bill.ID,
					OperationID: op.ID,
					Description: fmt.Sprintf("label %q does not mention vendor %q", op.Label, bill.Vendor),
					Severity:    SeverityMedium,
				})
			}
		}
	}

	discrepancies = append(discrepancies, findDuplicateOperations(operations)...)
	sortDiscrepancies(discrepancies)
	return discrepancies
}

func missingRole(bill *models.Bill, role models.Role) *Discrepancy {
	if role == models.RoleDebit {
		return &Discrepancy{
			Type:        DiscrepancyMissingDebit,
			BillID:      bill.ID,
			Description: fmt.Sprintf("no payment found for bill %s", bill.ID),
			Amount:      bill.ReferenceAmount(role),
			Severity:    SeverityMedium,
		}
	}
	// reimbursements may simply not have arrived yet
	return &Discrepancy{
		Type:        DiscrepancyMissingCredit,
		BillID:      bill.ID,
		Description: fmt.Sprintf("no reimbursement found for bill %s", bill.ID),
		Amount:      bill.Amount,
		Severity:    SeverityInfo,
	}
}

// findDuplicateOperations reports operations sharing day, amount and label
// with an earlier one
func findDuplicateOperations(operations []*models.Operation) []*Discrepancy {
	var discrepancies []*Discrepancy
	seen := make(map[string]*models.Operation)

	for _, op := range operations {
		key := fmt.Sprintf("%s_%s_%s",
			op.Amount.String(),
			op.Date.Format("2006-01-02"),
			strings.ToLower(strings.Join(strings.Fields(op.Label), " ")))

		if existing, exists := seen[key]; exists {
			discrepancies = append(discrepancies, &Discrepancy{
				Type:        DiscrepancyDuplicateOperation,
				OperationID: op.ID,
				Description: fmt.Sprintf("Duplicate operation detected: %s and %s", existing.ID, op.ID),
				Amount:      op.Amount.Abs(),
				Severity:    SeverityHigh,
			})
		} else {
			seen[key] = op
		}
	}

	return discrepancies
}

// determineSeverity grades an amount gap relative to the reference amount
func determineSeverity(diff, reference decimal.Decimal) Severity {
	if reference.IsZero() {
		return SeverityHigh
	}
	ratio := diff.Div(reference.Abs())
	switch {
	case ratio.GreaterThanOrEqual(tenPercent):
		return SeverityHigh
	case ratio.GreaterThanOrEqual(onePercent):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// persist saves the run when a repository is configured
func (rs *ReconciliationService) persist(ctx context.Context, result *ReconciliationResult, request *ReconciliationRequest) error {
	if rs.repository == nil {
		return nil
	}

	run, err := rs.buildRun(result, request)
	if err != nil {
		return err
	}
	return logger.TimedOperation("save_run", rs.logger.WithField("run_id", run.ID), func() error {
		return rs.repository.SaveRun(ctx, run)
	})
}

func (rs *ReconciliationService) buildRun(result *ReconciliationResult, request *ReconciliationRequest) (*storage.Run, error) {
	configJSON, err := json.Marshal(rs.matchingEngine.GetConfiguration())
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "encode_config", err)
	}

	run := &storage.Run{
		ID:               result.RunID,
		StartedAt:        result.ProcessedAt,
		CompletedAt:      result.ProcessedAt.Add(result.Summary.ProcessingDuration),
		TotalBills:       result.Summary.TotalBills,
		TotalOperations:  result.Summary.TotalOperations,
		DebitsMatched:    result.Summary.DebitsMatched,
		CreditsMatched:   result.Summary.CreditsMatched,
		UnmatchedBills:   result.Summary.UnmatchedBills,
		UnusedOperations: result.Summary.UnusedOperations,
		Conflicts:        result.Summary.Conflicts,
		TotalDebit:       result.Summary.TotalDebitMatched,
		TotalCredit:      result.Summary.TotalCreditMatched,
		ConfigJSON:       string(configJSON),
	}
	if request != nil {
		run.BillsSource = request.BillsFile
		run.OperationSources = request.OperationFiles
	}

	records := make(map[string]*storage.BillMatchRecord, len(result.Matches))
	for _, billID := range result.Matches.BillIDs() {
		match := result.Matches[billID]
		record := &storage.BillMatchRecord{
			RunID:             run.ID,
			BillID:            billID,
			DebitOperationID:  match.DebitOperation,
			CreditOperationID: match.CreditOperation,
		}
		records[billID] = record
		run.Matches = append(run.Matches, record)
	}

	for _, c := range result.Committed {
		record, ok := records[c.BillID]
		if !ok {
			continue
		}
		if c.Role == models.RoleDebit {
			record.DebitDistance = c.Distance
		} else {
			record.CreditDistance = c.Distance
		}
	}

	return run, nil
}

func (rs *ReconciliationService) reportProgress(stage Stage) {
	if rs.progress == nil {
		return
	}
	for i, s := range Stages {
		if s == stage {
			rs.progress(stage, i+1, len(Stages))
			return
		}
	}
}

// sortDiscrepancies orders discrepancies by severity, then bill and operation
func sortDiscrepancies(discrepancies []*Discrepancy) {
	rank := map[Severity]int{
		SeverityCritical: 0,
		SeverityHigh:     1,
		SeverityMedium:   2,
		SeverityLow:      3,
		SeverityInfo:     4,
	}
	sort.SliceStable(discrepancies, func(i, j int) bool {
		a, b := discrepancies[i], discrepancies[j]
		if rank[a.Severity] != rank[b.Severity] {
			return rank[a.Severity] < rank[b.Severity]
		}
		if a.BillID != b.BillID {
			return a.BillID < b.BillID
		}
		return a.OperationID < b.OperationID
	})
}
