package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bill-reconciliation-service/internal/matcher"
	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/internal/storage"
	"bill-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBills = `[
  {"_id": "bill1", "amount": 30, "date": "2017-12-13", "vendor": "Ameli",
   "matchingCriterias": {"amountLowerDelta": 2}},
  {"_id": "bill2", "amount": 50, "date": "2017-12-20"}
]`

const testOperations = `id,date,label,amount
op1,2017-12-13,PRLV CPAM PHARMACIE,-32.00
op2,2017-12-20,VIR CPAM REMBOURSEMENT,30.00
op3,2017-12-21,CB DOCTEUR,-50.00
op4,2018-03-01,CB OTHER,-99.00
`

func createTestDataFiles(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()

	billsFile := filepath.Join(dir, "bills.json")
	require.NoError(t, os.WriteFile(billsFile, []byte(testBills), 0o644))

	opsFile := filepath.Join(dir, "operations.csv")
	require.NoError(t, os.WriteFile(opsFile, []byte(testOperations), 0o644))

	return billsFile, []string{opsFile}
}

func newTestService(t *testing.T, config *Config) *ReconciliationService {
	t.Helper()
	service, err := NewReconciliationService(matcher.DefaultMatchingConfig(), config)
	require.NoError(t, err)
	return service
}

func TestReconciliationService_BasicReconciliation(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)
	service := newTestService(t, nil)

	result, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: opsFiles,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, models.BillMatch{DebitOperation: "op1", CreditOperation: "op2"}, result.Matches["bill1"])
	assert.Equal(t, models.BillMatch{DebitOperation: "op3"}, result.Matches["bill2"])

	s := result.Summary
	assert.Equal(t, 2, s.TotalBills)
	assert.Equal(t, 1, s.FullyMatchedBills)
	assert.Equal(t, 1, s.PartiallyMatchedBills)
	assert.Equal(t, 0, s.UnmatchedBills)
	assert.Equal(t, 4, s.TotalOperations)
	assert.Equal(t, 2, s.DebitsMatched)
	assert.Equal(t, 1, s.CreditsMatched)
	assert.Equal(t, 1, s.UnusedOperations)
	assert.True(t, s.TotalBillAmount.Equal(decimal.NewFromInt(80)))
	assert.True(t, s.OutstandingAmount.Equal(decimal.NewFromInt(50)))
	assert.True(t, s.TotalDebitMatched.Equal(decimal.NewFromInt(82)))
	assert.True(t, s.TotalCreditMatched.Equal(decimal.NewFromInt(30)))

	require.Len(t, result.Bills, 2)
	assert.Equal(t, OutcomeMatched, result.Bills[0].Status)
	assert.Equal(t, OutcomeDebitOnly, result.Bills[1].Status)
	assert.Equal(t, "op1", result.Bills[0].Debit.ID)

	require.Len(t, result.UnusedOperations, 1)
	assert.Equal(t, "op4", result.UnusedOperations[0].ID)

	require.NotNil(t, result.ProcessingStats)
	assert.Equal(t, 2, result.ProcessingStats.FilesProcessed)
	assert.Equal(t, 0, result.ProcessingStats.ParseErrors)
	assert.Nil(t, result.ProcessingStats.SkippedRows)
}

func TestReconciliationService_SummarizesSkippedRows(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)
	broken := filepath.Join(t.TempDir(), "broken.csv")
	require.NoError(t, os.WriteFile(broken, []byte("id,date,label,amount\n"+
		"op9,2017-12-14,CB PHARMACIE,-10.00\n"+
		"op10,yesterday,CB PHARMACIE,-10.00\n"+
		"op11,2017-12-15,CB PHARMACIE,ten\n"), 0o644))

	service := newTestService(t, nil)
	result, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: append(opsFiles, broken),
	})
	require.NoError(t, err)

	stats := result.ProcessingStats
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.ParseErrors)
	require.NotNil(t, stats.SkippedRows)
	assert.Equal(t, 2, stats.SkippedRows.Total)
	assert.Equal(t, 2, stats.SkippedRows.ByCode[errors.CodeInvalidData])
	require.Len(t, stats.SkippedRows.Samples, 2)
	assert.Contains(t, stats.SkippedRows.Samples[0], broken)
	assert.Contains(t, stats.SkippedRows.Samples[0], "line 3")
}

func TestReconciliationService_Discrepancies(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)
	service := newTestService(t, nil)

	result, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: opsFiles,
	})
	require.NoError(t, err)

	byType := make(map[DiscrepancyType][]*Discrepancy)
	for _, d := range result.Discrepancies {
		byType[d.Type] = append(byType[d.Type], d)
	}

	require.Len(t, byType[DiscrepancyAmountDifference], 1)
	amountDiff := byType[DiscrepancyAmountDifference][0]
	assert.Equal(t, "bill1", amountDiff.BillID)
	assert.Equal(t, "op1", amountDiff.OperationID)
	assert.True(t, amountDiff.Amount.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, SeverityMedium, amountDiff.Severity)

	require.Len(t, byType[DiscrepancyMissingCredit], 1)
	assert.Equal(t, "bill2", byType[DiscrepancyMissingCredit][0].BillID)
	assert.Equal(t, SeverityInfo, byType[DiscrepancyMissingCredit][0].Severity)

	assert.Empty(t, byType[DiscrepancyMissingDebit])
	assert.Empty(t, byType[DiscrepancyVendorMismatch])
	assert.Empty(t, byType[DiscrepancyDuplicateOperation])

	assert.Equal(t, SeverityMedium, result.Discrepancies[0].Severity)
	assert.Equal(t, SeverityInfo, result.Discrepancies[len(result.Discrepancies)-1].Severity)
}

func TestReconciliationService_ProgressStages(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)

	var stages []Stage
	service := newTestService(t, nil).WithProgress(func(stage Stage, completed, total int) {
		assert.Equal(t, len(Stages), total)
		assert.Equal(t, len(stages)+1, completed)
		stages = append(stages, stage)
	})

	_, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: opsFiles,
	})
	require.NoError(t, err)
	assert.Equal(t, Stages, stages)
}

func TestReconciliationService_PersistsRun(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)

	store, err := storage.NewStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	config := DefaultConfig()
	config.ProgressReporting = true
	service := newTestService(t, config).WithRepository(store)

	result, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: opsFiles,
	})
	require.NoError(t, err)

	run, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, billsFile, run.BillsSource)
	assert.Equal(t, opsFiles, run.OperationSources)
	assert.Equal(t, 2, run.DebitsMatched)
	assert.Contains(t, run.ConfigJSON, `"date_lower_delta_days":15`)

	require.Len(t, run.Matches, 2)
	assert.Equal(t, "bill1", run.Matches[0].BillID)
	assert.Equal(t, "op1", run.Matches[0].DebitOperationID)
	assert.Equal(t, "op2", run.Matches[0].CreditOperationID)
	assert.Equal(t, "op3", run.Matches[1].DebitOperationID)
	assert.Empty(t, run.Matches[1].CreditOperationID)
}

func TestReconciliationService_DateRangeFiltering(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)
	service := newTestService(t, nil)

	end := time.Date(2017, 12, 31, 0, 0, 0, 0, time.UTC)
	start := time.Date(2017, 12, 1, 0, 0, 0, 0, time.UTC)
	result, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: opsFiles,
		StartDate:      &start,
		EndDate:        &end,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Summary.TotalOperations)
	assert.Equal(t, 0, result.Summary.UnusedOperations)
	assert.Equal(t, 1, result.ProcessingStats.FilteredOut)
	require.NotNil(t, result.Summary.DateRange)
	assert.True(t, result.Summary.DateRange.End.Equal(end))
}

func TestReconciliationService_PersistsDistancesWithoutBreakdown(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)

	store, err := storage.NewStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	config := DefaultConfig()
	config.DetailedBreakdown = false
	service := newTestService(t, config).WithRepository(store)

	result, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: opsFiles,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Bills)

	run, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, run.Matches, 2)
	assert.Greater(t, run.Matches[0].DebitDistance, 0.0)
	assert.Greater(t, run.Matches[0].CreditDistance, 0.0)
	assert.Greater(t, run.Matches[1].DebitDistance, 0.0)
	assert.Zero(t, run.Matches[1].CreditDistance)
}

func TestApplyDateRangeFiltering_WholeDays(t *testing.T) {
	start := time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2019, 7, 31, 0, 0, 0, 0, time.UTC)
	request := &ReconciliationRequest{StartDate: &start, EndDate: &end}

	bills := []*models.Bill{
		models.NewBill("kept", decimal.NewFromInt(10), time.Date(2019, 7, 31, 18, 0, 0, 0, time.UTC), "", nil),
		models.NewBill("late", decimal.NewFromInt(10), time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC), "", nil),
	}
	ops := []*models.Operation{
		models.NewOperation("first", time.Date(2019, 7, 1, 9, 0, 0, 0, time.UTC), "", decimal.NewFromInt(-10)),
		models.NewOperation("last", time.Date(2019, 7, 31, 12, 0, 0, 0, time.UTC), "", decimal.NewFromInt(-10)),
		models.NewOperation("early", time.Date(2019, 6, 30, 23, 59, 0, 0, time.UTC), "", decimal.NewFromInt(-10)),
	}

	keptBills, keptOps := applyDateRangeFiltering(bills, ops, request)
	require.Len(t, keptBills, 1)
	assert.Equal(t, "kept", keptBills[0].ID)
	require.Len(t, keptOps, 2)
	assert.Equal(t, "first", keptOps[0].ID)
	assert.Equal(t, "last", keptOps[1].ID)
}

func TestReconciliationService_MissingCriteriasWithoutDefaults(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)

	config := DefaultConfig()
	config.DefaultCriterias = nil
	service := newTestService(t, config)

	_, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: opsFiles,
	})
	require.Error(t, err)

	re, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryConfiguration, re.Category)
	assert.Equal(t, errors.CodeMissingConfig, re.Code)
}

func TestReconciliationService_InputErrors(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)
	service := newTestService(t, nil)
	ctx := context.Background()

	start := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)

	tests := []struct {
		name     string
		request  *ReconciliationRequest
		category errors.ErrorCategory
	}{
		{"nil request", nil, errors.CategoryValidation},
		{"no bills file", &ReconciliationRequest{OperationFiles: opsFiles}, errors.CategoryValidation},
		{"no operation files", &ReconciliationRequest{BillsFile: billsFile}, errors.CategoryValidation},
		{"inverted range", &ReconciliationRequest{BillsFile: billsFile, OperationFiles: opsFiles, StartDate: &start, EndDate: &end}, errors.CategoryValidation},
		{"missing bills", &ReconciliationRequest{BillsFile: billsFile + ".missing", OperationFiles: opsFiles}, errors.CategoryFile},
		{"missing operations", &ReconciliationRequest{BillsFile: billsFile, OperationFiles: []string{opsFiles[0] + ".missing"}}, errors.CategoryFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ProcessReconciliation(ctx, tt.request)
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestReconciliationService_DuplicateOperationIDsAcrossFiles(t *testing.T) {
	billsFile, opsFiles := createTestDataFiles(t)
	service := newTestService(t, nil)

	_, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
		BillsFile:      billsFile,
		OperationFiles: []string{opsFiles[0], opsFiles[0]},
	})
	require.Error(t, err)
	re, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeDuplicateID, re.Code)
}

func TestReconciliationService_ReconcileData(t *testing.T) {
	date := time.Date(2017, 12, 13, 0, 0, 0, 0, time.UTC)
	bills := []*models.Bill{
		models.NewBill("b1", decimal.NewFromInt(10), date, "", &models.MatchingCriterias{}),
	}
	operations := []*models.Operation{
		models.NewOperation("o1", date, "CB", decimal.NewFromInt(-10)),
		models.NewOperation("o2", date.AddDate(0, 0, 3), "VIR", decimal.NewFromInt(10)),
	}

	service := newTestService(t, nil)
	result, err := service.ReconcileData(context.Background(), bills, operations)
	require.NoError(t, err)
	assert.Equal(t, models.BillMatch{DebitOperation: "o1", CreditOperation: "o2"}, result.Matches["b1"])
	assert.InDelta(t, 0.0, result.Bills[0].DebitDistance, 1e-9)
	assert.Greater(t, result.Bills[0].CreditDistance, 0.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = service.ReconcileData(ctx, bills, operations)
	assert.True(t, errors.HasCategory(err, errors.CategoryReconciliation))
}

func TestFindDuplicateOperations(t *testing.T) {
	date := time.Date(2017, 12, 13, 0, 0, 0, 0, time.UTC)
	operations := []*models.Operation{
		models.NewOperation("o1", date, "CB  Pharmacie", decimal.NewFromInt(-10)),
		models.NewOperation("o2", date, "cb pharmacie", decimal.NewFromInt(-10)),
		models.NewOperation("o3", date, "cb pharmacie", decimal.NewFromInt(-11)),
	}

	discrepancies := findDuplicateOperations(operations)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, "o2", discrepancies[0].OperationID)
	assert.Equal(t, SeverityHigh, discrepancies[0].Severity)
}

func TestDetermineSeverity(t *testing.T) {
	tests := []struct {
		diff, reference string
		want            Severity
	}{
		{"0.10", "100", SeverityLow},
		{"1", "100", SeverityMedium},
		{"10", "100", SeverityHigh},
		{"1", "0", SeverityHigh},
	}

	for _, tt := range tests {
		got := determineSeverity(decimal.RequireFromString(tt.diff), decimal.RequireFromString(tt.reference))
		assert.Equal(t, tt.want, got, "%s of %s", tt.diff, tt.reference)
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	config := DefaultConfig()
	config.MaxConcurrentFiles = 0
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.DefaultCriterias = &models.MatchingCriterias{AmountLowerDelta: decimal.NewFromInt(-1)}
	assert.Error(t, config.Validate())

	_, err := NewReconciliationService(matcher.DefaultMatchingConfig(), config)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))

	badMatching := matcher.DefaultMatchingConfig()
	badMatching.Weights.AmountWeight = 5
	_, err = NewReconciliationService(badMatching, nil)
	assert.Error(t, err)
}

func TestReconciliationService_UpdateConfiguration(t *testing.T) {
	service := newTestService(t, nil)

	assert.Error(t, service.UpdateConfiguration(nil))

	config := DefaultConfig()
	config.DetailedBreakdown = false
	require.NoError(t, service.UpdateConfiguration(config))
	assert.False(t, service.GetConfiguration().DetailedBreakdown)
}
