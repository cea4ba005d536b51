package matcher

import (
	"fmt"
	"testing"
	"time"

	"bill-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestOperations() []*models.Operation {
	return []*models.Operation{
		newOp("op1", -30, 0, "CB PHARMACIE"),
		newOp("op2", -30.00, 2, "CB MEDECIN"),
		newOp("op3", 25, 5, "VIR CPAM"),
		newOp("op4", -12.5, 0, "CB BOULANGERIE"),
		newOp("op5", 0, 1, "FRAIS"),
		newOp("op6", 100, 10, "SALAIRE"),
	}
}

func opIDs(ops []*models.Operation) []string {
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.ID)
	}
	return ids
}

func TestNewOperationIndex(t *testing.T) {
	index := NewOperationIndex(createTestOperations(), nil)

	stats := index.GetIndexStats()
	assert.Equal(t, 6, stats.TotalOperations)
	assert.Equal(t, 3, stats.Debits)
	assert.Equal(t, 2, stats.Credits)
	assert.Equal(t, 5, stats.UniqueAmounts)
	assert.Equal(t, 5, stats.UniqueDates)

	for i := 1; i < len(index.AmountRangeIndex); i++ {
		assert.True(t, index.AmountRangeIndex[i-1].Amount.LessThan(index.AmountRangeIndex[i].Amount))
	}
}

func TestOperationIndex_GetByAmountRange(t *testing.T) {
	index := NewOperationIndex(createTestOperations(), nil)

	tests := []struct {
		name     string
		min, max float64
		expected []string
	}{
		{"debit bucket", -32, -28, []string{"op1", "op2"}},
		{"inclusive bounds", -30, -12.5, []string{"op1", "op2", "op4"}},
		{"zero only", 0, 0, []string{"op5"}},
		{"credits", 1, 1000, []string{"op3", "op6"}},
		{"empty", 200, 300, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := index.GetByAmountRange(decimal.NewFromFloat(tt.min), decimal.NewFromFloat(tt.max))
			assert.ElementsMatch(t, tt.expected, opIDs(got))
		})
	}
}

func TestOperationIndex_GetByDateRange(t *testing.T) {
	index := NewOperationIndex(createTestOperations(), nil)

	got := index.GetByDateRange(onDay(0), onDay(2))
	assert.ElementsMatch(t, []string{"op1", "op4", "op5", "op2"}, opIDs(got))

	assert.Empty(t, index.GetByDateRange(onDay(20), onDay(30)))
}

func TestOperationIndex_GetCandidates(t *testing.T) {
	config := DefaultMatchingConfig()
	index := NewOperationIndex(createTestOperations(), config)
	evaluator := NewEvaluator(config, nil)

	bill := newBill("b1", 30, 0, criterias(5, 0))
	assert.ElementsMatch(t, []string{"op1", "op2"}, opIDs(index.GetCandidates(bill, models.RoleDebit, evaluator)))
	assert.ElementsMatch(t, []string{"op3"}, opIDs(index.GetCandidates(bill, models.RoleCredit, evaluator)))

	narrow := newBill("b2", 30, 0, withDates(criterias(0, 0), 0, 1))
	assert.ElementsMatch(t, []string{"op1"}, opIDs(index.GetCandidates(narrow, models.RoleDebit, evaluator)))
}

func TestOperationIndex_GetCandidatesUsesDateLookupForLargeBuckets(t *testing.T) {
	var ops []*models.Operation
	for i := 0; i < 100; i++ {
		ops = append(ops, newOp(fmt.Sprintf("op%03d", i), -30, i*3, ""))
	}
	config := DefaultMatchingConfig()
	index := NewOperationIndex(ops, config)

	bill := newBill("b1", 30, 150, withDates(criterias(0, 0), 3, 3))
	got := index.GetCandidates(bill, models.RoleDebit, NewEvaluator(config, nil))
	require.Len(t, got, 3)
	assert.ElementsMatch(t, []string{"op049", "op050", "op051"}, opIDs(got))
}

func TestOperationIndex_GetByDateRangeWideWindow(t *testing.T) {
	index := NewOperationIndex(createTestOperations(), nil)

	got := index.GetByDateRange(onDay(-2_000_000_000), onDay(2_000_000_000))
	assert.Len(t, got, 6)
	assert.Equal(t, []string{"op1", "op4", "op5", "op2", "op3", "op6"}, opIDs(got))
}

func TestReconcile_HugeDateWindowLargeBucket(t *testing.T) {
	var ops []*models.Operation
	for i := 0; i < 40; i++ {
		ops = append(ops, newOp(fmt.Sprintf("op%02d", i), -30, 0, ""))
	}
	bills := []*models.Bill{newBill("b1", 30, 0, withDates(criterias(0, 0), 0, 2_000_000_000))}

	start := time.Now()
	result, err := Reconcile(bills, ops)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, models.MatchResult{"b1": {DebitOperation: "op00"}}, result)
	assert.Less(t, elapsed, 2*time.Second)
}

func BenchmarkOperationIndex_GetCandidates(b *testing.B) {
	bills, ops := randomDataset(7, 2000)
	config := DefaultMatchingConfig()
	index := NewOperationIndex(ops, config)
	evaluator := NewEvaluator(config, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		index.GetCandidates(bills[i%len(bills)], models.RoleDebit, evaluator)
	}
}
