package matcher

import (
	"testing"
	"time"

	"bill-reconciliation-service/internal/brands"
	"bill-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEvaluator_AmountRange(t *testing.T) {
	e := NewEvaluator(DefaultMatchingConfig(), nil)
	bill := newBill("b1", 30, 0, criterias(2, 1))

	min, max := e.AmountRange(bill, models.RoleDebit)
	assert.True(t, min.Equal(decimal.NewFromInt(-32)), "debit min %s", min)
	assert.True(t, max.Equal(decimal.NewFromInt(-29)), "debit max %s", max)

	min, max = e.AmountRange(bill, models.RoleCredit)
	assert.True(t, min.Equal(decimal.NewFromInt(28)), "credit min %s", min)
	assert.True(t, max.Equal(decimal.NewFromInt(31)), "credit max %s", max)
}

func TestEvaluator_Matches(t *testing.T) {
	e := NewEvaluator(DefaultMatchingConfig(), nil)
	bill := newBill("b1", 30, 0, criterias(2, 1))

	tests := []struct {
		name string
		op   *models.Operation
		role models.Role
		want bool
	}{
		{"exact debit", newOp("o", -30, 0, ""), models.RoleDebit, true},
		{"debit at lower boundary", newOp("o", -32, 0, ""), models.RoleDebit, true},
		{"debit past lower boundary", newOp("o", -32.01, 0, ""), models.RoleDebit, false},
		{"debit at higher boundary", newOp("o", -29, 0, ""), models.RoleDebit, true},
		{"debit past higher boundary", newOp("o", -28.99, 0, ""), models.RoleDebit, false},
		{"positive op is never a debit", newOp("o", 30, 0, ""), models.RoleDebit, false},
		{"negative op is never a credit", newOp("o", -30, 0, ""), models.RoleCredit, false},
		{"zero op matches no role", newOp("o", 0, 0, ""), models.RoleDebit, false},
		{"credit within range", newOp("o", 28, 3, ""), models.RoleCredit, true},
		{"credit on bill date", newOp("o", 30, 0, ""), models.RoleCredit, true},
		{"credit before bill date", newOp("o", 30, -1, ""), models.RoleCredit, false},
		{"credit at upper window", newOp("o", 30, 29, ""), models.RoleCredit, true},
		{"credit past upper window", newOp("o", 30, 30, ""), models.RoleCredit, false},
		{"debit at lower window", newOp("o", -30, -15, ""), models.RoleDebit, true},
		{"debit past lower window", newOp("o", -30, -16, ""), models.RoleDebit, false},
		{"unknown role", newOp("o", -30, 0, ""), models.Role("refund"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Matches(bill, tt.op, tt.role))
		})
	}
}

func TestEvaluator_MissingCriteriasNeverMatch(t *testing.T) {
	e := NewEvaluator(DefaultMatchingConfig(), nil)
	bill := newBill("b1", 30, 0, nil)
	assert.False(t, e.Matches(bill, newOp("o", -30, 0, ""), models.RoleDebit))
}

func TestEvaluator_CreditNeverBeforeBillWhateverTheWindow(t *testing.T) {
	e := NewEvaluator(RelaxedMatchingConfig(), nil)
	bill := newBill("b1", 30, 0, withDates(criterias(100, 100), 365, 365))
	assert.False(t, e.Matches(bill, newOp("o", 30, -1, ""), models.RoleCredit))
	assert.True(t, e.Matches(bill, newOp("o", -30, -300, ""), models.RoleDebit))
}

func TestEvaluator_PerBillDateDeltas(t *testing.T) {
	e := NewEvaluator(DefaultMatchingConfig(), nil)
	bill := newBill("b1", 30, 0, withDates(criterias(0, 0), 0, 2))

	assert.True(t, e.Matches(bill, newOp("o", -30, 2, ""), models.RoleDebit))
	assert.False(t, e.Matches(bill, newOp("o", -30, -1, ""), models.RoleDebit))
	assert.False(t, e.Matches(bill, newOp("o", 30, 3, ""), models.RoleCredit))
}

func TestEvaluator_OriginalAmountAndDate(t *testing.T) {
	e := NewEvaluator(DefaultMatchingConfig(), nil)
	bill := newBill("b1", 20, 40, criterias(0, 0))
	bill.OriginalAmount = decimal.NewFromInt(50)
	bill.OriginalDate = onDay(0)

	assert.True(t, e.Matches(bill, newOp("d", -50, 0, ""), models.RoleDebit))
	assert.False(t, e.Matches(bill, newOp("d", -20, 40, ""), models.RoleDebit))
	assert.True(t, e.Matches(bill, newOp("c", 20, 41, ""), models.RoleCredit))
}

func TestEvaluator_ZeroAmountBill(t *testing.T) {
	e := NewEvaluator(DefaultMatchingConfig(), nil)

	bill := newBill("b1", 0, 0, criterias(0, 0))
	assert.False(t, e.Matches(bill, newOp("o", 0, 0, ""), models.RoleDebit))
	assert.False(t, e.Matches(bill, newOp("o", -1, 0, ""), models.RoleDebit))
	assert.NotPanics(t, func() { e.Distance(bill, newOp("o", 0, 0, ""), models.RoleDebit) })

	wide := newBill("b2", 0, 0, criterias(5, 5))
	assert.True(t, e.Matches(wide, newOp("o", -3, 0, ""), models.RoleDebit))
	assert.True(t, e.Matches(wide, newOp("o", 3, 0, ""), models.RoleCredit))
}

func TestEvaluator_TimezoneIgnoreUsesRecordedDay(t *testing.T) {
	e := NewEvaluator(DefaultMatchingConfig(), nil)
	bill := newBill("b1", 30, 0, withDates(criterias(0, 0), 0, 0))

	paris := time.FixedZone("CET", 3600)
	op := models.NewOperation("o", time.Date(2017, 12, 13, 0, 30, 0, 0, paris), "", decimal.NewFromInt(-30))
	assert.True(t, e.Matches(bill, op, models.RoleDebit))

	utc := DefaultMatchingConfig()
	utc.TimezoneHandling = TimezoneUTC
	assert.False(t, NewEvaluator(utc, nil).Matches(bill, op, models.RoleDebit))
}

func TestEvaluator_RequireVendorMatch(t *testing.T) {
	config := DefaultMatchingConfig()
	config.RequireVendorMatch = true
	e := NewEvaluator(config, brands.Default())

	bill := newBill("b1", 30, 0, criterias(0, 0))
	bill.Vendor = "Ameli"

	assert.True(t, e.Matches(bill, newOp("o", 30, 3, "VIR CPAM PARIS"), models.RoleCredit))
	assert.False(t, e.Matches(bill, newOp("o", 30, 3, "VIR MUTUELLE"), models.RoleCredit))

	bill.Vendor = ""
	assert.True(t, e.Matches(bill, newOp("o", 30, 3, "VIR MUTUELLE"), models.RoleCredit))
}

func TestEvaluator_DistanceMonotonic(t *testing.T) {
	e := NewEvaluator(DefaultMatchingConfig(), nil)
	bill := newBill("b1", 30, 0, criterias(5, 5))

	exact := e.Distance(bill, newOp("o", -30, 0, ""), models.RoleDebit)
	fartherAmount := e.Distance(bill, newOp("o", -32, 0, ""), models.RoleDebit)
	evenFartherAmount := e.Distance(bill, newOp("o", -34, 0, ""), models.RoleDebit)
	fartherDate := e.Distance(bill, newOp("o", -30, 3, ""), models.RoleDebit)
	fartherDateBefore := e.Distance(bill, newOp("o", -30, -3, ""), models.RoleDebit)

	assert.Equal(t, 0.0, exact)
	assert.Less(t, exact, fartherAmount)
	assert.Less(t, fartherAmount, evenFartherAmount)
	assert.Less(t, exact, fartherDate)
	assert.InDelta(t, fartherDate, fartherDateBefore, 1e-12)

	// same inputs, same score
	assert.Equal(t, fartherAmount, e.Distance(bill, newOp("other", -32, 0, ""), models.RoleDebit))
}

func TestEvaluator_DistanceVendorTerm(t *testing.T) {
	e := NewEvaluator(DefaultMatchingConfig(), brands.Default())
	bill := newBill("b1", 30, 0, criterias(0, 0))
	bill.Vendor = "Ameli"

	agree := e.Distance(bill, newOp("o", 30, 2, "CPAM"), models.RoleCredit)
	disagree := e.Distance(bill, newOp("o", 30, 2, "OTHER"), models.RoleCredit)
	assert.InDelta(t, DefaultMatchingConfig().Weights.VendorWeight, disagree-agree, 1e-12)
}
